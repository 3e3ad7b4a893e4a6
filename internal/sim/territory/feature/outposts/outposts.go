package outposts

import (
	"fmt"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/economy"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/territory/logic/cluster"
)

// Policy bounds how many disconnected outposts a town may hold.
type Policy struct {
	econ *economy.Calculator
}

func NewPolicy(econ *economy.Calculator) *Policy {
	return &Policy{econ: econ}
}

// IsOverCap only becomes true when the budget shrinks under an existing territory;
// a normal claim never causes it.
func (p *Policy) IsOverCap(t *modelpkg.Town) bool {
	if t == nil {
		return false
	}
	return cluster.IslandCount(t.Claims) > p.econ.AllowedOutposts(t)
}

// WouldExceedCap reports whether claiming cell would open a disallowed new outpost.
// Extending an existing outpost is always allowed unless the town is already over cap.
func (p *Policy) WouldExceedCap(t *modelpkg.Town, cell modelpkg.ChunkPos) bool {
	if t == nil {
		return false
	}
	allowed := p.econ.AllowedOutposts(t)
	current := cluster.IslandCount(t.Claims)
	if current > allowed {
		return true
	}
	return !cluster.IsAdjacentToAny(t.Claims, cell) && current >= allowed
}

// CheckClaim validates a claim of cell by t. owner is the current owner of cell, or nil.
func (p *Policy) CheckClaim(t *modelpkg.Town, owner *modelpkg.Town, cell modelpkg.ChunkPos, bypass bool) (ok bool, code string, msg string) {
	if t == nil {
		return false, protocol.ErrNotFound, "town not found"
	}
	if owner != nil {
		if owner.Owner == t.Owner {
			return false, protocol.ErrClaimTaken, "chunk already claimed by your town"
		}
		return false, protocol.ErrClaimTaken, fmt.Sprintf("chunk already claimed by %s", owner.Name)
	}
	if bypass {
		return true, "", ""
	}
	if limit := p.econ.EffectiveClaimLimit(t); t.ClaimCount() >= limit {
		return false, protocol.ErrClaimLimit, fmt.Sprintf("claim limit reached (%d)", limit)
	}
	if p.IsOverCap(t) {
		return false, protocol.ErrOutpostCap, fmt.Sprintf("town holds more outposts than allowed (%d)", p.econ.AllowedOutposts(t))
	}
	if p.WouldExceedCap(t, cell) {
		return false, protocol.ErrOutpostCap, fmt.Sprintf("new outpost not allowed: limit is %d outposts", p.econ.AllowedOutposts(t))
	}
	return true, "", ""
}
