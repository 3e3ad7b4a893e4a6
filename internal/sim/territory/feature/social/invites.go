package social

import (
	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// Invites holds at most one pending town invite per invited player; a newer invite replaces an older one.
type Invites struct {
	ttlMs   int64
	pending map[uuid.UUID]modelpkg.TownInvite
}

func NewInvites(ttlMs int64) *Invites {
	return &Invites{ttlMs: ttlMs, pending: map[uuid.UUID]modelpkg.TownInvite{}}
}

func (iv *Invites) Put(player, townOwner uuid.UUID, nowMs int64) {
	iv.pending[player] = modelpkg.TownInvite{TownOwner: townOwner, CreatedAtMs: nowMs}
}

// Get returns the live invite for player. An expired invite is removed.
func (iv *Invites) Get(player uuid.UUID, nowMs int64) (modelpkg.TownInvite, bool) {
	inv, ok := iv.pending[player]
	if !ok {
		return modelpkg.TownInvite{}, false
	}
	if inv.Expired(nowMs, iv.ttlMs) {
		delete(iv.pending, player)
		return modelpkg.TownInvite{}, false
	}
	return inv, true
}

func (iv *Invites) Remove(player uuid.UUID) { delete(iv.pending, player) }

// DropTown removes every invite issued by townOwner.
func (iv *Invites) DropTown(townOwner uuid.UUID) {
	for p, inv := range iv.pending {
		if inv.TownOwner == townOwner {
			delete(iv.pending, p)
		}
	}
}

func (iv *Invites) Sweep(nowMs int64) int {
	n := 0
	for p, inv := range iv.pending {
		if inv.Expired(nowMs, iv.ttlMs) {
			delete(iv.pending, p)
			n++
		}
	}
	return n
}

func (iv *Invites) Len() int { return len(iv.pending) }

// AllianceInvites is keyed by the invited town owner.
type AllianceInvites struct {
	ttlMs   int64
	pending map[uuid.UUID]modelpkg.AllianceInvite
}

func NewAllianceInvites(ttlMs int64) *AllianceInvites {
	return &AllianceInvites{ttlMs: ttlMs, pending: map[uuid.UUID]modelpkg.AllianceInvite{}}
}

func (ai *AllianceInvites) Put(from, to uuid.UUID, nowMs int64) {
	ai.pending[to] = modelpkg.AllianceInvite{FromOwner: from, ToOwner: to, CreatedAtMs: nowMs}
}

// Take consumes the live invite from -> to. Expired or mismatched invites yield false;
// an expired one is removed.
func (ai *AllianceInvites) Take(to, from uuid.UUID, nowMs int64) bool {
	inv, ok := ai.pending[to]
	if !ok || inv.FromOwner != from {
		return false
	}
	delete(ai.pending, to)
	return !inv.Expired(nowMs, ai.ttlMs)
}

func (ai *AllianceInvites) DropTown(owner uuid.UUID) {
	for to, inv := range ai.pending {
		if inv.FromOwner == owner || inv.ToOwner == owner {
			delete(ai.pending, to)
		}
	}
}

func (ai *AllianceInvites) Sweep(nowMs int64) int {
	n := 0
	for to, inv := range ai.pending {
		if inv.Expired(nowMs, ai.ttlMs) {
			delete(ai.pending, to)
			n++
		}
	}
	return n
}

func (ai *AllianceInvites) Len() int { return len(ai.pending) }
