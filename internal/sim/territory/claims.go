package territory

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/contest"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/territory/logic/cluster"
)

// addClaim and removeClaim are the only writers of the claim index; they keep
// Town.Claims and e.claims in lock-step.
func (e *Engine) addClaim(t *modelpkg.Town, p modelpkg.ChunkPos) {
	t.AddClaim(p)
	e.claims[p.ID()] = t.Owner
}

func (e *Engine) removeClaim(t *modelpkg.Town, p modelpkg.ChunkPos) {
	t.RemoveClaim(p)
	if owner, ok := e.claims[p.ID()]; ok && owner == t.Owner {
		delete(e.claims, p.ID())
	}
}

func (e *Engine) clusterOf(t *modelpkg.Town, p modelpkg.ChunkPos) modelpkg.ChunkSet {
	return cluster.ClusterContaining(t.Claims, p)
}

func (e *Engine) outpostsOf(t *modelpkg.Town) []modelpkg.ChunkSet {
	return cluster.Clusters(t.Claims)
}

func (e *Engine) IsContested(p modelpkg.ChunkPos) bool {
	_, ok := e.contestByCell[p.ID()]
	return ok
}

func (e *Engine) anyContested(cells modelpkg.ChunkSet) bool {
	for p := range cells {
		if e.IsContested(p) {
			return true
		}
	}
	return false
}

func validCell(p modelpkg.ChunkPos) (Result, bool) {
	if p.World == "" {
		return failResult(protocol.ErrBadRequest, "missing world"), true
	}
	return Result{}, false
}

// Claim adds cell to the actor's town. bypass skips the claim limit and the outpost cap
// (admins); an already-claimed cell is never taken.
func (e *Engine) Claim(actor uuid.UUID, cell modelpkg.ChunkPos, bypass bool) Result {
	if r, bad := badActor(actor); bad {
		return r
	}
	if r, bad := validCell(cell); bad {
		return r
	}
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if ok, code, msg := e.caps.CheckClaim(t, e.TownAt(cell), cell, bypass); !ok {
		return failResult(code, msg)
	}
	now := e.nowMs()
	e.addClaim(t, cell)
	e.recordClaimStat(actor)
	e.recordHistory(cell, modelpkg.HistoryClaim, t, now)
	e.saveTown(t)
	e.auditEvent(now, actor, "CLAIM", t, modelpkg.NewChunkSet(cell), "", nil)
	return okResult(fmt.Sprintf("claimed chunk at (%d, %d)", cell.X, cell.Z), map[string]int{
		"claims": t.ClaimCount(),
		"limit":  e.econ.EffectiveClaimLimit(t),
	})
}

// Unclaim fails while the cell is under contest.
func (e *Engine) Unclaim(actor uuid.UUID, cell modelpkg.ChunkPos) Result {
	if r, bad := badActor(actor); bad {
		return r
	}
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if !t.Owns(cell) {
		return failResult(protocol.ErrNoPermission, "this chunk is not part of your town")
	}
	if e.IsContested(cell) {
		return failResult(protocol.ErrContested, "this chunk is under contest")
	}
	now := e.nowMs()
	e.removeClaim(t, cell)
	e.recordHistory(cell, modelpkg.HistoryUnclaim, t, now)
	e.saveTown(t)
	e.auditEvent(now, actor, "UNCLAIM", t, modelpkg.NewChunkSet(cell), "", nil)
	return okResult(fmt.Sprintf("unclaimed chunk at (%d, %d)", cell.X, cell.Z), nil)
}

// ForceUnclaim removes cell from whichever town owns it. A contest covering the cell
// is resolved as EXPIRE first.
func (e *Engine) ForceUnclaim(actor uuid.UUID, cell modelpkg.ChunkPos) Result {
	now := e.nowMs()
	if c := e.contestByCell[cell.ID()]; c != nil {
		e.resolve(c, uuid.Nil, contest.KindExpire, now)
	}
	t := e.TownAt(cell)
	if t == nil {
		return failResult(protocol.ErrNotFound, "chunk is not claimed")
	}
	e.removeClaim(t, cell)
	e.recordHistory(cell, modelpkg.HistoryForceUnclaim, t, now)
	e.saveTown(t)
	e.auditEvent(now, actor, "FORCE_UNCLAIM", t, modelpkg.NewChunkSet(cell), "", nil)
	return okResult(fmt.Sprintf("force-unclaimed chunk at (%d, %d) from %s", cell.X, cell.Z, t.Name), nil)
}

// SetCapital marks the outpost containing cell as the town's capital.
func (e *Engine) SetCapital(actor uuid.UUID, cell modelpkg.ChunkPos) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if !t.Owns(cell) {
		return failResult(protocol.ErrInvalidTarget, "this chunk is not part of your town")
	}
	t.Capital = e.clusterOf(t, cell)
	e.saveTown(t)
	return okResult(fmt.Sprintf("capital set (%d chunks)", len(t.Capital)), nil)
}

// TransferOutpost hands the whole outpost containing cell to another town. It is
// all-or-nothing and refused while any cell of the outpost is contested.
func (e *Engine) TransferOutpost(actor uuid.UUID, cell modelpkg.ChunkPos, toQuery string) Result {
	from := e.towns[actor]
	if from == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if !from.Owns(cell) {
		return failResult(protocol.ErrInvalidTarget, "this chunk is not part of your town")
	}
	to := e.FindTown(toQuery)
	if to == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", toQuery))
	}
	if to.Owner == from.Owner {
		return failResult(protocol.ErrInvalidTarget, "cannot transfer to your own town")
	}
	outpost := e.clusterOf(from, cell)
	if e.anyContested(outpost) {
		return failResult(protocol.ErrContested, "this outpost is under contest")
	}
	now := e.nowMs()
	for _, p := range outpost.Sorted() {
		e.removeClaim(from, p)
		e.addClaim(to, p)
		e.recordHistory(p, modelpkg.HistoryTransfer, to, now)
	}
	e.saveTown(from)
	e.saveTown(to)
	e.auditEvent(now, actor, "TRANSFER", to, outpost, "", map[string]any{"from": from.Name})
	e.notify(to.Owner, fmt.Sprintf("%s transferred an outpost of %d chunks to your town.", from.Name, len(outpost)))
	return okResult(fmt.Sprintf("transferred %d chunks to %s", len(outpost), to.Name), map[string]int{"chunks": len(outpost)})
}

type TrimResult struct {
	Clusters int `json:"clusters"`
	Chunks   int `json:"chunks"`
}

// TrimSmallestOutposts unclaims the n smallest outposts of a town. Contested cells are kept.
func (e *Engine) TrimSmallestOutposts(actor uuid.UUID, query string, n int) Result {
	t := e.FindTown(query)
	if t == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", query))
	}
	if n <= 0 {
		return failResult(protocol.ErrBadRequest, "count must be positive")
	}
	clusters := e.outpostsOf(t)
	sort.SliceStable(clusters, func(i, j int) bool { return len(clusters[i]) < len(clusters[j]) })

	now := e.nowMs()
	var res TrimResult
	removed := modelpkg.ChunkSet{}
	for _, c := range clusters {
		if res.Clusters >= n {
			break
		}
		for _, p := range c.Sorted() {
			if e.IsContested(p) {
				continue
			}
			e.removeClaim(t, p)
			e.recordHistory(p, modelpkg.HistoryUnclaim, t, now)
			removed.Add(p)
			res.Chunks++
		}
		res.Clusters++
	}
	if res.Chunks > 0 {
		e.saveTown(t)
		e.auditEvent(now, actor, "TRIM_OUTPOSTS", t, removed, "", nil)
	}
	return okResult(fmt.Sprintf("removed %d outposts (%d chunks) from %s", res.Clusters, res.Chunks, t.Name), res)
}

// ClaimIndexConsistent verifies that every town claim is indexed to that town and
// every index entry is backed by a town claim.
func (e *Engine) ClaimIndexConsistent() error {
	n := 0
	for owner, t := range e.towns {
		for p := range t.Claims {
			got, ok := e.claims[p.ID()]
			if !ok || got != owner {
				return fmt.Errorf("cell %s owned by %s but indexed to %v", p.ID(), owner, got)
			}
			n++
		}
		for p := range t.Capital {
			if !t.Claims.Has(p) {
				return fmt.Errorf("capital cell %s not claimed by %s", p.ID(), owner)
			}
		}
	}
	if n != len(e.claims) {
		return fmt.Errorf("index has %d cells, towns hold %d", len(e.claims), n)
	}
	seen := map[string]string{}
	for id, c := range e.contests {
		for p := range c.Chunks {
			if other, dup := seen[p.ID()]; dup {
				return fmt.Errorf("cell %s in contests %s and %s", p.ID(), other, id)
			}
			seen[p.ID()] = id
			if e.contestByCell[p.ID()] != c {
				return fmt.Errorf("cell %s not indexed to contest %s", p.ID(), id)
			}
		}
	}
	if len(seen) != len(e.contestByCell) {
		return fmt.Errorf("contest index has %d cells, contests hold %d", len(e.contestByCell), len(seen))
	}
	return nil
}
