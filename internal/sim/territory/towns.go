package territory

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/contest"
	"townclaims.dev/internal/sim/territory/feature/social"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

func (e *Engine) nameTaken(name string, except uuid.UUID) bool {
	key := social.TownNameKey(name)
	for owner, t := range e.towns {
		if owner != except && social.TownNameKey(t.Name) == key {
			return true
		}
	}
	return false
}

func (e *Engine) defaultColor() modelpkg.Color {
	if c, ok := modelpkg.ParseColor(e.cfg.DefaultColor); ok {
		return c
	}
	return modelpkg.ColorGreen
}

func (e *Engine) indexTown(t *modelpkg.Town) {
	e.towns[t.Owner] = t
	e.members[t.Owner] = t
	for m := range t.Members {
		e.members[m] = t
	}
}

// CreateTown founds a town owned by actor. Names are unique case-insensitively and a
// player may belong to only one town.
func (e *Engine) CreateTown(actor uuid.UUID, name, world string) Result {
	if r, bad := badActor(actor); bad {
		return r
	}
	if ok, code, msg := social.ValidateTownName(name); !ok {
		return failResult(code, msg)
	}
	name = social.NormalizeTownName(name)
	if e.towns[actor] != nil {
		return failResult(protocol.ErrConflict, "you already own a town")
	}
	if e.members[actor] != nil {
		return failResult(protocol.ErrConflict, "you are already a member of a town")
	}
	if e.nameTaken(name, uuid.Nil) {
		return failResult(protocol.ErrConflict, fmt.Sprintf("town name taken: %s", name))
	}
	now := e.nowMs()
	t := modelpkg.NewTown(actor, name, world, e.defaultColor(), now)
	e.indexTown(t)
	e.invites.Remove(actor)
	e.saveTown(t)
	e.auditEvent(now, actor, "CREATE_TOWN", t, nil, "", nil)
	return okResult(fmt.Sprintf("created town %s", name), nil)
}

func (e *Engine) DeleteTown(actor uuid.UUID) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	e.removeTown(actor, t, modelpkg.HistoryDelete)
	return okResult("deleted your town", nil)
}

func (e *Engine) AdminDeleteTown(actor uuid.UUID, query string) Result {
	t := e.FindTown(query)
	if t == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", query))
	}
	e.removeTown(actor, t, modelpkg.HistoryAdminDelete)
	return okResult(fmt.Sprintf("deleted town %s", t.Name), nil)
}

// removeTown vacates every cell, ends the town's contests, drops it from other towns'
// relations and forgets invites that reference it.
func (e *Engine) removeTown(actor uuid.UUID, t *modelpkg.Town, action string) {
	now := e.nowMs()
	owner := t.Owner
	// Unregister first: contests resolve with no defender, so vacated cells get no immunity.
	delete(e.towns, owner)
	for _, c := range e.sortedContests() {
		if c.Involves(owner) {
			e.resolve(c, uuid.Nil, contest.KindExpire, now)
		}
	}
	cells := t.Claims.Clone()
	for _, p := range cells.Sorted() {
		delete(e.claims, p.ID())
		e.recordHistory(p, action, t, now)
	}
	delete(e.members, owner)
	for m := range t.Members {
		delete(e.members, m)
	}
	for _, other := range e.Towns() {
		_, allied := other.Allies[owner]
		_, atWar := other.Wars[owner]
		if allied || atWar {
			delete(other.Allies, owner)
			delete(other.Wars, owner)
			e.saveTown(other)
		}
	}
	e.invites.DropTown(owner)
	e.allyInvites.DropTown(owner)
	for challenger, p := range e.pending {
		if challenger == owner || p.DefenderOwner == owner {
			delete(e.pending, challenger)
		}
	}
	if e.store != nil {
		if err := e.store.DeleteTown(owner); err != nil {
			e.logf("delete town %s: %v", owner, err)
		}
	}
	e.auditEvent(now, actor, action, t, cells, "", nil)
}

func (e *Engine) Rename(actor uuid.UUID, name string) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if ok, code, msg := social.ValidateTownName(name); !ok {
		return failResult(code, msg)
	}
	name = social.NormalizeTownName(name)
	if e.nameTaken(name, actor) {
		return failResult(protocol.ErrConflict, fmt.Sprintf("town name taken: %s", name))
	}
	t.Name = name
	e.saveTown(t)
	return okResult(fmt.Sprintf("town renamed to %s", name), nil)
}

func (e *Engine) Recolor(actor uuid.UUID, color string) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	c, ok := modelpkg.ParseColor(color)
	if !ok {
		return failResult(protocol.ErrBadRequest, fmt.Sprintf("invalid color: %s", color))
	}
	t.Color = c
	e.saveTown(t)
	return okResult(fmt.Sprintf("town color set to %s", c), nil)
}

func (e *Engine) Invite(actor, target uuid.UUID) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if target == uuid.Nil || target == actor {
		return failResult(protocol.ErrInvalidTarget, "invalid player")
	}
	if e.members[target] != nil {
		return failResult(protocol.ErrConflict, "player is already in a town")
	}
	now := e.nowMs()
	e.invites.Put(target, t.Owner, now)
	expires := time.UnixMilli(now + e.cfg.Social.InviteTTLMs)
	e.notify(target, fmt.Sprintf("You were invited to join %s. The invite expires %s.",
		t.Name, humanize.RelTime(expires, time.UnixMilli(now), "ago", "from now")))
	return okResult("invite sent", nil)
}

// AcceptInvite joins the inviting town. A non-empty hint must name the same town.
func (e *Engine) AcceptInvite(actor uuid.UUID, hint string) Result {
	now := e.nowMs()
	inv, ok := e.invites.Get(actor, now)
	if !ok {
		return failResult(protocol.ErrNotFound, "you have no pending invite")
	}
	t := e.towns[inv.TownOwner]
	if t == nil {
		e.invites.Remove(actor)
		return failResult(protocol.ErrNotFound, "the inviting town no longer exists")
	}
	if e.members[actor] != nil {
		return failResult(protocol.ErrConflict, "you are already in a town")
	}
	if hint != "" {
		if match := e.FindTown(hint); match != nil && match.Owner != t.Owner {
			return failResult(protocol.ErrInvalidTarget, fmt.Sprintf("your invite is from %s", t.Name))
		}
	}
	t.Members[actor] = struct{}{}
	e.members[actor] = t
	e.invites.Remove(actor)
	e.saveTown(t)
	e.notify(t.Owner, fmt.Sprintf("%s joined your town.", actor.String()[:8]))
	return okResult(fmt.Sprintf("joined %s", t.Name), nil)
}

func (e *Engine) RemoveMember(actor, member uuid.UUID) Result {
	t := e.towns[actor]
	if t == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	if !t.Members.Has(member) {
		return failResult(protocol.ErrNotFound, "player is not a member of your town")
	}
	delete(t.Members, member)
	delete(e.members, member)
	e.saveTown(t)
	e.notify(member, fmt.Sprintf("You were removed from %s.", t.Name))
	return okResult("member removed", nil)
}

func (e *Engine) AllyInvite(actor uuid.UUID, targetQuery string) Result {
	a := e.towns[actor]
	if a == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	b := e.FindTown(targetQuery)
	if ok, code, msg := social.ValidateAllianceInvite(a, b); !ok {
		return failResult(code, msg)
	}
	e.allyInvites.Put(a.Owner, b.Owner, e.nowMs())
	e.notify(b.Owner, fmt.Sprintf("%s proposes an alliance. Accept with ally_accept %s.", a.Name, a.Name))
	return okResult(fmt.Sprintf("alliance invite sent to %s", b.Name), nil)
}

func (e *Engine) AllyAccept(actor uuid.UUID, fromQuery string) Result {
	b := e.towns[actor]
	if b == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	a := e.FindTown(fromQuery)
	if a == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", fromQuery))
	}
	if !e.allyInvites.Take(b.Owner, a.Owner, e.nowMs()) {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("no pending alliance invite from %s", a.Name))
	}
	if social.SetAllied(a, b, true) {
		e.saveTown(a)
		e.saveTown(b)
		e.broadcast(fmt.Sprintf("%s and %s are now allies.", a.Name, b.Name))
	}
	return okResult(fmt.Sprintf("allied with %s", a.Name), nil)
}

func (e *Engine) AllyRemove(actor uuid.UUID, otherQuery string) Result {
	a := e.towns[actor]
	if a == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	b := e.FindTown(otherQuery)
	if b == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", otherQuery))
	}
	if !social.SetAllied(a, b, false) {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("not allied with %s", b.Name))
	}
	e.saveTown(a)
	e.saveTown(b)
	e.broadcast(fmt.Sprintf("%s and %s are no longer allies.", a.Name, b.Name))
	return okResult(fmt.Sprintf("alliance with %s ended", b.Name), nil)
}

func (e *Engine) ToggleWar(actor uuid.UUID, targetQuery string) Result {
	a := e.towns[actor]
	if a == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	b := e.FindTown(targetQuery)
	if ok, code, msg := social.ValidateWarToggle(a, b); !ok {
		return failResult(code, msg)
	}
	atWar := social.ToggleWar(a, b)
	e.saveTown(a)
	e.saveTown(b)
	if atWar {
		e.broadcast(fmt.Sprintf("%s declared war on %s.", a.Name, b.Name))
		return okResult(fmt.Sprintf("now at war with %s", b.Name), map[string]bool{"war": true})
	}
	e.broadcast(fmt.Sprintf("%s made peace with %s.", a.Name, b.Name))
	return okResult(fmt.Sprintf("peace with %s", b.Name), map[string]bool{"war": false})
}

// AdjustBonus changes a town's admin-granted claim bonus; delta may be negative.
func (e *Engine) AdjustBonus(actor uuid.UUID, query string, delta int) Result {
	t := e.FindTown(query)
	if t == nil {
		return failResult(protocol.ErrNotFound, fmt.Sprintf("town not found: %s", query))
	}
	t.BonusClaims += delta
	e.saveTown(t)
	e.auditEvent(e.nowMs(), actor, "ADJUST_BONUS", t, nil, "", map[string]any{"delta": delta, "bonus": t.BonusClaims})
	return okResult(fmt.Sprintf("%s bonus claims now %d (limit %d)", t.Name, t.BonusClaims, e.econ.EffectiveClaimLimit(t)), nil)
}

func (e *Engine) townOldEnough(t *modelpkg.Town, nowMs int64) bool {
	if t.CreatedAtMs <= 0 {
		return true
	}
	return nowMs-t.CreatedAtMs >= e.cfg.Contest.MinTownAgeMs
}

// TownAge renders how long ago the town was founded, e.g. "3 days ago".
func (e *Engine) TownAge(t *modelpkg.Town) string {
	if t == nil || t.CreatedAtMs <= 0 {
		return "unknown"
	}
	return humanize.RelTime(time.UnixMilli(t.CreatedAtMs), e.clock(), "ago", "from now")
}
