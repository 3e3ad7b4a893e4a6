package territory

import (
	"fmt"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/contest"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

func (e *Engine) sortedContests() []*modelpkg.ContestState {
	out := make([]*modelpkg.ContestState, 0, len(e.contests))
	for _, c := range e.contests {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Contests returns the active contests ordered by remaining time, shortest first.
func (e *Engine) Contests() []*modelpkg.ContestState {
	out := e.sortedContests()
	sort.SliceStable(out, func(i, j int) bool { return out[i].RemainingMs < out[j].RemainingMs })
	return out
}

func (e *Engine) ContestOn(p modelpkg.ChunkPos) *modelpkg.ContestState { return e.contestByCell[p.ID()] }

func (e *Engine) indexContest(c *modelpkg.ContestState) {
	e.contests[c.ID] = c
	for p := range c.Chunks {
		e.contestByCell[p.ID()] = c
	}
}

func (e *Engine) ownerInside(owner uuid.UUID, c *modelpkg.ContestState) bool {
	if !e.presence.IsOnline(owner) {
		return false
	}
	p, ok := e.presence.CurrentCell(owner)
	return ok && c.Contains(p)
}

func (e *Engine) bothOnline(c *modelpkg.ContestState) bool {
	return e.presence.IsOnline(c.DefenderOwner) && e.presence.IsOnline(c.ChallengerOwner)
}

// RequestContest is the two-step entry point: the first call quotes the cost and
// records a pending confirmation; repeating it within the confirmation window opens
// the contest.
func (e *Engine) RequestContest(actor uuid.UUID, cell modelpkg.ChunkPos) Result {
	if r, bad := badActor(actor); bad {
		return r
	}
	challenger := e.towns[actor]
	if challenger == nil {
		return failResult(protocol.ErrNotFound, "you don't own a town")
	}
	defender := e.TownAt(cell)
	if defender == nil {
		return failResult(protocol.ErrInvalidTarget, "this chunk is not claimed")
	}
	if defender.Owner == challenger.Owner {
		return failResult(protocol.ErrInvalidTarget, "you cannot contest your own land")
	}
	now := e.nowMs()
	if !e.townOldEnough(challenger, now) {
		return failResult(protocol.ErrTooYoung, fmt.Sprintf("your town must be at least %s old (founded %s)",
			e.minAgeText(), e.TownAge(challenger)))
	}
	if !e.townOldEnough(defender, now) {
		return failResult(protocol.ErrTooYoung, fmt.Sprintf("%s must be at least %s old (founded %s)",
			defender.Name, e.minAgeText(), e.TownAge(defender)))
	}
	outpost := e.clusterOf(defender, cell)
	if e.anyContested(outpost) {
		return failResult(protocol.ErrContested, "this outpost is already under contest")
	}
	if remaining := e.immunity.Remaining(outpost, now); remaining > 0 {
		return failResult(protocol.ErrImmune, fmt.Sprintf("this outpost is immune for another %s", FormatRemaining(remaining)))
	}
	cost := e.econ.ContestCost(challenger, len(outpost))
	if avail := e.econ.AvailableClaims(challenger); cost > avail {
		return failResult(protocol.ErrNoResource, fmt.Sprintf("contesting costs %d claims; you have %d available", cost, avail))
	}

	quote := map[string]int{"cost": cost, "chunks": len(outpost)}
	prev, has := e.pending[actor]
	switch {
	case has && prev.Expired(now, e.cfg.Contest.ConfirmTTLMs):
		e.pending[actor] = modelpkg.PendingContest{DefenderOwner: defender.Owner, ChunkID: cell.ID(), CreatedAtMs: now}
		r := failResult(protocol.ErrConfirmLate, fmt.Sprintf("confirmation expired; repeat within %s to contest %s's outpost for %d claims",
			FormatRemaining(e.cfg.Contest.ConfirmTTLMs), defender.Name, cost))
		r.Data = quote
		return r
	case has && e.pendingMatches(prev, defender, outpost):
		delete(e.pending, actor)
		return e.StartContest(challenger, defender, outpost, cost)
	}
	e.pending[actor] = modelpkg.PendingContest{DefenderOwner: defender.Owner, ChunkID: cell.ID(), CreatedAtMs: now}
	r := failResult(protocol.ErrConfirm, fmt.Sprintf("contesting %s's outpost (%d chunks) costs %d claims permanently; repeat within %s to confirm",
		defender.Name, len(outpost), cost, FormatRemaining(e.cfg.Contest.ConfirmTTLMs)))
	r.Data = quote
	return r
}

func (e *Engine) pendingMatches(p modelpkg.PendingContest, defender *modelpkg.Town, outpost modelpkg.ChunkSet) bool {
	if p.DefenderOwner != defender.Owner {
		return false
	}
	pos, err := modelpkg.ParseChunkID(p.ChunkID)
	return err == nil && outpost.Has(pos)
}

func (e *Engine) minAgeText() string {
	return FormatRemaining(e.cfg.Contest.MinTownAgeMs)
}

// StartContest opens a contest over outpost. The cost is charged immediately and is
// never refunded.
func (e *Engine) StartContest(challenger, defender *modelpkg.Town, outpost modelpkg.ChunkSet, cost int) Result {
	if challenger == nil || defender == nil || e.towns[challenger.Owner] != challenger || e.towns[defender.Owner] != defender {
		return failResult(protocol.ErrNotFound, "town not found")
	}
	if len(outpost) == 0 {
		return failResult(protocol.ErrBadRequest, "empty outpost")
	}
	if e.anyContested(outpost) {
		return failResult(protocol.ErrContested, "this outpost is already under contest")
	}
	now := e.nowMs()
	if e.immunity.Remaining(outpost, now) > 0 {
		return failResult(protocol.ErrImmune, "this outpost is immune")
	}
	c := modelpkg.NewContest(defender.Owner, challenger.Owner, outpost, now, e.cfg.Contest.DurationMs, cost)
	if _, dup := e.contests[c.ID]; dup {
		return failResult(protocol.ErrConflict, "contest already exists")
	}
	c.HoldOfflineAllowed = e.cfg.Contest.HoldOfflineAllowed
	c.Paused = !e.bothOnline(c)
	e.indexContest(c)
	contest.ChargeOpen(challenger, c.StartCost, e.cfg.Contest.ReputationPenalty)
	e.saveTown(challenger)
	e.saveContests()
	for _, p := range outpost.Sorted() {
		e.recordHistory(p, modelpkg.HistoryContestStart, defender, now)
	}
	e.auditEvent(now, challenger.Owner, "CONTEST_START", defender, outpost, "", map[string]any{
		"contest": c.ID, "cost": c.StartCost,
	})
	e.notify(defender.Owner, fmt.Sprintf("%s is contesting your outpost (%d chunks). Kill their owner or win Rock Paper Scissors to keep it.",
		challenger.Name, len(outpost)))
	e.broadcast(fmt.Sprintf("%s has contested an outpost of %s (%d chunks).", challenger.Name, defender.Name, len(outpost)))
	return okResult(fmt.Sprintf("contest started against %s for %d claims", defender.Name, c.StartCost), map[string]any{
		"contest": c.ID, "cost": c.StartCost, "chunks": len(outpost),
	})
}

// findContest picks the contest an owner means: the one covering cell when given,
// otherwise their only contest.
func (e *Engine) findContest(owner uuid.UUID, cell *modelpkg.ChunkPos, challengerOnly bool) (*modelpkg.ContestState, Result, bool) {
	if cell != nil {
		c := e.contestByCell[cell.ID()]
		if c == nil {
			return nil, failResult(protocol.ErrNotFound, "this chunk is not under contest"), false
		}
		return c, Result{}, true
	}
	var found []*modelpkg.ContestState
	for _, c := range e.sortedContests() {
		if challengerOnly && c.ChallengerOwner != owner {
			continue
		}
		if c.Involves(owner) {
			found = append(found, c)
		}
	}
	switch len(found) {
	case 0:
		return nil, failResult(protocol.ErrNotFound, "you have no active contest"), false
	case 1:
		return found[0], Result{}, true
	}
	return nil, failResult(protocol.ErrBadRequest, "you have several contests; name a contested chunk"), false
}

// CancelContest lets the challenger withdraw. The land stays with the defender, gains
// immunity, and the spent cost is not refunded.
func (e *Engine) CancelContest(actor uuid.UUID, cell *modelpkg.ChunkPos) Result {
	c, r, ok := e.findContest(actor, cell, true)
	if !ok {
		return r
	}
	if c.ChallengerOwner != actor {
		return failResult(protocol.ErrNoPermission, "only the challenger can cancel a contest")
	}
	e.resolve(c, uuid.Nil, contest.KindCancel, e.nowMs())
	return okResult("contest canceled", nil)
}

// HandleKillEvent records the kill and resolves the earliest-ending contest between
// the two players' towns in the killer's favour, when both are town owners.
func (e *Engine) HandleKillEvent(killer, victim uuid.UUID) Result {
	if killer == uuid.Nil || victim == uuid.Nil || killer == victim {
		return failResult(protocol.ErrBadRequest, "invalid kill")
	}
	e.updateStats(killer, func(s *modelpkg.PlayerStats) { s.Kills++ })
	e.updateStats(victim, func(s *modelpkg.PlayerStats) { s.Deaths++ })
	if t := e.members[killer]; t != nil {
		t.Kills++
		e.saveTown(t)
	}

	var best *modelpkg.ContestState
	for _, c := range e.sortedContests() {
		if !c.Between(killer, victim) {
			continue
		}
		if best == nil || c.EndMs < best.EndMs {
			best = c
		}
	}
	if best == nil {
		return okResult("kill recorded", nil)
	}
	e.resolve(best, killer, contest.KindKill, e.nowMs())
	return okResult("contest resolved by kill", map[string]string{"contest": best.ID})
}

// SubmitRps records one owner's throw. Both owners must be online.
func (e *Engine) SubmitRps(actor uuid.UUID, cell *modelpkg.ChunkPos, choice string) Result {
	throw, ok := contest.ParseThrow(choice)
	if !ok {
		return failResult(protocol.ErrBadRequest, "choose rock, paper or scissors")
	}
	c, r, ok := e.findContest(actor, cell, false)
	if !ok {
		return r
	}
	if !c.Involves(actor) {
		return failResult(protocol.ErrNoPermission, "only the two town owners in the contest can play Rock Paper Scissors")
	}
	if !e.bothOnline(c) {
		return failResult(protocol.ErrOffline, "both town owners must be online to play Rock Paper Scissors")
	}
	now := e.nowMs()
	opponent := c.Opponent(actor)
	out := e.rps.Submit(c.ID, actor, opponent, throw, now)
	switch out.Status {
	case contest.RpsWaiting:
		e.notify(opponent, fmt.Sprintf("Rock Paper Scissors: %s has chosen. Answer within %s.",
			e.townLabel(actor), FormatRemaining(e.cfg.Contest.RpsTTLMs)))
		return okResult(fmt.Sprintf("you chose %s; waiting for the other owner", throw), nil)
	case contest.RpsTie:
		e.notify(opponent, fmt.Sprintf("Rock Paper Scissors tied (%s vs %s). Choose again.", out.Theirs, out.Mine))
		return okResult(fmt.Sprintf("tied (%s vs %s); choose again", out.Mine, out.Theirs), map[string]string{"outcome": "tie"})
	}
	winThrow, loseThrow := out.Mine, out.Theirs
	if out.Winner != actor {
		winThrow, loseThrow = out.Theirs, out.Mine
	}
	detail := fmt.Sprintf("%s beats %s", winThrow, loseThrow)
	if out.Winner == opponent {
		e.notify(opponent, fmt.Sprintf("You won Rock Paper Scissors (%s).", detail))
	} else {
		e.notify(opponent, fmt.Sprintf("You lost Rock Paper Scissors (%s).", detail))
	}
	e.resolve(c, out.Winner, contest.KindRps, now)
	if out.Winner == actor {
		return okResult(fmt.Sprintf("you won Rock Paper Scissors (%s)", detail), map[string]string{"outcome": "win"})
	}
	return okResult(fmt.Sprintf("you lost Rock Paper Scissors (%s)", detail), map[string]string{"outcome": "loss"})
}

// AdvanceTimers is driven by the periodic tick. It re-evaluates pause state from
// presence, counts down ticking contests, resolves finished ones and sweeps every
// short-lived record.
func (e *Engine) AdvanceTimers(now time.Time) {
	nowMs := now.UnixMilli()
	changed := false
	for _, c := range e.sortedContests() {
		if e.contests[c.ID] != c {
			continue
		}
		def, chal := e.towns[c.DefenderOwner], e.towns[c.ChallengerOwner]
		if def == nil || chal == nil {
			e.resolve(c, uuid.Nil, contest.KindExpire, nowMs)
			continue
		}
		if e.cfg.Contest.MaxAgeMs > 0 && nowMs-c.StartMs >= e.cfg.Contest.MaxAgeMs {
			e.resolve(c, uuid.Nil, contest.KindExpire, nowMs)
			continue
		}

		last := c.LastUpdatedMs
		if last <= 0 || last > nowMs {
			last = nowMs
		}
		both := e.bothOnline(c)
		inside := e.ownerInside(c.ChallengerOwner, c)
		ticking := both || (c.HoldEligible && inside && c.HoldOfflineAllowed)
		if c.Paused == ticking {
			c.Paused = !ticking
			changed = true
		}
		if c.HoldEligible && !inside {
			c.HoldEligible = false
			changed = true
			e.notify(c.ChallengerOwner, "You left the contested land. You can now only win by killing the owner or Rock Paper Scissors.")
			e.notify(c.DefenderOwner, fmt.Sprintf("%s left the contested land. The only ways to win now are a kill or Rock Paper Scissors.", chal.Name))
		}
		if ticking && nowMs > last {
			c.RemainingMs -= nowMs - last
			if c.RemainingMs < 0 {
				c.RemainingMs = 0
			}
			changed = true
		}
		c.LastUpdatedMs = nowMs

		if c.RemainingMs <= 0 {
			if c.HoldEligible && inside {
				e.resolve(c, c.ChallengerOwner, contest.KindHold, nowMs)
			} else {
				e.resolve(c, uuid.Nil, contest.KindExpire, nowMs)
			}
		}
	}
	if changed {
		e.saveContests()
	}
	e.sweep(nowMs)
}

func (e *Engine) sweep(nowMs int64) {
	for challenger, p := range e.pending {
		if p.Expired(nowMs, e.cfg.Contest.ConfirmTTLMs) {
			delete(e.pending, challenger)
		}
	}
	e.rps.Sweep(nowMs)
	e.invites.Sweep(nowMs)
	e.allyInvites.Sweep(nowMs)
	if e.immunity.Prune(nowMs) > 0 {
		e.saveImmunity()
	}
}

// resolve is the single terminal step for every contest outcome. It is a no-op for a
// contest that is no longer active, so racing triggers cannot double-apply.
func (e *Engine) resolve(c *modelpkg.ContestState, winner uuid.UUID, kind contest.Kind, nowMs int64) bool {
	if c == nil || e.contests[c.ID] != c {
		return false
	}
	e.rps.Clear(c.ID)
	delete(e.contests, c.ID)
	for p := range c.Chunks {
		if e.contestByCell[p.ID()] == c {
			delete(e.contestByCell, p.ID())
		}
	}
	def := e.towns[c.DefenderOwner]
	chal := e.towns[c.ChallengerOwner]
	n := c.ChunkCount()

	switch kind {
	case contest.KindCancel, contest.KindExpire:
		action := modelpkg.HistoryContestExpire
		if kind == contest.KindCancel {
			action = modelpkg.HistoryContestCancel
		}
		if def != nil {
			for _, p := range c.Chunks.Sorted() {
				e.recordHistory(p, action, def, nowMs)
			}
			e.immunity.Grant(c.Chunks, nowMs+e.cfg.Contest.ImmunityMs)
			e.saveTown(def)
			e.saveImmunity()
		}
		if kind == contest.KindCancel {
			e.broadcast(fmt.Sprintf("Contest canceled by %s. Land returned to %s (%d chunks).",
				e.townLabel(c.ChallengerOwner), e.townLabel(c.DefenderOwner), n))
		} else {
			e.broadcast(fmt.Sprintf("Contest expired between %s and %s (%d chunks).",
				e.townLabel(c.DefenderOwner), e.townLabel(c.ChallengerOwner), n))
		}

	case contest.KindKill, contest.KindHold, contest.KindRps:
		w := e.towns[winner]
		switch {
		case w == nil:
			// Winner's town is gone; the land simply stays where it is.
		case winner == c.DefenderOwner:
			for _, p := range c.Chunks.Sorted() {
				e.recordHistory(p, modelpkg.HistoryContestDefended, w, nowMs)
			}
			e.saveTown(w)
			if kind == contest.KindRps {
				e.broadcast(fmt.Sprintf("%s defended their outpost via Rock Paper Scissors (%d chunks).", w.Name, n))
			} else {
				e.broadcast(fmt.Sprintf("%s defended their outpost (%d chunks).", w.Name, n))
			}
		default:
			action := modelpkg.HistoryContestWin
			if kind == contest.KindHold {
				action = modelpkg.HistoryContestHold
			}
			for _, p := range c.Chunks.Sorted() {
				if owner, ok := e.claims[p.ID()]; ok && owner != c.DefenderOwner {
					continue
				}
				if def != nil {
					e.removeClaim(def, p)
				}
				e.addClaim(w, p)
				e.recordHistory(p, action, w, nowMs)
			}
			if kind == contest.KindHold && chal != nil {
				extra := c.StartCost
				if extra < 1 {
					extra = 1
				}
				chal.AddContestedClaimsSpent(extra)
				e.notify(chal.Owner, fmt.Sprintf("Holding the outpost cost an extra %d claims.", extra))
			}
			e.saveTown(def)
			e.saveTown(w)
			switch kind {
			case contest.KindHold:
				e.broadcast(fmt.Sprintf("%s won by occupying the outpost (%d chunks).", w.Name, n))
			case contest.KindRps:
				e.broadcast(fmt.Sprintf("%s won via Rock Paper Scissors (%d chunks).", w.Name, n))
			default:
				e.broadcast(fmt.Sprintf("%s won a contest over %s (%d chunks).", w.Name, e.townLabel(c.DefenderOwner), n))
			}
		}

	default:
		panic(fmt.Sprintf("territory: unhandled contest resolution %v", kind))
	}

	e.saveContests()
	details := map[string]any{"contest": c.ID, "kind": kind.String()}
	if winner != uuid.Nil {
		details["winner"] = winner.String()
	}
	e.auditEvent(nowMs, winner, "CONTEST_RESOLVE", def, c.Chunks, kind.String(), details)
	return true
}

// ImmunityRemaining reports how long the outpost containing cell stays immune.
func (e *Engine) ImmunityRemaining(cell modelpkg.ChunkPos) time.Duration {
	t := e.TownAt(cell)
	if t == nil {
		return 0
	}
	return time.Duration(e.immunity.Remaining(e.clusterOf(t, cell), e.nowMs())) * time.Millisecond
}

// ContestLines renders one line per active contest, e.g. "Alpha vs Beta (12) 42m paused".
func (e *Engine) ContestLines() []string {
	var lines []string
	for _, c := range e.Contests() {
		line := fmt.Sprintf("%s vs %s (%d) %s", e.townLabel(c.DefenderOwner), e.townLabel(c.ChallengerOwner),
			c.ChunkCount(), FormatRemaining(c.RemainingMs))
		if c.Paused {
			line += " paused"
		}
		lines = append(lines, line)
	}
	return lines
}

// FormatRemaining renders a countdown compactly: "1h5m", "3m20s", "9s"; zero is "0m".
func FormatRemaining(ms int64) string {
	if ms <= 0 {
		return "0m"
	}
	total := ms / 1000
	h, m, s := total/3600, (total%3600)/60, total%60
	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh%dm", h, m)
	case h > 0:
		if h >= 48 && h%24 == 0 {
			return humanize.Comma(h/24) + "d"
		}
		return fmt.Sprintf("%dh", h)
	case m > 0 && s > 0:
		return fmt.Sprintf("%dm%ds", m, s)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	}
	if s < 1 {
		s = 1
	}
	return fmt.Sprintf("%ds", s)
}
