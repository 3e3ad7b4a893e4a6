package territory

import (
	"encoding/binary"
	"encoding/hex"
	"sort"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	"townclaims.dev/internal/sim/territory/feature/contest"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// Load replaces all in-memory state with st and repairs it: towns without a creation
// time are backdated past the minimum contest age, expired immunity is pruned,
// contests are re-indexed and clamped, and contests that can no longer run are
// resolved as EXPIRE. Claims lacking history get an EXISTING entry.
func (e *Engine) Load(st modelpkg.State, now time.Time) {
	nowMs := now.UnixMilli()
	e.reset()

	for _, t := range st.Towns {
		if t == nil || t.Owner == uuid.Nil {
			continue
		}
		t.Normalize()
		if t.CreatedAtMs <= 0 {
			t.CreatedAtMs = nowMs - e.cfg.Contest.MinTownAgeMs
			e.saveTown(t)
		}
		dropped := false
		for _, p := range t.Claims.Sorted() {
			if other, taken := e.claims[p.ID()]; taken && other != t.Owner {
				e.logf("load: cell %s claimed by both %s and %s; keeping %s", p.ID(), other, t.Owner, other)
				t.RemoveClaim(p)
				dropped = true
				continue
			}
			e.claims[p.ID()] = t.Owner
		}
		e.indexTown(t)
		if dropped {
			e.saveTown(t)
		}
	}

	for id, entries := range st.History {
		e.history[id] = append([]modelpkg.HistoryEntry(nil), entries...)
	}
	for player, s := range st.Stats {
		e.stats[player] = s
	}

	e.immunity.Replace(st.Immunity)
	if e.immunity.Prune(nowMs) > 0 {
		e.saveImmunity()
	}

	duration := e.cfg.Contest.DurationMs
	for _, c := range st.Contests {
		if c == nil || c.DefenderOwner == uuid.Nil || c.ChallengerOwner == uuid.Nil || len(c.Chunks) == 0 {
			continue
		}
		if c.ID == "" {
			c.ID = modelpkg.ContestID(c.DefenderOwner, c.ChallengerOwner, c.StartMs)
		}
		remaining := c.RemainingMs
		if remaining <= 0 {
			if c.EndMs > 0 {
				remaining = c.EndMs - nowMs
			} else {
				remaining = duration
			}
		}
		if remaining < 0 {
			remaining = 0
		}
		if remaining > duration {
			remaining = duration
		}
		c.RemainingMs = remaining
		if c.StartCost <= 0 {
			c.StartCost = max(1, c.ChunkCount())
			c.HoldEligible = true
		}
		c.Paused = !e.bothOnline(c)
		c.LastUpdatedMs = nowMs
		if e.anyContested(c.Chunks) {
			e.logf("load: contest %s overlaps another contest; dropped", c.ID)
			continue
		}
		e.indexContest(c)
	}

	for _, c := range e.sortedContests() {
		if e.towns[c.DefenderOwner] == nil || e.towns[c.ChallengerOwner] == nil || c.RemainingMs <= 0 {
			e.resolve(c, uuid.Nil, contest.KindExpire, nowMs)
		}
	}

	for _, t := range e.Towns() {
		for _, p := range t.Claims.Sorted() {
			if len(e.history[p.ID()]) == 0 {
				e.recordHistory(p, modelpkg.HistoryExisting, t, nowMs)
			}
		}
	}
}

// Export returns a deep copy of the persistent state.
func (e *Engine) Export() modelpkg.State {
	st := modelpkg.State{
		Immunity: e.immunity.Entries(),
		History:  make(map[string][]modelpkg.HistoryEntry, len(e.history)),
		Stats:    make(map[uuid.UUID]modelpkg.PlayerStats, len(e.stats)),
	}
	for _, t := range e.Towns() {
		st.Towns = append(st.Towns, t.Clone())
	}
	for _, c := range e.sortedContests() {
		st.Contests = append(st.Contests, c.Clone())
	}
	for id, entries := range e.history {
		cp := make([]modelpkg.HistoryEntry, len(entries))
		for i, h := range entries {
			cp[i] = h
			cp[i].Allies = append([]string(nil), h.Allies...)
			cp[i].Wars = append([]string(nil), h.Wars...)
		}
		st.History[id] = cp
	}
	for p, s := range e.stats {
		st.Stats[p] = s
	}
	return st
}

// StateDigest is a blake3 hash over towns, claims, contests and immunity in a
// canonical order. Two engines with equal digests behave identically.
func (e *Engine) StateDigest() string {
	h := blake3.New(32, nil)
	var tmp [8]byte
	writeStr := func(s string) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(len(s)))
		h.Write(tmp[:])
		h.Write([]byte(s))
	}
	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		h.Write(tmp[:])
	}
	writeCells := func(s modelpkg.ChunkSet) {
		writeInt(int64(len(s)))
		for _, p := range s.Sorted() {
			writeStr(p.ID())
		}
	}
	writeIDs := func(s modelpkg.IDSet) {
		writeInt(int64(len(s)))
		for _, id := range s.Sorted() {
			h.Write(id[:])
		}
	}

	for _, t := range e.Towns() {
		h.Write(t.Owner[:])
		writeStr(t.Name)
		writeStr(t.World)
		writeStr(string(t.Color))
		writeCells(t.Claims)
		writeCells(t.Capital)
		writeIDs(t.Members)
		writeIDs(t.Allies)
		writeIDs(t.Wars)
		writeInt(int64(t.BonusClaims))
		writeInt(int64(t.ContestedClaimsSpent))
		writeInt(int64(t.Kills))
		writeInt(t.CreatedAtMs)
		writeInt(int64(t.Reputation))
	}
	for _, c := range e.sortedContests() {
		writeStr(c.ID)
		writeCells(c.Chunks)
		writeInt(c.RemainingMs)
		writeInt(int64(c.StartCost))
		flags := int64(0)
		if c.Paused {
			flags |= 1
		}
		if c.HoldEligible {
			flags |= 2
		}
		if c.HoldOfflineAllowed {
			flags |= 4
		}
		writeInt(flags)
	}
	imm := e.immunity.Entries()
	keys := make([]string, 0, len(imm))
	for k := range imm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		writeStr(k)
		writeInt(imm[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}
