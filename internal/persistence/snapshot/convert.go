package snapshot

import (
	"sort"
	"time"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// FromState flattens st into the on-disk form. Output order is deterministic.
func FromState(st modelpkg.State, digest string, takenAt time.Time) SnapshotV1 {
	snap := SnapshotV1{
		Header: Header{Version: Version, TakenMs: takenAt.UnixMilli(), Digest: digest},
	}
	for _, t := range st.Towns {
		snap.Towns = append(snap.Towns, TownV1{
			Owner:                t.Owner.String(),
			Name:                 t.Name,
			World:                t.World,
			Color:                string(t.Color),
			Claims:               cellIDs(t.Claims),
			Capital:              cellIDs(t.Capital),
			Members:              idStrings(t.Members),
			Allies:               idStrings(t.Allies),
			Wars:                 idStrings(t.Wars),
			BonusClaims:          t.BonusClaims,
			ContestedClaimsSpent: t.ContestedClaimsSpent,
			Kills:                t.Kills,
			CreatedAtMs:          t.CreatedAtMs,
			Reputation:           t.Reputation,
		})
	}
	sort.Slice(snap.Towns, func(i, j int) bool { return snap.Towns[i].Owner < snap.Towns[j].Owner })

	for _, c := range st.Contests {
		snap.Contests = append(snap.Contests, ContestV1{
			ID:                 c.ID,
			Defender:           c.DefenderOwner.String(),
			Challenger:         c.ChallengerOwner.String(),
			Chunks:             cellIDs(c.Chunks),
			StartMs:            c.StartMs,
			EndMs:              c.EndMs,
			RemainingMs:        c.RemainingMs,
			LastUpdatedMs:      c.LastUpdatedMs,
			Paused:             c.Paused,
			HoldEligible:       c.HoldEligible,
			HoldOfflineAllowed: c.HoldOfflineAllowed,
			StartCost:          c.StartCost,
		})
	}

	for _, id := range sortedKeys(st.Immunity) {
		snap.Immunity = append(snap.Immunity, ImmunityV1{Cell: id, UntilMs: st.Immunity[id]})
	}
	for _, id := range sortedKeys(st.History) {
		h := HistoryV1{Cell: id}
		for _, e := range st.History[id] {
			entry := HistoryEntryV1{TimestampMs: e.TimestampMs, Action: e.Action, TownName: e.TownName, Allies: e.Allies, Wars: e.Wars}
			if e.TownOwner != uuid.Nil {
				entry.TownOwner = e.TownOwner.String()
			}
			h.Entries = append(h.Entries, entry)
		}
		snap.History = append(snap.History, h)
	}
	for p, s := range st.Stats {
		snap.Stats = append(snap.Stats, StatsV1{Player: p.String(), Kills: s.Kills, Deaths: s.Deaths, Claims: s.Claims})
	}
	sort.Slice(snap.Stats, func(i, j int) bool { return snap.Stats[i].Player < snap.Stats[j].Player })
	return snap
}

// ToState rebuilds a model.State. Unparsable ids are skipped; the engine repairs
// the rest when the state is loaded.
func (s SnapshotV1) ToState() modelpkg.State {
	st := modelpkg.State{
		Immunity: make(map[string]int64, len(s.Immunity)),
		History:  make(map[string][]modelpkg.HistoryEntry, len(s.History)),
		Stats:    make(map[uuid.UUID]modelpkg.PlayerStats, len(s.Stats)),
	}
	for _, tv := range s.Towns {
		owner, err := uuid.Parse(tv.Owner)
		if err != nil {
			continue
		}
		t := modelpkg.NewTown(owner, tv.Name, tv.World, modelpkg.Color(tv.Color), tv.CreatedAtMs)
		t.Claims = parseCells(tv.Claims)
		t.Capital = parseCells(tv.Capital)
		t.Members = parseIDs(tv.Members)
		t.Allies = parseIDs(tv.Allies)
		t.Wars = parseIDs(tv.Wars)
		t.BonusClaims = tv.BonusClaims
		t.ContestedClaimsSpent = tv.ContestedClaimsSpent
		t.Kills = tv.Kills
		t.Reputation = tv.Reputation
		t.Normalize()
		st.Towns = append(st.Towns, t)
	}
	for _, cv := range s.Contests {
		def, err1 := uuid.Parse(cv.Defender)
		chal, err2 := uuid.Parse(cv.Challenger)
		if err1 != nil || err2 != nil {
			continue
		}
		st.Contests = append(st.Contests, &modelpkg.ContestState{
			ID:                 cv.ID,
			DefenderOwner:      def,
			ChallengerOwner:    chal,
			Chunks:             parseCells(cv.Chunks),
			StartMs:            cv.StartMs,
			EndMs:              cv.EndMs,
			RemainingMs:        cv.RemainingMs,
			LastUpdatedMs:      cv.LastUpdatedMs,
			Paused:             cv.Paused,
			HoldEligible:       cv.HoldEligible,
			HoldOfflineAllowed: cv.HoldOfflineAllowed,
			StartCost:          cv.StartCost,
		})
	}
	for _, im := range s.Immunity {
		st.Immunity[im.Cell] = im.UntilMs
	}
	for _, h := range s.History {
		entries := make([]modelpkg.HistoryEntry, 0, len(h.Entries))
		for _, e := range h.Entries {
			entry := modelpkg.HistoryEntry{TimestampMs: e.TimestampMs, Action: e.Action, TownName: e.TownName, Allies: e.Allies, Wars: e.Wars}
			if owner, err := uuid.Parse(e.TownOwner); err == nil {
				entry.TownOwner = owner
			}
			entries = append(entries, entry)
		}
		st.History[h.Cell] = entries
	}
	for _, sv := range s.Stats {
		if p, err := uuid.Parse(sv.Player); err == nil {
			st.Stats[p] = modelpkg.PlayerStats{Kills: sv.Kills, Deaths: sv.Deaths, Claims: sv.Claims}
		}
	}
	return st
}

// Counts returns the towns, claims and contests held by the snapshot.
func (s SnapshotV1) Counts() (towns, claims, contests int) {
	for _, t := range s.Towns {
		claims += len(t.Claims)
	}
	return len(s.Towns), claims, len(s.Contests)
}

func cellIDs(s modelpkg.ChunkSet) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, p := range s.Sorted() {
		out = append(out, p.ID())
	}
	return out
}

func parseCells(ids []string) modelpkg.ChunkSet {
	out := make(modelpkg.ChunkSet, len(ids))
	for _, id := range ids {
		if p, err := modelpkg.ParseChunkID(id); err == nil {
			out.Add(p)
		}
	}
	return out
}

func idStrings(s modelpkg.IDSet) []string {
	if len(s) == 0 {
		return nil
	}
	out := make([]string, 0, len(s))
	for _, id := range s.Sorted() {
		out = append(out, id.String())
	}
	return out
}

func parseIDs(ids []string) modelpkg.IDSet {
	out := make(modelpkg.IDSet, len(ids))
	for _, s := range ids {
		if id, err := uuid.Parse(s); err == nil {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
