package territory

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// recordHistory prepends an entry for cell, keeping at most HistoryLimit entries.
func (e *Engine) recordHistory(cell modelpkg.ChunkPos, action string, t *modelpkg.Town, nowMs int64) {
	entry := modelpkg.HistoryEntry{TimestampMs: nowMs, Action: action, TownName: "Unclaimed"}
	if t != nil {
		entry.TownName = t.Name
		entry.TownOwner = t.Owner
		entry.Allies = e.relationNames(t.Allies)
		entry.Wars = e.relationNames(t.Wars)
	}
	id := cell.ID()
	list := append([]modelpkg.HistoryEntry{entry}, e.history[id]...)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	e.history[id] = list
	if e.store != nil {
		if err := e.store.SaveHistory(id, list); err != nil {
			e.logf("save history %s: %v", id, err)
		}
	}
}

func (e *Engine) relationNames(ids modelpkg.IDSet) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids.Sorted() {
		out = append(out, e.townLabel(id))
	}
	return out
}

// HistoryFor returns the ownership history of cell, newest first.
func (e *Engine) HistoryFor(cell modelpkg.ChunkPos) []modelpkg.HistoryEntry {
	src := e.history[cell.ID()]
	out := make([]modelpkg.HistoryEntry, len(src))
	copy(out, src)
	return out
}

func (e *Engine) updateStats(player uuid.UUID, fn func(s *modelpkg.PlayerStats)) {
	s := e.stats[player]
	fn(&s)
	e.stats[player] = s
	if e.store != nil {
		if err := e.store.SaveStats(player, s); err != nil {
			e.logf("save stats %s: %v", player, err)
		}
	}
}

func (e *Engine) recordClaimStat(player uuid.UUID) {
	e.updateStats(player, func(s *modelpkg.PlayerStats) { s.Claims++ })
}

func (e *Engine) PlayerStats(player uuid.UUID) modelpkg.PlayerStats { return e.stats[player] }

// TopByClaims ranks towns by claim count, then name (case-insensitive), then owner id.
func (e *Engine) TopByClaims(limit int) []*modelpkg.Town {
	return e.top(limit, func(t *modelpkg.Town) int { return t.ClaimCount() })
}

func (e *Engine) TopByKills(limit int) []*modelpkg.Town {
	return e.top(limit, func(t *modelpkg.Town) int { return t.Kills })
}

func (e *Engine) top(limit int, score func(*modelpkg.Town) int) []*modelpkg.Town {
	towns := e.Towns()
	sort.SliceStable(towns, func(i, j int) bool {
		a, b := towns[i], towns[j]
		if sa, sb := score(a), score(b); sa != sb {
			return sa > sb
		}
		if na, nb := strings.ToLower(a.Name), strings.ToLower(b.Name); na != nb {
			return na < nb
		}
		return a.Owner.String() < b.Owner.String()
	})
	if limit > 0 && len(towns) > limit {
		towns = towns[:limit]
	}
	return towns
}
