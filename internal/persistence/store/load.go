package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

// Load reads everything back into a model.State. Rows referencing unknown towns or
// unparsable ids are skipped; the engine repairs the rest on load.
func (s *SQLiteStore) Load() (modelpkg.State, error) {
	st := modelpkg.State{
		Immunity: map[string]int64{},
		History:  map[string][]modelpkg.HistoryEntry{},
		Stats:    map[uuid.UUID]modelpkg.PlayerStats{},
	}
	towns := map[uuid.UUID]*modelpkg.Town{}

	if err := s.each(`SELECT owner,name,world,color,bonus_claims,contested_claims_spent,kills,created_at_ms,reputation FROM towns ORDER BY owner`,
		func(rows *sql.Rows) error {
			var owner, name, world, color string
			t := &modelpkg.Town{}
			if err := rows.Scan(&owner, &name, &world, &color, &t.BonusClaims, &t.ContestedClaimsSpent, &t.Kills, &t.CreatedAtMs, &t.Reputation); err != nil {
				return err
			}
			id, err := uuid.Parse(owner)
			if err != nil {
				return nil
			}
			t.Owner, t.Name, t.World, t.Color = id, name, world, modelpkg.Color(color)
			t.Normalize()
			towns[id] = t
			st.Towns = append(st.Towns, t)
			return nil
		}); err != nil {
		return st, fmt.Errorf("load towns: %w", err)
	}

	if err := s.each(`SELECT cell_id,owner,capital FROM claims ORDER BY cell_id`, func(rows *sql.Rows) error {
		var cellID, owner string
		var capital int
		if err := rows.Scan(&cellID, &owner, &capital); err != nil {
			return err
		}
		t := lookupTown(towns, owner)
		p, err := modelpkg.ParseChunkID(cellID)
		if t == nil || err != nil {
			return nil
		}
		t.Claims.Add(p)
		if capital != 0 {
			t.Capital.Add(p)
		}
		return nil
	}); err != nil {
		return st, fmt.Errorf("load claims: %w", err)
	}

	if err := s.each(`SELECT player,owner FROM members`, func(rows *sql.Rows) error {
		var player, owner string
		if err := rows.Scan(&player, &owner); err != nil {
			return err
		}
		t := lookupTown(towns, owner)
		id, err := uuid.Parse(player)
		if t == nil || err != nil || id == t.Owner {
			return nil
		}
		t.Members[id] = struct{}{}
		return nil
	}); err != nil {
		return st, fmt.Errorf("load members: %w", err)
	}

	if err := s.each(`SELECT owner,other,kind FROM relations`, func(rows *sql.Rows) error {
		var owner, other, kind string
		if err := rows.Scan(&owner, &other, &kind); err != nil {
			return err
		}
		t := lookupTown(towns, owner)
		id, err := uuid.Parse(other)
		if t == nil || err != nil || towns[id] == nil {
			return nil
		}
		switch kind {
		case relationAlly:
			t.Allies[id] = struct{}{}
		case relationWar:
			t.Wars[id] = struct{}{}
		}
		return nil
	}); err != nil {
		return st, fmt.Errorf("load relations: %w", err)
	}

	if err := s.each(`SELECT id,defender,challenger,chunks_json,start_ms,end_ms,remaining_ms,last_updated_ms,paused,hold_eligible,hold_offline_allowed,start_cost FROM contests ORDER BY id`,
		func(rows *sql.Rows) error {
			var (
				c                      modelpkg.ContestState
				def, chal, chunksJSON  string
				paused, hold, holdOffl int
			)
			if err := rows.Scan(&c.ID, &def, &chal, &chunksJSON, &c.StartMs, &c.EndMs, &c.RemainingMs, &c.LastUpdatedMs,
				&paused, &hold, &holdOffl, &c.StartCost); err != nil {
				return err
			}
			var err1, err2 error
			c.DefenderOwner, err1 = uuid.Parse(def)
			c.ChallengerOwner, err2 = uuid.Parse(chal)
			if err1 != nil || err2 != nil {
				return nil
			}
			var ids []string
			if err := json.Unmarshal([]byte(chunksJSON), &ids); err != nil {
				return nil
			}
			c.Chunks = modelpkg.ChunkSet{}
			for _, id := range ids {
				if p, err := modelpkg.ParseChunkID(id); err == nil {
					c.Chunks.Add(p)
				}
			}
			c.Paused, c.HoldEligible, c.HoldOfflineAllowed = paused != 0, hold != 0, holdOffl != 0
			st.Contests = append(st.Contests, &c)
			return nil
		}); err != nil {
		return st, fmt.Errorf("load contests: %w", err)
	}

	if err := s.each(`SELECT cell_id,until_ms FROM immunity`, func(rows *sql.Rows) error {
		var id string
		var until int64
		if err := rows.Scan(&id, &until); err != nil {
			return err
		}
		st.Immunity[id] = until
		return nil
	}); err != nil {
		return st, fmt.Errorf("load immunity: %w", err)
	}

	if err := s.each(`SELECT cell_id,entries_json FROM history`, func(rows *sql.Rows) error {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		var hs []historyRow
		if err := json.Unmarshal([]byte(raw), &hs); err != nil {
			return nil
		}
		entries := make([]modelpkg.HistoryEntry, 0, len(hs))
		for _, h := range hs {
			e := modelpkg.HistoryEntry{TimestampMs: h.TimestampMs, Action: h.Action, TownName: h.TownName, Allies: h.Allies, Wars: h.Wars}
			if owner, err := uuid.Parse(h.TownOwner); err == nil {
				e.TownOwner = owner
			}
			entries = append(entries, e)
		}
		st.History[id] = entries
		return nil
	}); err != nil {
		return st, fmt.Errorf("load history: %w", err)
	}

	if err := s.each(`SELECT player,kills,deaths,claims FROM player_stats`, func(rows *sql.Rows) error {
		var player string
		var ps modelpkg.PlayerStats
		if err := rows.Scan(&player, &ps.Kills, &ps.Deaths, &ps.Claims); err != nil {
			return err
		}
		if id, err := uuid.Parse(player); err == nil {
			st.Stats[id] = ps
		}
		return nil
	}); err != nil {
		return st, fmt.Errorf("load stats: %w", err)
	}
	return st, nil
}

func (s *SQLiteStore) each(query string, fn func(rows *sql.Rows) error) error {
	rows, err := s.db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func lookupTown(towns map[uuid.UUID]*modelpkg.Town, owner string) *modelpkg.Town {
	id, err := uuid.Parse(owner)
	if err != nil {
		return nil
	}
	return towns[id]
}
