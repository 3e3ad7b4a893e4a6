package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

const (
	relationAlly = "ally"
	relationWar  = "war"
)

func (s *SQLiteStore) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// SaveTown replaces the town row and its claims, members and relations.
func (s *SQLiteStore) SaveTown(t *modelpkg.Town) error {
	if t == nil {
		return nil
	}
	owner := t.Owner.String()
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO towns(owner,name,world,color,bonus_claims,contested_claims_spent,kills,created_at_ms,reputation,updated_at)
			VALUES(?,?,?,?,?,?,?,?,?,?)`,
			owner, t.Name, t.World, string(t.Color), t.BonusClaims, t.ContestedClaimsSpent, t.Kills, t.CreatedAtMs, t.Reputation, nowText()); err != nil {
			return fmt.Errorf("upsert town: %w", err)
		}
		for _, q := range []string{
			`DELETE FROM claims WHERE owner=?`,
			`DELETE FROM members WHERE owner=?`,
			`DELETE FROM relations WHERE owner=?`,
		} {
			if _, err := tx.Exec(q, owner); err != nil {
				return err
			}
		}

		claimStmt, err := tx.Prepare(`INSERT OR REPLACE INTO claims(cell_id,owner,capital) VALUES(?,?,?)`)
		if err != nil {
			return err
		}
		defer claimStmt.Close()
		for _, p := range t.Claims.Sorted() {
			if _, err := claimStmt.Exec(p.ID(), owner, boolInt(t.Capital.Has(p))); err != nil {
				return fmt.Errorf("insert claim %s: %w", p.ID(), err)
			}
		}
		for _, m := range t.Members.Sorted() {
			if _, err := tx.Exec(`INSERT OR REPLACE INTO members(player,owner) VALUES(?,?)`, m.String(), owner); err != nil {
				return err
			}
		}
		for kind, set := range map[string]modelpkg.IDSet{relationAlly: t.Allies, relationWar: t.Wars} {
			for _, other := range set.Sorted() {
				if _, err := tx.Exec(`INSERT OR REPLACE INTO relations(owner,other,kind) VALUES(?,?,?)`, owner, other.String(), kind); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *SQLiteStore) DeleteTown(owner uuid.UUID) error {
	id := owner.String()
	return s.inTx(func(tx *sql.Tx) error {
		for _, q := range []string{
			`DELETE FROM towns WHERE owner=?`,
			`DELETE FROM claims WHERE owner=?`,
			`DELETE FROM members WHERE owner=?`,
		} {
			if _, err := tx.Exec(q, id); err != nil {
				return err
			}
		}
		_, err := tx.Exec(`DELETE FROM relations WHERE owner=? OR other=?`, id, id)
		return err
	})
}

// SaveContests replaces the full set of active contests.
func (s *SQLiteStore) SaveContests(contests []*modelpkg.ContestState) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM contests`); err != nil {
			return err
		}
		stmt, err := tx.Prepare(`INSERT INTO contests(id,defender,challenger,chunks_json,start_ms,end_ms,remaining_ms,last_updated_ms,paused,hold_eligible,hold_offline_allowed,start_cost)
			VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, c := range contests {
			if c == nil {
				continue
			}
			chunks, err := json.Marshal(cellIDs(c.Chunks))
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(c.ID, c.DefenderOwner.String(), c.ChallengerOwner.String(), string(chunks),
				c.StartMs, c.EndMs, c.RemainingMs, c.LastUpdatedMs,
				boolInt(c.Paused), boolInt(c.HoldEligible), boolInt(c.HoldOfflineAllowed), c.StartCost); err != nil {
				return fmt.Errorf("insert contest %s: %w", c.ID, err)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) SaveImmunity(entries map[string]int64) error {
	return s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM immunity`); err != nil {
			return err
		}
		for id, until := range entries {
			if _, err := tx.Exec(`INSERT INTO immunity(cell_id,until_ms) VALUES(?,?)`, id, until); err != nil {
				return err
			}
		}
		return nil
	})
}

type historyRow struct {
	TimestampMs int64    `json:"ts_ms"`
	Action      string   `json:"action"`
	TownName    string   `json:"town"`
	TownOwner   string   `json:"owner,omitempty"`
	Allies      []string `json:"allies,omitempty"`
	Wars        []string `json:"wars,omitempty"`
}

func (s *SQLiteStore) SaveHistory(cellID string, entries []modelpkg.HistoryEntry) error {
	rows := make([]historyRow, 0, len(entries))
	for _, h := range entries {
		r := historyRow{TimestampMs: h.TimestampMs, Action: h.Action, TownName: h.TownName, Allies: h.Allies, Wars: h.Wars}
		if h.TownOwner != uuid.Nil {
			r.TownOwner = h.TownOwner.String()
		}
		rows = append(rows, r)
	}
	b, err := json.Marshal(rows)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`INSERT OR REPLACE INTO history(cell_id,entries_json) VALUES(?,?)`, cellID, string(b))
	return err
}

func (s *SQLiteStore) SaveStats(player uuid.UUID, st modelpkg.PlayerStats) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO player_stats(player,kills,deaths,claims) VALUES(?,?,?,?)`,
		player.String(), st.Kills, st.Deaths, st.Claims)
	return err
}

func cellIDs(s modelpkg.ChunkSet) []string {
	out := make([]string, 0, len(s))
	for _, p := range s.Sorted() {
		out = append(out, p.ID())
	}
	return out
}

// Replace wipes the territory tables and writes st, e.g. after restoring from a
// snapshot. Audit rows and snapshot records are kept.
func (s *SQLiteStore) Replace(st modelpkg.State) error {
	if err := s.inTx(func(tx *sql.Tx) error {
		for _, table := range []string{"towns", "claims", "members", "relations", "contests", "immunity", "history", "player_stats"} {
			if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	for _, t := range st.Towns {
		if err := s.SaveTown(t); err != nil {
			return err
		}
	}
	if err := s.SaveContests(st.Contests); err != nil {
		return err
	}
	if err := s.SaveImmunity(st.Immunity); err != nil {
		return err
	}
	for id, entries := range st.History {
		if err := s.SaveHistory(id, entries); err != nil {
			return err
		}
	}
	for p, ps := range st.Stats {
		if err := s.SaveStats(p, ps); err != nil {
			return err
		}
	}
	return nil
}
