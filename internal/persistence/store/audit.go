package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"townclaims.dev/internal/sim/territory"
)

// WriteAudit queues an audit row for the indexer. It never blocks the engine: when
// the indexer falls behind the entry is dropped; the JSONL audit log stays complete.
func (s *SQLiteStore) WriteAudit(entry territory.AuditEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.audits <- entry:
	default:
	}
	return nil
}

func (s *SQLiteStore) auditLoop() {
	ctx := context.Background()
	insert, _ := s.db.Prepare(`INSERT OR REPLACE INTO audits(time_ms,seq,actor,action,town,cells,reason,raw_json) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insert != nil {
			_ = insert.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second

		lastTime int64
		seq      int
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for a := range s.audits {
		begin()
		if tx == nil || insert == nil {
			continue
		}
		if a.TimeMs != lastTime {
			lastTime = a.TimeMs
			seq = 0
		}
		raw, _ := json.Marshal(a)
		if _, err := tx.Stmt(insert).Exec(a.TimeMs, seq, a.Actor, a.Action, a.Town, len(a.Cells), a.Reason, string(raw)); err != nil {
			_ = tx.Rollback()
			tx = nil
			continue
		}
		seq++
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait || len(s.audits) == 0 {
			commit()
		}
	}
	commit()
}
