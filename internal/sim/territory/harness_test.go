package territory

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
)

type fakePresence struct {
	online map[uuid.UUID]bool
	cells  map[uuid.UUID]modelpkg.ChunkPos
	hours  map[uuid.UUID]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		online: map[uuid.UUID]bool{},
		cells:  map[uuid.UUID]modelpkg.ChunkPos{},
		hours:  map[uuid.UUID]int{},
	}
}

func (p *fakePresence) IsOnline(id uuid.UUID) bool { return p.online[id] }

func (p *fakePresence) CurrentCell(id uuid.UUID) (modelpkg.ChunkPos, bool) {
	c, ok := p.cells[id]
	return c, ok && p.online[id]
}

func (p *fakePresence) PlaytimeHours(id uuid.UUID) int { return p.hours[id] }

func (p *fakePresence) at(id uuid.UUID, c modelpkg.ChunkPos) {
	p.online[id] = true
	p.cells[id] = c
}

type memStore struct {
	towns    map[uuid.UUID]*modelpkg.Town
	deleted  []uuid.UUID
	contests []*modelpkg.ContestState
	immunity map[string]int64
	history  map[string][]modelpkg.HistoryEntry
	stats    map[uuid.UUID]modelpkg.PlayerStats
}

func newMemStore() *memStore {
	return &memStore{
		towns:   map[uuid.UUID]*modelpkg.Town{},
		history: map[string][]modelpkg.HistoryEntry{},
		stats:   map[uuid.UUID]modelpkg.PlayerStats{},
	}
}

func (s *memStore) SaveTown(t *modelpkg.Town) error {
	if t != nil {
		s.towns[t.Owner] = t.Clone()
	}
	return nil
}

func (s *memStore) DeleteTown(owner uuid.UUID) error {
	delete(s.towns, owner)
	s.deleted = append(s.deleted, owner)
	return nil
}

func (s *memStore) SaveContests(cs []*modelpkg.ContestState) error {
	s.contests = nil
	for _, c := range cs {
		s.contests = append(s.contests, c.Clone())
	}
	return nil
}

func (s *memStore) SaveImmunity(entries map[string]int64) error {
	s.immunity = entries
	return nil
}

func (s *memStore) SaveHistory(cellID string, entries []modelpkg.HistoryEntry) error {
	s.history[cellID] = entries
	return nil
}

func (s *memStore) SaveStats(player uuid.UUID, st modelpkg.PlayerStats) error {
	s.stats[player] = st
	return nil
}

type memNotifier struct {
	direct     map[uuid.UUID][]string
	broadcasts []string
}

func (n *memNotifier) Notify(player uuid.UUID, msg string) {
	if n.direct == nil {
		n.direct = map[uuid.UUID][]string{}
	}
	n.direct[player] = append(n.direct[player], msg)
}

func (n *memNotifier) Broadcast(msg string) { n.broadcasts = append(n.broadcasts, msg) }

type memAudit struct {
	entries []AuditEntry
}

func (m *memAudit) WriteAudit(e AuditEntry) error {
	m.entries = append(m.entries, e)
	return nil
}

func (m *memAudit) count(action string) int {
	n := 0
	for _, e := range m.entries {
		if e.Action == action {
			n++
		}
	}
	return n
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type harness struct {
	eng   *Engine
	pres  *fakePresence
	clock *testClock
	store *memStore
	notes *memNotifier
	audit *memAudit
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, mutate func(*tuning.Tuning)) *harness {
	t.Helper()
	tun := tuning.Defaults()
	if mutate != nil {
		mutate(&tun)
	}
	if err := tun.Validate(); err != nil {
		t.Fatalf("tuning: %v", err)
	}
	h := &harness{
		pres:  newFakePresence(),
		clock: &testClock{now: testEpoch},
		store: newMemStore(),
		notes: &memNotifier{},
		audit: &memAudit{},
	}
	h.eng = New(Config{
		Tuning:   tun,
		Presence: h.pres,
		Store:    h.store,
		Notifier: h.notes,
		Audit:    h.audit,
		Clock:    h.clock.Now,
	})
	return h
}

// player returns a stable id so independent harnesses produce identical state.
func player(n byte) uuid.UUID { return uuid.UUID{15: n} }

func pos(x, z int32) modelpkg.ChunkPos { return modelpkg.ChunkPos{World: "w", X: x, Z: z} }

func row(x0, x1, z int32) []modelpkg.ChunkPos {
	var out []modelpkg.ChunkPos
	for x := x0; x <= x1; x++ {
		out = append(out, pos(x, z))
	}
	return out
}

func (h *harness) town(t *testing.T, owner uuid.UUID, name string) *modelpkg.Town {
	t.Helper()
	if r := h.eng.CreateTown(owner, name, "w"); !r.OK {
		t.Fatalf("create %s: %s %s", name, r.Code, r.Message)
	}
	return h.eng.Town(owner)
}

func (h *harness) claim(t *testing.T, owner uuid.UUID, cells ...modelpkg.ChunkPos) {
	t.Helper()
	for _, c := range cells {
		if r := h.eng.Claim(owner, c, false); !r.OK {
			t.Fatalf("claim %s: %s %s", c.ID(), r.Code, r.Message)
		}
	}
}

// mature moves the clock past the minimum town age.
func (h *harness) mature() { h.clock.Advance(48 * time.Hour) }

// openContest runs the two-step confirmation and returns the new contest.
func (h *harness) openContest(t *testing.T, challenger uuid.UUID, cell modelpkg.ChunkPos) *modelpkg.ContestState {
	t.Helper()
	r := h.eng.RequestContest(challenger, cell)
	if r.OK || r.Code != protocol.ErrConfirm {
		t.Fatalf("first request: want %s, got ok=%v %s %s", protocol.ErrConfirm, r.OK, r.Code, r.Message)
	}
	r = h.eng.RequestContest(challenger, cell)
	if !r.OK {
		t.Fatalf("confirm: %s %s", r.Code, r.Message)
	}
	c := h.eng.ContestOn(cell)
	if c == nil {
		t.Fatalf("no contest indexed on %s", cell.ID())
	}
	return c
}

func (h *harness) consistent(t *testing.T) {
	t.Helper()
	if err := h.eng.ClaimIndexConsistent(); err != nil {
		t.Fatalf("index: %v", err)
	}
}

func topHistory(t *testing.T, e *Engine, c modelpkg.ChunkPos) string {
	t.Helper()
	hs := e.HistoryFor(c)
	if len(hs) == 0 {
		t.Fatalf("no history for %s", c.ID())
	}
	return hs[0].Action
}
