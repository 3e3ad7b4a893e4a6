package territory

import (
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"townclaims.dev/internal/protocol"
	"townclaims.dev/internal/sim/territory/feature/contest"
	"townclaims.dev/internal/sim/territory/feature/economy"
	"townclaims.dev/internal/sim/territory/feature/outposts"
	"townclaims.dev/internal/sim/territory/feature/social"
	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
	"townclaims.dev/internal/sim/tuning"
)

// Presence is the host's view of who is connected and where they stand.
// Answers must not be cached beyond a single tick.
type Presence interface {
	IsOnline(player uuid.UUID) bool
	CurrentCell(player uuid.UUID) (modelpkg.ChunkPos, bool)
	PlaytimeHours(player uuid.UUID) int
}

// Store receives every successful mutation synchronously (write-through).
// Implemented in internal/persistence/store.
type Store interface {
	SaveTown(t *modelpkg.Town) error
	DeleteTown(owner uuid.UUID) error
	SaveContests(contests []*modelpkg.ContestState) error
	SaveImmunity(entries map[string]int64) error
	SaveHistory(cellID string, entries []modelpkg.HistoryEntry) error
	SaveStats(player uuid.UUID, stats modelpkg.PlayerStats) error
}

// Notifier delivers human-readable events to one player or everyone connected.
type Notifier interface {
	Notify(player uuid.UUID, msg string)
	Broadcast(msg string)
}

type AuditLogger interface {
	WriteAudit(entry AuditEntry) error
}

type AuditEntry struct {
	TimeMs  int64          `json:"time_ms"`
	Actor   string         `json:"actor,omitempty"`
	Action  string         `json:"action"`
	Town    string         `json:"town,omitempty"`
	Cells   []string       `json:"cells,omitempty"`
	Reason  string         `json:"reason,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Result is the outcome of one engine operation. Rejections are values, never errors.
type Result struct {
	OK      bool
	Code    string
	Message string
	Data    any
}

func okResult(msg string, data any) Result {
	return Result{OK: true, Message: msg, Data: data}
}

func failResult(code, msg string) Result {
	return Result{OK: false, Code: code, Message: msg}
}

type Config struct {
	Tuning   tuning.Tuning
	Presence Presence
	// Optional collaborators (may be nil).
	Store    Store
	Notifier Notifier
	Audit    AuditLogger
	Logger   *log.Logger
	Clock    func() time.Time
}

// Engine owns all territorial state. It is not safe for concurrent use; Runtime
// serializes access onto a single goroutine.
type Engine struct {
	cfg      tuning.Tuning
	presence Presence
	store    Store
	notifier Notifier
	audit    AuditLogger
	logger   *log.Logger
	clock    func() time.Time

	econ *economy.Calculator
	caps *outposts.Policy

	towns   map[uuid.UUID]*modelpkg.Town // by owner
	members map[uuid.UUID]*modelpkg.Town // by member, owner included
	claims  map[string]uuid.UUID         // cell id -> owner

	contests      map[string]*modelpkg.ContestState
	contestByCell map[string]*modelpkg.ContestState
	immunity      *contest.Immunity
	pending       map[uuid.UUID]modelpkg.PendingContest
	rps           *contest.Tiebreak
	invites       *social.Invites
	allyInvites   *social.AllianceInvites

	history map[string][]modelpkg.HistoryEntry
	stats   map[uuid.UUID]modelpkg.PlayerStats
}

type offlinePresence struct{}

func (offlinePresence) IsOnline(uuid.UUID) bool { return false }
func (offlinePresence) CurrentCell(uuid.UUID) (modelpkg.ChunkPos, bool) { return modelpkg.ChunkPos{}, false }
func (offlinePresence) PlaytimeHours(uuid.UUID) int { return 0 }

func New(cfg Config) *Engine {
	if cfg.Presence == nil {
		cfg.Presence = offlinePresence{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	econ := economy.NewCalculator(cfg.Tuning.Economy, cfg.Presence)
	e := &Engine{
		cfg:      cfg.Tuning,
		presence: cfg.Presence,
		store:    cfg.Store,
		notifier: cfg.Notifier,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		clock:    cfg.Clock,
		econ:     econ,
		caps:     outposts.NewPolicy(econ),
	}
	e.reset()
	return e
}

func (e *Engine) reset() {
	e.towns = map[uuid.UUID]*modelpkg.Town{}
	e.members = map[uuid.UUID]*modelpkg.Town{}
	e.claims = map[string]uuid.UUID{}
	e.contests = map[string]*modelpkg.ContestState{}
	e.contestByCell = map[string]*modelpkg.ContestState{}
	e.immunity = contest.NewImmunity()
	e.pending = map[uuid.UUID]modelpkg.PendingContest{}
	e.rps = contest.NewTiebreak(e.cfg.Contest.RpsTTLMs)
	e.invites = social.NewInvites(e.cfg.Social.InviteTTLMs)
	e.allyInvites = social.NewAllianceInvites(e.cfg.Social.AllianceInviteTTLMs)
	e.history = map[string][]modelpkg.HistoryEntry{}
	e.stats = map[uuid.UUID]modelpkg.PlayerStats{}
}

func (e *Engine) Tuning() tuning.Tuning { return e.cfg }

func (e *Engine) nowMs() int64 { return e.clock().UnixMilli() }

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func (e *Engine) notify(player uuid.UUID, msg string) {
	if e.notifier != nil && player != uuid.Nil {
		e.notifier.Notify(player, msg)
	}
}

func (e *Engine) broadcast(msg string) {
	if e.notifier != nil {
		e.notifier.Broadcast(msg)
	}
}

func (e *Engine) auditEvent(nowMs int64, actor uuid.UUID, action string, t *modelpkg.Town, cells modelpkg.ChunkSet, reason string, details map[string]any) {
	if e.audit == nil {
		return
	}
	entry := AuditEntry{TimeMs: nowMs, Action: action, Reason: reason, Details: details}
	if actor != uuid.Nil {
		entry.Actor = actor.String()
	}
	if t != nil {
		entry.Town = t.Name
	}
	for _, p := range cells.Sorted() {
		entry.Cells = append(entry.Cells, p.ID())
	}
	if err := e.audit.WriteAudit(entry); err != nil {
		e.logf("audit write failed: %v", err)
	}
}

// Persistence failures are logged and swallowed: memory stays authoritative.

func (e *Engine) saveTown(t *modelpkg.Town) {
	if e.store == nil || t == nil {
		return
	}
	if err := e.store.SaveTown(t); err != nil {
		e.logf("save town %s: %v", t.Owner, err)
	}
}

func (e *Engine) saveContests() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveContests(e.sortedContests()); err != nil {
		e.logf("save contests: %v", err)
	}
}

func (e *Engine) saveImmunity() {
	if e.store == nil {
		return
	}
	if err := e.store.SaveImmunity(e.immunity.Entries()); err != nil {
		e.logf("save immunity: %v", err)
	}
}

// Town returns the town owned by owner, or nil.
func (e *Engine) Town(owner uuid.UUID) *modelpkg.Town { return e.towns[owner] }

// TownOf returns the town player belongs to (as owner or member), or nil.
func (e *Engine) TownOf(player uuid.UUID) *modelpkg.Town { return e.members[player] }

func (e *Engine) TownAt(p modelpkg.ChunkPos) *modelpkg.Town {
	owner, ok := e.claims[p.ID()]
	if !ok {
		return nil
	}
	return e.towns[owner]
}

// Towns returns every town ordered by owner id.
func (e *Engine) Towns() []*modelpkg.Town {
	out := make([]*modelpkg.Town, 0, len(e.towns))
	for _, t := range e.towns {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Owner.String() < out[j].Owner.String() })
	return out
}

// FindTown matches a town by case-insensitive name or by owner id.
func (e *Engine) FindTown(query string) *modelpkg.Town {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil
	}
	if id, err := uuid.Parse(q); err == nil {
		if t := e.towns[id]; t != nil {
			return t
		}
	}
	key := social.TownNameKey(q)
	for _, t := range e.Towns() {
		if social.TownNameKey(t.Name) == key {
			return t
		}
	}
	return nil
}

func (e *Engine) townLabel(owner uuid.UUID) string {
	if t := e.towns[owner]; t != nil && t.Name != "" {
		return t.Name
	}
	if owner == uuid.Nil {
		return "Unknown"
	}
	return owner.String()[:8]
}

// Inspection.

func (e *Engine) EffectiveClaimLimit(owner uuid.UUID) int {
	return e.econ.EffectiveClaimLimit(e.towns[owner])
}

func (e *Engine) AllowedOutposts(owner uuid.UUID) int {
	return e.econ.AllowedOutposts(e.towns[owner])
}

func (e *Engine) AvailableClaims(owner uuid.UUID) int {
	return e.econ.AvailableClaims(e.towns[owner])
}

func (e *Engine) IslandCount(owner uuid.UUID) int {
	t := e.towns[owner]
	if t == nil {
		return 0
	}
	return len(e.outpostsOf(t))
}

// ContestCost is what challenger would pay to contest the outpost containing cell.
func (e *Engine) ContestCost(challenger uuid.UUID, cell modelpkg.ChunkPos) (int, bool) {
	def := e.TownAt(cell)
	if def == nil {
		return 0, false
	}
	size := len(e.clusterOf(def, cell))
	return e.econ.ContestCost(e.towns[challenger], size), true
}

func badActor(actor uuid.UUID) (Result, bool) {
	if actor == uuid.Nil {
		return failResult(protocol.ErrBadRequest, "missing actor"), true
	}
	return Result{}, false
}
