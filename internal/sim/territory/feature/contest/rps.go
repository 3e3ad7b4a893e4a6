package contest

import (
	"strings"

	"github.com/google/uuid"
)

type Throw int

const (
	Rock Throw = iota + 1
	Paper
	Scissors
)

func ParseThrow(s string) (Throw, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rock":
		return Rock, true
	case "paper":
		return Paper, true
	case "scissors":
		return Scissors, true
	}
	return 0, false
}

func (t Throw) String() string {
	switch t {
	case Rock:
		return "rock"
	case Paper:
		return "paper"
	case Scissors:
		return "scissors"
	}
	return "none"
}

func (t Throw) Beats(o Throw) bool {
	return (t == Rock && o == Scissors) || (t == Paper && o == Rock) || (t == Scissors && o == Paper)
}

type RpsStatus int

const (
	RpsWaiting RpsStatus = iota + 1
	RpsTie
	RpsDecided
)

type RpsOutcome struct {
	Status RpsStatus
	// Set when Status is RpsTie or RpsDecided.
	Mine, Theirs Throw
	// Set when Status is RpsDecided.
	Winner, Loser uuid.UUID
}

type pendingRps struct {
	createdAtMs int64
	choices     map[uuid.UUID]Throw
}

// Tiebreak holds the in-flight rock/paper/scissors throws per contest id.
type Tiebreak struct {
	ttlMs   int64
	pending map[string]*pendingRps
}

func NewTiebreak(ttlMs int64) *Tiebreak {
	return &Tiebreak{ttlMs: ttlMs, pending: map[string]*pendingRps{}}
}

// Submit records owner's throw against opponent. A record older than the TTL is
// discarded first, so the submission starts a fresh pair. A decided pair is consumed.
func (tb *Tiebreak) Submit(contestID string, owner, opponent uuid.UUID, throw Throw, nowMs int64) RpsOutcome {
	p := tb.pending[contestID]
	if p == nil || p.createdAtMs+tb.ttlMs < nowMs {
		p = &pendingRps{createdAtMs: nowMs, choices: map[uuid.UUID]Throw{}}
		tb.pending[contestID] = p
	}
	if len(p.choices) == 0 {
		p.createdAtMs = nowMs
	}
	p.choices[owner] = throw

	other, ok := p.choices[opponent]
	if !ok {
		return RpsOutcome{Status: RpsWaiting, Mine: throw}
	}
	if other == throw {
		p.choices = map[uuid.UUID]Throw{}
		p.createdAtMs = nowMs
		return RpsOutcome{Status: RpsTie, Mine: throw, Theirs: other}
	}
	delete(tb.pending, contestID)
	out := RpsOutcome{Status: RpsDecided, Mine: throw, Theirs: other, Winner: opponent, Loser: owner}
	if throw.Beats(other) {
		out.Winner, out.Loser = owner, opponent
	}
	return out
}

// Waiting reports whether owner has a live throw on record for the contest.
func (tb *Tiebreak) Waiting(contestID string, owner uuid.UUID, nowMs int64) bool {
	p := tb.pending[contestID]
	if p == nil || p.createdAtMs+tb.ttlMs < nowMs {
		return false
	}
	_, ok := p.choices[owner]
	return ok
}

func (tb *Tiebreak) Clear(contestID string) {
	delete(tb.pending, contestID)
}

// Sweep drops expired records and returns how many were removed.
func (tb *Tiebreak) Sweep(nowMs int64) int {
	n := 0
	for id, p := range tb.pending {
		if p.createdAtMs+tb.ttlMs < nowMs {
			delete(tb.pending, id)
			n++
		}
	}
	return n
}
