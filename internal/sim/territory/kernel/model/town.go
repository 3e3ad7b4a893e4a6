package model

import (
	"sort"

	"github.com/google/uuid"
)

const (
	ReputationMin = -10
	ReputationMax = 10
)

type IDSet map[uuid.UUID]struct{}

func (s IDSet) Has(id uuid.UUID) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Sorted() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Town is the territorial entity. Claims and Capital are only mutated through
// the territory engine so the claim index stays in lock-step.
type Town struct {
	Owner uuid.UUID
	Name  string
	World string
	Color Color

	Claims  ChunkSet
	Capital ChunkSet
	Members IDSet // excludes the owner
	Allies  IDSet
	Wars    IDSet

	BonusClaims          int
	ContestedClaimsSpent int
	Kills                int
	CreatedAtMs          int64
	Reputation           int
}

func NewTown(owner uuid.UUID, name, world string, color Color, createdAtMs int64) *Town {
	return &Town{
		Owner:       owner,
		Name:        name,
		World:       world,
		Color:       color,
		Claims:      ChunkSet{},
		Capital:     ChunkSet{},
		Members:     IDSet{},
		Allies:      IDSet{},
		Wars:        IDSet{},
		CreatedAtMs: createdAtMs,
		Reputation:  ReputationMax,
	}
}

// Normalize replaces nil collections, e.g. after decoding an older record.
func (t *Town) Normalize() {
	if t.Claims == nil {
		t.Claims = ChunkSet{}
	}
	if t.Capital == nil {
		t.Capital = ChunkSet{}
	}
	if t.Members == nil {
		t.Members = IDSet{}
	}
	if t.Allies == nil {
		t.Allies = IDSet{}
	}
	if t.Wars == nil {
		t.Wars = IDSet{}
	}
	if t.ContestedClaimsSpent < 0 {
		t.ContestedClaimsSpent = 0
	}
	t.Reputation = ClampReputation(t.Reputation)
	for p := range t.Capital {
		if !t.Claims.Has(p) {
			delete(t.Capital, p)
		}
	}
}

func (t *Town) ClaimCount() int { return len(t.Claims) }

func (t *Town) Owns(p ChunkPos) bool { return t.Claims.Has(p) }

func (t *Town) IsMember(id uuid.UUID) bool {
	return id == t.Owner || t.Members.Has(id)
}

func (t *Town) AddClaim(p ChunkPos) bool { return t.Claims.Add(p) }

// RemoveClaim also drops the cell from the capital subset.
func (t *Town) RemoveClaim(p ChunkPos) bool {
	delete(t.Capital, p)
	return t.Claims.Remove(p)
}

func (t *Town) AddContestedClaimsSpent(n int) {
	if n <= 0 {
		return
	}
	t.ContestedClaimsSpent += n
}

func (t *Town) AddReputation(delta int) {
	t.Reputation = ClampReputation(t.Reputation + delta)
}

func ClampReputation(r int) int {
	if r < ReputationMin {
		return ReputationMin
	}
	if r > ReputationMax {
		return ReputationMax
	}
	return r
}

func (s IDSet) Clone() IDSet {
	out := make(IDSet, len(s))
	for id := range s {
		out[id] = struct{}{}
	}
	return out
}

// Clone returns a deep copy safe to hand to another goroutine.
func (t *Town) Clone() *Town {
	if t == nil {
		return nil
	}
	c := *t
	c.Claims = t.Claims.Clone()
	c.Capital = t.Capital.Clone()
	c.Members = t.Members.Clone()
	c.Allies = t.Allies.Clone()
	c.Wars = t.Wars.Clone()
	return &c
}
