package model

import (
	"strconv"

	"github.com/google/uuid"
)

// ContestState is one active contest over a frozen outpost cluster.
type ContestState struct {
	ID              string
	DefenderOwner   uuid.UUID
	ChallengerOwner uuid.UUID
	Chunks          ChunkSet

	StartMs       int64
	EndMs         int64
	RemainingMs   int64
	LastUpdatedMs int64

	Paused             bool
	HoldEligible       bool
	HoldOfflineAllowed bool
	StartCost          int
}

func ContestID(defender, challenger uuid.UUID, startMs int64) string {
	return defender.String() + ":" + challenger.String() + ":" + strconv.FormatInt(startMs, 10)
}

func NewContest(defender, challenger uuid.UUID, chunks ChunkSet, startMs int64, durationMs int64, cost int) *ContestState {
	if cost < 1 {
		cost = 1
	}
	if durationMs < 0 {
		durationMs = 0
	}
	return &ContestState{
		ID:              ContestID(defender, challenger, startMs),
		DefenderOwner:   defender,
		ChallengerOwner: challenger,
		Chunks:          chunks.Clone(),
		StartMs:         startMs,
		EndMs:           startMs + durationMs,
		RemainingMs:     durationMs,
		LastUpdatedMs:   startMs,
		HoldEligible:    true,
		StartCost:       cost,
	}
}

func (c *ContestState) Contains(p ChunkPos) bool { return c.Chunks.Has(p) }

func (c *ContestState) ChunkCount() int { return len(c.Chunks) }

func (c *ContestState) Involves(owner uuid.UUID) bool {
	return c.DefenderOwner == owner || c.ChallengerOwner == owner
}

// Between reports whether the contest is between a and b in either role.
func (c *ContestState) Between(a, b uuid.UUID) bool {
	return (c.DefenderOwner == a && c.ChallengerOwner == b) || (c.DefenderOwner == b && c.ChallengerOwner == a)
}

// Opponent returns the other party, or uuid.Nil if owner is not involved.
func (c *ContestState) Opponent(owner uuid.UUID) uuid.UUID {
	switch owner {
	case c.DefenderOwner:
		return c.ChallengerOwner
	case c.ChallengerOwner:
		return c.DefenderOwner
	}
	return uuid.Nil
}

func (c *ContestState) Clone() *ContestState {
	if c == nil {
		return nil
	}
	out := *c
	out.Chunks = c.Chunks.Clone()
	return &out
}
