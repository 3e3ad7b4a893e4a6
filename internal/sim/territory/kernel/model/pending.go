package model

import "github.com/google/uuid"

// PendingContest is the first half of the two-step contest request.
type PendingContest struct {
	DefenderOwner uuid.UUID
	ChunkID       string
	CreatedAtMs   int64
}

func (p PendingContest) Expired(nowMs, ttlMs int64) bool {
	return p.CreatedAtMs+ttlMs < nowMs
}

type TownInvite struct {
	TownOwner   uuid.UUID
	CreatedAtMs int64
}

func (i TownInvite) Expired(nowMs, ttlMs int64) bool {
	return nowMs-i.CreatedAtMs > ttlMs
}

type AllianceInvite struct {
	FromOwner   uuid.UUID
	ToOwner     uuid.UUID
	CreatedAtMs int64
}

func (i AllianceInvite) Expired(nowMs, ttlMs int64) bool {
	return nowMs-i.CreatedAtMs > ttlMs
}
