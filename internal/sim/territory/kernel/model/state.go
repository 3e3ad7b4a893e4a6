package model

import "github.com/google/uuid"

// State is everything the territory engine needs to rebuild itself after a restart.
type State struct {
	Towns    []*Town
	Contests []*ContestState
	Immunity map[string]int64
	History  map[string][]HistoryEntry
	Stats    map[uuid.UUID]PlayerStats
}
