// Package presence tracks which players are connected, where they stand and how long
// they have played, as last reported by the host.
package presence

import (
	"sync"

	"github.com/google/uuid"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

type entry struct {
	online        bool
	cell          modelpkg.ChunkPos
	hasCell       bool
	playtimeHours int
}

// Table is written by transport goroutines and read by the territory loop.
type Table struct {
	mu      sync.RWMutex
	players map[uuid.UUID]entry
}

func NewTable() *Table {
	return &Table{players: map[uuid.UUID]entry{}}
}

// Update records a presence report. A nil cell keeps the previous position unless the
// player went offline, in which case it is cleared.
func (t *Table) Update(player uuid.UUID, online bool, cell *modelpkg.ChunkPos, playtimeHours int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.players[player]
	e.online = online
	switch {
	case cell != nil:
		e.cell, e.hasCell = *cell, true
	case !online:
		e.cell, e.hasCell = modelpkg.ChunkPos{}, false
	}
	if playtimeHours > e.playtimeHours {
		e.playtimeHours = playtimeHours
	}
	t.players[player] = e
}

// DisconnectAll marks every player offline, e.g. when the host bridge drops.
func (t *Table) DisconnectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, e := range t.players {
		e.online = false
		e.hasCell = false
		t.players[id] = e
	}
}

func (t *Table) IsOnline(player uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.players[player].online
}

// CurrentCell is only reported for online players.
func (t *Table) CurrentCell(player uuid.UUID) (modelpkg.ChunkPos, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e := t.players[player]
	if !e.online || !e.hasCell {
		return modelpkg.ChunkPos{}, false
	}
	return e.cell, true
}

func (t *Table) PlaytimeHours(player uuid.UUID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.players[player].playtimeHours
}

func (t *Table) OnlineCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.players {
		if e.online {
			n++
		}
	}
	return n
}
