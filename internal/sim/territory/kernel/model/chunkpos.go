package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ChunkPos identifies one grid cell. It is comparable and used directly as a map key.
type ChunkPos struct {
	World string
	X     int32
	Z     int32
}

func (p ChunkPos) ID() string {
	return p.World + ":" + strconv.FormatInt(int64(p.X), 10) + ":" + strconv.FormatInt(int64(p.Z), 10)
}

func (p ChunkPos) String() string { return p.ID() }

// Neighbors returns the four edge-adjacent cells (E, W, S, N) in the same world.
func (p ChunkPos) Neighbors() [4]ChunkPos {
	return [4]ChunkPos{
		{World: p.World, X: p.X + 1, Z: p.Z},
		{World: p.World, X: p.X - 1, Z: p.Z},
		{World: p.World, X: p.X, Z: p.Z + 1},
		{World: p.World, X: p.X, Z: p.Z - 1},
	}
}

// ParseChunkID is the inverse of ChunkPos.ID. World names may contain ':'.
func ParseChunkID(id string) (ChunkPos, error) {
	zi := strings.LastIndexByte(id, ':')
	if zi <= 0 {
		return ChunkPos{}, fmt.Errorf("bad chunk id %q", id)
	}
	xi := strings.LastIndexByte(id[:zi], ':')
	if xi <= 0 {
		return ChunkPos{}, fmt.Errorf("bad chunk id %q", id)
	}
	x, err := strconv.ParseInt(id[xi+1:zi], 10, 32)
	if err != nil {
		return ChunkPos{}, fmt.Errorf("bad chunk id %q: %w", id, err)
	}
	z, err := strconv.ParseInt(id[zi+1:], 10, 32)
	if err != nil {
		return ChunkPos{}, fmt.Errorf("bad chunk id %q: %w", id, err)
	}
	return ChunkPos{World: id[:xi], X: int32(x), Z: int32(z)}, nil
}

type ChunkSet map[ChunkPos]struct{}

func NewChunkSet(cells ...ChunkPos) ChunkSet {
	s := make(ChunkSet, len(cells))
	for _, c := range cells {
		s[c] = struct{}{}
	}
	return s
}

func (s ChunkSet) Has(p ChunkPos) bool {
	_, ok := s[p]
	return ok
}

func (s ChunkSet) Add(p ChunkPos) bool {
	if _, ok := s[p]; ok {
		return false
	}
	s[p] = struct{}{}
	return true
}

func (s ChunkSet) Remove(p ChunkPos) bool {
	if _, ok := s[p]; !ok {
		return false
	}
	delete(s, p)
	return true
}

func (s ChunkSet) Clone() ChunkSet {
	out := make(ChunkSet, len(s))
	for p := range s {
		out[p] = struct{}{}
	}
	return out
}

// Sorted returns the cells ordered by world, x, z. Used wherever output must be deterministic.
func (s ChunkSet) Sorted() []ChunkPos {
	out := make([]ChunkPos, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	SortChunks(out)
	return out
}

func SortChunks(cells []ChunkPos) {
	sort.Slice(cells, func(i, j int) bool {
		a, b := cells[i], cells[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
}
