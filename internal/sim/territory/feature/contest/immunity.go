package contest

import modelpkg "townclaims.dev/internal/sim/territory/kernel/model"

// Immunity maps chunk ids to the unix-ms time their post-contest protection ends.
// Immune cells cannot be targeted by a new contest; claiming and unclaiming are unaffected.
type Immunity struct {
	until map[string]int64
}

func NewImmunity() *Immunity {
	return &Immunity{until: map[string]int64{}}
}

func (im *Immunity) Grant(cells modelpkg.ChunkSet, untilMs int64) {
	for p := range cells {
		if cur, ok := im.until[p.ID()]; !ok || cur < untilMs {
			im.until[p.ID()] = untilMs
		}
	}
}

// Remaining returns the longest protection left on any of cells, pruning expired entries it meets.
func (im *Immunity) Remaining(cells modelpkg.ChunkSet, nowMs int64) int64 {
	var remaining int64
	for p := range cells {
		id := p.ID()
		until, ok := im.until[id]
		if !ok {
			continue
		}
		if until <= nowMs {
			delete(im.until, id)
			continue
		}
		if r := until - nowMs; r > remaining {
			remaining = r
		}
	}
	return remaining
}

func (im *Immunity) IsImmune(p modelpkg.ChunkPos, nowMs int64) bool {
	return im.Remaining(modelpkg.NewChunkSet(p), nowMs) > 0
}

func (im *Immunity) Prune(nowMs int64) int {
	n := 0
	for id, until := range im.until {
		if until <= nowMs {
			delete(im.until, id)
			n++
		}
	}
	return n
}

func (im *Immunity) Len() int { return len(im.until) }

// Entries returns a copy suitable for persistence.
func (im *Immunity) Entries() map[string]int64 {
	out := make(map[string]int64, len(im.until))
	for id, until := range im.until {
		out[id] = until
	}
	return out
}

func (im *Immunity) Replace(entries map[string]int64) {
	im.until = make(map[string]int64, len(entries))
	for id, until := range entries {
		im.until[id] = until
	}
}
