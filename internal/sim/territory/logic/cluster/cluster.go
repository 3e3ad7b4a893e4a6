// Package cluster partitions a claim set into outposts: maximal groups of cells
// connected through N/E/S/W neighbours within the same world.
//
// All functions are pure and use an explicit stack, so very large territories do
// not grow the goroutine stack.
package cluster

import (
	"sort"

	modelpkg "townclaims.dev/internal/sim/territory/kernel/model"
)

func IslandCount(claims modelpkg.ChunkSet) int {
	if len(claims) == 0 {
		return 0
	}
	visited := make(modelpkg.ChunkSet, len(claims))
	islands := 0
	for start := range claims {
		if visited.Has(start) {
			continue
		}
		islands++
		flood(claims, start, visited, nil)
	}
	return islands
}

// Clusters returns every outpost, largest first; ties are broken by the smallest cell
// so the order is deterministic.
func Clusters(claims modelpkg.ChunkSet) []modelpkg.ChunkSet {
	if len(claims) == 0 {
		return nil
	}
	visited := make(modelpkg.ChunkSet, len(claims))
	var out []modelpkg.ChunkSet
	for _, start := range claims.Sorted() {
		if visited.Has(start) {
			continue
		}
		c := modelpkg.ChunkSet{}
		flood(claims, start, visited, c)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// ClusterContaining returns the outpost holding start, or an empty set when start
// is not part of claims.
func ClusterContaining(claims modelpkg.ChunkSet, start modelpkg.ChunkPos) modelpkg.ChunkSet {
	c := modelpkg.ChunkSet{}
	if !claims.Has(start) {
		return c
	}
	flood(claims, start, modelpkg.ChunkSet{}, c)
	return c
}

func IsAdjacentToAny(claims modelpkg.ChunkSet, pos modelpkg.ChunkPos) bool {
	if len(claims) == 0 {
		return false
	}
	for _, n := range pos.Neighbors() {
		if claims.Has(n) {
			return true
		}
	}
	return false
}

// IsConnected reports whether cells form exactly one outpost.
func IsConnected(cells modelpkg.ChunkSet) bool {
	return IslandCount(cells) == 1
}

func flood(claims modelpkg.ChunkSet, start modelpkg.ChunkPos, visited, into modelpkg.ChunkSet) {
	stack := []modelpkg.ChunkPos{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visited.Add(cur) {
			continue
		}
		if into != nil {
			into.Add(cur)
		}
		for _, n := range cur.Neighbors() {
			if claims.Has(n) && !visited.Has(n) {
				stack = append(stack, n)
			}
		}
	}
}
