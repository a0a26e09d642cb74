// Package coord implements the pure chunk-index/element-offset arithmetic
// used to translate array-region requests into chunk-aligned operations
// (spec component B). Every function here is total and allocation-light;
// none of them ever suspend.
package coord

import (
	"fmt"
	"strconv"
	"strings"
)

// Key is an immutable chunk multi-index. Two keys are equal, and hash the
// same, iff their elements are pairwise equal (spec §3, "Chunk key").
type Key []uint64

// String renders a key like "(0,2,1)" for logs and error messages.
func (k Key) String() string {
	s := "("
	for i, v := range k {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprintf("%d", v)
	}
	return s + ")"
}

// ParseKey inverts String, for callers that round-trip a key through a map
// keyed by its string form (e.g. the chunk cache).
func ParseKey(s string) Key {
	s = strings.TrimPrefix(s, "(")
	s = strings.TrimSuffix(s, ")")
	if s == "" {
		return Key{}
	}
	parts := strings.Split(s, ",")
	k := make(Key, len(parts))
	for i, p := range parts {
		v, _ := strconv.ParseUint(p, 10, 64)
		k[i] = v
	}
	return k
}

// Equal reports whether two keys have the same rank and elements.
func (k Key) Equal(other Key) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i] != other[i] {
			return false
		}
	}
	return true
}

// clone returns an independent copy, so a Key handed out by an iterator
// cannot be mutated through a caller's alias.
func (k Key) clone() Key {
	out := make(Key, len(k))
	copy(out, k)
	return out
}

// Region is a rectangular selection of a dataset: element offsets and
// per-dimension extents, both of length rank.
type Region struct {
	Offsets []uint64
	Extents []uint64
}

// ChunkOrigin returns the element offset of the first element of the chunk
// identified by key, given the dataset's chunk shape (spec §4.B).
func ChunkOrigin(key Key, chunkShape []uint64) []uint64 {
	origin := make([]uint64, len(key))
	for d := range key {
		origin[d] = key[d] * chunkShape[d]
	}
	return origin
}

// ClippedExtent returns the chunk's actual per-dimension extent after
// clipping against the dataset shape (spec §4.B). Behavior is undefined,
// per the spec, if the chunk identified by key does not exist; this
// implementation returns a zero extent along the offending dimension
// rather than panicking, since chunk existence is checked by
// ChunkExists/ChunksCovering before this is ever called on a real chunk.
func ClippedExtent(key Key, chunkShape, shape []uint64) []uint64 {
	extent := make([]uint64, len(key))
	for d := range key {
		origin := key[d] * chunkShape[d]
		if origin >= shape[d] {
			extent[d] = 0
			continue
		}
		remaining := shape[d] - origin
		if remaining < chunkShape[d] {
			extent[d] = remaining
		} else {
			extent[d] = chunkShape[d]
		}
	}
	return extent
}

// ChunkExists reports whether the chunk at key has any elements in the
// dataset (spec §3: "A chunk exists iff all iₖ·chunk_shapeₖ < shapeₖ").
func ChunkExists(key Key, chunkShape, shape []uint64) bool {
	for d := range key {
		if key[d]*chunkShape[d] >= shape[d] {
			return false
		}
	}
	return true
}

// NumChunks returns, per dimension, the number of chunks needed to cover
// shape given chunkShape: ceil(shape[d] / chunkShape[d]).
func NumChunks(shape, chunkShape []uint64) []uint64 {
	n := make([]uint64, len(shape))
	for d := range shape {
		if chunkShape[d] == 0 {
			n[d] = 0
			continue
		}
		n[d] = (shape[d] + chunkShape[d] - 1) / chunkShape[d]
	}
	return n
}

// ChunksCovering yields, in lexicographic order, every chunk key whose
// clipped extent intersects region (spec §4.B). The callback receives a
// fresh copy of each key, which it may retain.
func ChunksCovering(region Region, chunkShape []uint64, visit func(Key) error) error {
	rank := len(chunkShape)
	if rank == 0 {
		// A rank-0 (scalar) dataset has exactly one chunk, key ().
		if len(region.Extents) == 0 {
			return visit(Key{})
		}
		return nil
	}

	first := make(Key, rank)
	last := make(Key, rank)
	total := 1
	for d := 0; d < rank; d++ {
		if region.Extents[d] == 0 {
			return nil // zero-extent region: no chunks, no I/O (spec §8).
		}
		start := region.Offsets[d]
		end := region.Offsets[d] + region.Extents[d] // exclusive
		first[d] = start / chunkShape[d]
		last[d] = (end - 1) / chunkShape[d]
		span := int(last[d] - first[d] + 1)
		if span <= 0 {
			return nil
		}
		total *= span
	}

	cur := first.clone()
	for i := 0; i < total; i++ {
		if err := visit(cur.clone()); err != nil {
			return err
		}
		// Odometer increment, fastest-varying dimension last (row-major /
		// lexicographic order as required by spec §4.B).
		for d := rank - 1; d >= 0; d-- {
			cur[d]++
			if cur[d] <= last[d] {
				break
			}
			cur[d] = first[d]
			if d == 0 {
				break
			}
		}
	}
	return nil
}

// Intersect returns the overlap, in element coordinates, of a chunk (given
// its origin and clipped extent) with region. ok is false if there is no
// overlap along some dimension.
func Intersect(chunkOrigin, chunkExtent []uint64, region Region) (offsets, extents []uint64, ok bool) {
	rank := len(chunkOrigin)
	offsets = make([]uint64, rank)
	extents = make([]uint64, rank)
	for d := 0; d < rank; d++ {
		chunkEnd := chunkOrigin[d] + chunkExtent[d]
		regionEnd := region.Offsets[d] + region.Extents[d]

		start := chunkOrigin[d]
		if region.Offsets[d] > start {
			start = region.Offsets[d]
		}
		end := chunkEnd
		if regionEnd < end {
			end = regionEnd
		}
		if end <= start {
			return nil, nil, false
		}
		offsets[d] = start
		extents[d] = end - start
	}
	return offsets, extents, true
}

// LinearIndex flattens a chunk key into a row-major index over a grid of
// the given per-dimension chunk counts. It is the addressing scheme the
// container wrapper uses to lay out fixed-size chunk slots (spec §4.C
// design note in DESIGN.md).
func LinearIndex(key Key, numChunks []uint64) uint64 {
	idx := uint64(0)
	for d := range key {
		idx = idx*numChunks[d] + key[d]
	}
	return idx
}

// NumElements returns the product of extents, i.e. the element count of a
// rectangular region or chunk.
func NumElements(extents []uint64) uint64 {
	n := uint64(1)
	for _, e := range extents {
		n *= e
	}
	return n
}

// InBounds reports whether offsets+extents lie within shape along every
// dimension (used by the facade's bounds check, spec §4.I step 1).
func InBounds(offsets, extents, shape []uint64) bool {
	if len(offsets) != len(shape) || len(extents) != len(shape) {
		return false
	}
	for d := range shape {
		if offsets[d] > shape[d] {
			return false
		}
		if extents[d] > shape[d]-offsets[d] {
			return false
		}
	}
	return true
}
