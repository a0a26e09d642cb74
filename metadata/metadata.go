// Package metadata implements the dataset schema model and compatibility
// negotiation (spec components D and E). Metadata describes what is
// actually on disk; Constraints describes what a caller wants when opening
// or creating a dataset. Per SPEC_FULL.md §5 Open Question 1, neither type
// carries a fill value or a stored dimension order: this is the minimal
// form spec.md's Open Questions settled on.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/kestrelio/hdf5chunk/dtype"
)

// Metadata is the immutable, fully-resolved schema of an open dataset
// (spec §3, "Metadata"). Immutable for the lifetime of an open dataset
// means callers must not mutate its Shape/ChunkShape slices.
type Metadata struct {
	Shape          []uint64          `json:"shape"`
	ChunkShape     []uint64          `json:"chunk_shape"`
	DType          dtype.Type        `json:"-"`
	DTypeName      string            `json:"dtype"`
	CompressorID   string            `json:"compressor"`
	CompressorOpts map[string]interface{} `json:"compressor_opts,omitempty"`

	compatKey string // memoized, see CompatibilityKey
}

// Constraints is a partial specification supplied by a caller opening or
// creating a dataset (spec §3, "Constraints"). Zero-value fields (nil
// slices, empty strings) mean "no constraint on this dimension/property".
type Constraints struct {
	Shape          []uint64
	ChunkShape     []uint64
	DType          dtype.Type
	CompressorID   string
	CompressorOpts map[string]interface{}
}

// New validates and constructs Metadata from a fully-specified shape,
// chunk shape, and element type (spec §4.D, used by create_dataset).
func New(shape, chunkShape []uint64, dt dtype.Type, compressorID string, compressorOpts map[string]interface{}) (*Metadata, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("shape must have rank >= 1")
	}
	if len(shape) != len(chunkShape) {
		return nil, fmt.Errorf("shape rank %d does not match chunk shape rank %d", len(shape), len(chunkShape))
	}
	for i, c := range chunkShape {
		if c == 0 {
			return nil, fmt.Errorf("chunk_shape[%d] must be positive", i)
		}
	}
	if !dt.Valid() {
		return nil, fmt.Errorf("invalid dtype")
	}
	if compressorID == "" {
		compressorID = "none"
	}
	return &Metadata{
		Shape:          append([]uint64(nil), shape...),
		ChunkShape:     append([]uint64(nil), chunkShape...),
		DType:          dt,
		DTypeName:      dt.String(),
		CompressorID:   compressorID,
		CompressorOpts: compressorOpts,
	}, nil
}

// Rank returns the number of dimensions.
func (m *Metadata) Rank() int { return len(m.Shape) }

// CompatibilityKey returns a canonical string identifying every property of
// the metadata that must match for two opens of the same dataset to be
// considered compatible, per spec §3's compatibility rule: chunk shape,
// dtype, and compressor must match; shape does not (a dataset may grow).
// The key is computed once and memoized, mirroring the original
// TensorStore driver's cached compatibility_key (SPEC_FULL.md §4).
func (m *Metadata) CompatibilityKey() string {
	if m.compatKey != "" {
		return m.compatKey
	}

	type keyForm struct {
		ChunkShape     []uint64               `json:"chunk_shape"`
		DType          string                 `json:"dtype"`
		CompressorID   string                 `json:"compressor"`
		CompressorOpts map[string]interface{} `json:"compressor_opts,omitempty"`
	}
	buf, err := json.Marshal(keyForm{
		ChunkShape:     m.ChunkShape,
		DType:          m.DTypeName,
		CompressorID:   m.CompressorID,
		CompressorOpts: canonicalizeOpts(m.CompressorOpts),
	})
	if err != nil {
		// Marshal of a struct of primitives/maps never fails; this branch
		// exists only so CompatibilityKey stays a total function.
		m.compatKey = fmt.Sprintf("error:%v", err)
		return m.compatKey
	}

	sum := sha256.Sum256(buf)
	m.compatKey = hex.EncodeToString(sum[:])
	return m.compatKey
}

// canonicalizeOpts produces a JSON-stable ordering for a compressor options
// map, so CompatibilityKey does not depend on Go's randomized map iteration.
func canonicalizeOpts(opts map[string]interface{}) map[string]interface{} {
	if len(opts) == 0 {
		return nil
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make(map[string]interface{}, len(opts))
	for _, k := range keys {
		out[k] = opts[k]
	}
	return out
}

// ChunkLayout describes how the dataset is tiled: grid origin, inner order
// and chunk shape (spec §4.I, extended per SPEC_FULL.md §4 to mirror
// the original driver's get_chunk_layout()).
type ChunkLayout struct {
	GridOrigin []uint64 `json:"grid_origin"`
	InnerOrder []int    `json:"inner_order"`
	Chunk      []uint64 `json:"chunk"`
}

// GetChunkLayout builds the chunk layout descriptor for m. Grid origin is
// always the zero vector and inner order is always row-major (C order),
// since spec.md carries no stored layout-order metadata
// (SPEC_FULL.md §5 Open Question 1).
func (m *Metadata) GetChunkLayout() ChunkLayout {
	origin := make([]uint64, m.Rank())
	order := make([]int, m.Rank())
	for i := range order {
		order[i] = i
	}
	return ChunkLayout{GridOrigin: origin, InnerOrder: order, Chunk: append([]uint64(nil), m.ChunkShape...)}
}

// Schema is a plain snapshot of a dataset's shape and encoding, mirroring
// the original driver's schema.h get_schema() (SPEC_FULL.md §4).
type Schema struct {
	Rank         int      `json:"rank"`
	Shape        []uint64 `json:"shape"`
	DType        string   `json:"dtype"`
	ChunkShape   []uint64 `json:"chunk_shape"`
	CompressorID string   `json:"compressor"`
}

// GetSchema returns m's schema snapshot.
func (m *Metadata) GetSchema() Schema {
	return Schema{
		Rank:         m.Rank(),
		Shape:        append([]uint64(nil), m.Shape...),
		DType:        m.DTypeName,
		ChunkShape:   append([]uint64(nil), m.ChunkShape...),
		CompressorID: m.CompressorID,
	}
}

// ToJSON serializes m to its canonical JSON form (spec §4.D to_json).
func (m *Metadata) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// FromJSON parses the JSON form produced by ToJSON back into a Metadata,
// resolving DTypeName back into the DType enum (spec §4.D from_json).
// from_json(to_json(m)) reproduces every field of m except the memoized
// compatibility key, which is recomputed lazily on first use.
func FromJSON(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshaling metadata: %w", err)
	}
	dt, err := dtype.Parse(m.DTypeName)
	if err != nil {
		return nil, fmt.Errorf("resolving dtype %q: %w", m.DTypeName, err)
	}
	m.DType = dt
	return &m, nil
}
