package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIncompatible is the root of every negotiation failure; it is wrapped
// into a descriptive error whenever a caller's Constraints conflict with a
// dataset's on-disk Metadata (spec §4.E). The field-specific sentinels below
// each wrap ErrIncompatible, so errors.Is against either the specific
// sentinel or the general one succeeds, letting callers branch on the exact
// conflicting field per spec §6's error taxonomy.
var (
	ErrIncompatible       = errors.New("constraints incompatible with existing metadata")
	ErrRankMismatch       = fmt.Errorf("%w: rank mismatch", ErrIncompatible)
	ErrShapeMismatch      = fmt.Errorf("%w: shape mismatch", ErrIncompatible)
	ErrChunkShapeMismatch = fmt.Errorf("%w: chunk shape mismatch", ErrIncompatible)
	ErrDtypeMismatch      = fmt.Errorf("%w: dtype mismatch", ErrIncompatible)
	ErrCompressorMismatch = fmt.Errorf("%w: compressor mismatch", ErrIncompatible)
)

// Negotiate reconciles Constraints against Metadata that may or may not
// already exist on disk (spec §4.E, schema negotiation):
//
//   - existing == nil: constraints must be fully specified (shape,
//     chunk shape, dtype); the result is exactly that new Metadata.
//   - existing != nil: every constraint that is set must match existing
//     exactly, including Shape.
func Negotiate(existing *Metadata, want Constraints) (*Metadata, error) {
	if existing == nil {
		return negotiateCreate(want)
	}
	return negotiateOpen(existing, want)
}

func negotiateCreate(want Constraints) (*Metadata, error) {
	if len(want.Shape) == 0 {
		return nil, fmt.Errorf("creating a dataset requires a fully specified shape")
	}
	if len(want.ChunkShape) == 0 {
		return nil, fmt.Errorf("creating a dataset requires a fully specified chunk shape")
	}
	if !want.DType.Valid() {
		return nil, fmt.Errorf("creating a dataset requires a valid dtype")
	}
	return New(want.Shape, want.ChunkShape, want.DType, want.CompressorID, want.CompressorOpts)
}

func negotiateOpen(existing *Metadata, want Constraints) (*Metadata, error) {
	if want.ChunkShape != nil {
		if len(want.ChunkShape) != len(existing.ChunkShape) {
			return nil, fmt.Errorf("%w: chunk shape rank %d does not match existing rank %d", ErrRankMismatch, len(want.ChunkShape), len(existing.ChunkShape))
		}
		if !equalUint64(want.ChunkShape, existing.ChunkShape) {
			return nil, fmt.Errorf("%w: chunk shape %v does not match existing %v", ErrChunkShapeMismatch, want.ChunkShape, existing.ChunkShape)
		}
	}
	if want.DType.Valid() && want.DType != existing.DType {
		return nil, fmt.Errorf("%w: dtype %s does not match existing %s", ErrDtypeMismatch, want.DType, existing.DType)
	}
	if wantsCompressorCheck(want) && !compressorEqual(want, existing) {
		return nil, fmt.Errorf("%w: compressor %q (opts %v) does not match existing %q (opts %v)",
			ErrCompressorMismatch, want.CompressorID, want.CompressorOpts, existing.CompressorID, existing.CompressorOpts)
	}
	if want.Shape != nil {
		if len(want.Shape) != len(existing.Shape) {
			return nil, fmt.Errorf("%w: shape rank %d does not match existing rank %d", ErrRankMismatch, len(want.Shape), len(existing.Shape))
		}
		if !equalUint64(want.Shape, existing.Shape) {
			return nil, fmt.Errorf("%w: shape %v does not match existing %v", ErrShapeMismatch, want.Shape, existing.Shape)
		}
	}
	return existing, nil
}

// wantsCompressorCheck reports whether want expresses any opinion about the
// compressor at all; a caller that names neither an id nor options is
// making no compressor constraint (Constraints' zero-value-means-unset
// convention).
func wantsCompressorCheck(want Constraints) bool {
	return want.CompressorID != "" || len(want.CompressorOpts) != 0
}

// compressorEqual compares want's compressor request against existing
// structurally: the id must match when given, and options must match by
// canonical JSON equality when given (spec §4.E: "equal structurally").
// Options are compared only when want specifies them, since an id-only
// constraint expresses no opinion on option values.
func compressorEqual(want Constraints, existing *Metadata) bool {
	if want.CompressorID != "" && want.CompressorID != existing.CompressorID {
		return false
	}
	if len(want.CompressorOpts) == 0 {
		return true
	}
	wantJSON, err := json.Marshal(canonicalizeOpts(want.CompressorOpts))
	if err != nil {
		return false
	}
	existingJSON, err := json.Marshal(canonicalizeOpts(existing.CompressorOpts))
	if err != nil {
		return false
	}
	return string(wantJSON) == string(existingJSON)
}

func equalUint64(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
