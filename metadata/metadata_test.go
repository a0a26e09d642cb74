package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/hdf5chunk/dtype"
)

func TestNewValidatesRankAndChunkShape(t *testing.T) {
	_, err := New([]uint64{10, 10}, []uint64{4}, dtype.Float64, "", nil)
	require.Error(t, err)

	_, err = New([]uint64{10}, []uint64{0}, dtype.Float64, "", nil)
	require.Error(t, err)

	m, err := New([]uint64{10}, []uint64{4}, dtype.Float64, "", nil)
	require.NoError(t, err)
	require.Equal(t, "none", m.CompressorID)
	require.Equal(t, 1, m.Rank())
}

func TestCompatibilityKeyIgnoresShapeAndOptOrder(t *testing.T) {
	a, err := New([]uint64{10}, []uint64{4}, dtype.Uint8, "gzip", map[string]interface{}{"level": 1, "z": "a"})
	require.NoError(t, err)
	b, err := New([]uint64{20}, []uint64{4}, dtype.Uint8, "gzip", map[string]interface{}{"z": "a", "level": 1})
	require.NoError(t, err)

	require.Equal(t, a.CompatibilityKey(), b.CompatibilityKey(), "shape and map key order must not affect the compatibility key")

	c, err := New([]uint64{10}, []uint64{8}, dtype.Uint8, "gzip", nil)
	require.NoError(t, err)
	require.NotEqual(t, a.CompatibilityKey(), c.CompatibilityKey())
}

func TestGetSchemaAndChunkLayout(t *testing.T) {
	m, err := New([]uint64{10, 20}, []uint64{4, 5}, dtype.Int32, "lz4", nil)
	require.NoError(t, err)

	schema := m.GetSchema()
	require.Equal(t, 2, schema.Rank)
	require.Equal(t, "int32", schema.DType)
	require.Equal(t, "lz4", schema.CompressorID)

	layout := m.GetChunkLayout()
	require.Equal(t, []uint64{0, 0}, layout.GridOrigin)
	require.Equal(t, []int{0, 1}, layout.InnerOrder)
	require.Equal(t, []uint64{4, 5}, layout.Chunk)
}

func TestNegotiateCreateRequiresFullSpec(t *testing.T) {
	_, err := Negotiate(nil, Constraints{ChunkShape: []uint64{4}, DType: dtype.Uint8})
	require.Error(t, err)

	m, err := Negotiate(nil, Constraints{Shape: []uint64{10}, ChunkShape: []uint64{4}, DType: dtype.Uint8})
	require.NoError(t, err)
	require.Equal(t, []uint64{10}, m.Shape)
}

func TestNegotiateOpenRequiresShapeEquality(t *testing.T) {
	existing, err := New([]uint64{10}, []uint64{4}, dtype.Uint8, "none", nil)
	require.NoError(t, err)

	_, err = Negotiate(existing, Constraints{Shape: []uint64{20}})
	require.ErrorIs(t, err, ErrIncompatible)

	_, err = Negotiate(existing, Constraints{Shape: []uint64{5}})
	require.ErrorIs(t, err, ErrIncompatible)

	m, err := Negotiate(existing, Constraints{Shape: []uint64{10}})
	require.NoError(t, err)
	require.Same(t, existing, m)

	_, err = Negotiate(existing, Constraints{ChunkShape: []uint64{8}})
	require.ErrorIs(t, err, ErrIncompatible)

	_, err = Negotiate(existing, Constraints{DType: dtype.Float64})
	require.ErrorIs(t, err, ErrIncompatible)
}

func TestMetadataJSONRoundTrip(t *testing.T) {
	m, err := New([]uint64{10, 20}, []uint64{4, 5}, dtype.Int32, "lz4", map[string]interface{}{"level": float64(1)})
	require.NoError(t, err)

	buf, err := m.ToJSON()
	require.NoError(t, err)

	got, err := FromJSON(buf)
	require.NoError(t, err)
	require.Equal(t, m.Shape, got.Shape)
	require.Equal(t, m.ChunkShape, got.ChunkShape)
	require.Equal(t, m.DType, got.DType)
	require.Equal(t, m.DTypeName, got.DTypeName)
	require.Equal(t, m.CompressorID, got.CompressorID)
	require.Equal(t, m.CompressorOpts, got.CompressorOpts)
	require.Equal(t, m.CompatibilityKey(), got.CompatibilityKey())
}
