package driver

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kestrelio/hdf5chunk/container"
	"github.com/kestrelio/hdf5chunk/dtype"
	"github.com/kestrelio/hdf5chunk/metadata"
)

func newTestContainer(t *testing.T) *container.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.h5")
	cf, err := container.Create(path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cf.Close() })
	return cf
}

func TestCreateWriteReadRegionRoundTrip(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:      []uint64{6, 6},
		ChunkShape: []uint64{4, 4},
		DType:      dtype.Uint8,
	}, Options{CacheCapacity: 8})
	require.NoError(t, err)

	buf := make([]byte, 36)
	for i := range buf {
		buf[i] = byte(i + 1)
	}
	require.NoError(t, ds.WriteRegion([]uint64{0, 0}, []uint64{6, 6}, buf))

	got, err := ds.ReadRegion([]uint64{0, 0}, []uint64{6, 6})
	require.NoError(t, err)
	require.Equal(t, buf, got)

	require.NoError(t, ds.Close())
}

func TestPartialRegionWriteIsReadModifyWrite(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:      []uint64{4, 4},
		ChunkShape: []uint64{4, 4},
		DType:      dtype.Uint8,
	}, Options{CacheCapacity: 8})
	require.NoError(t, err)

	full := make([]byte, 16)
	for i := range full {
		full[i] = byte(i + 1)
	}
	require.NoError(t, ds.WriteRegion([]uint64{0, 0}, []uint64{4, 4}, full))

	// Overwrite the bottom-right 2x2 corner only.
	patch := []byte{100, 101, 102, 103}
	require.NoError(t, ds.WriteRegion([]uint64{2, 2}, []uint64{2, 2}, patch))

	got, err := ds.ReadRegion([]uint64{0, 0}, []uint64{4, 4})
	require.NoError(t, err)

	want := append([]byte(nil), full...)
	want[2*4+2] = 100
	want[2*4+3] = 101
	want[3*4+2] = 102
	want[3*4+3] = 103
	require.Equal(t, want, got)

	require.NoError(t, ds.Close())
}

func TestReadRegionOutOfBounds(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:      []uint64{4},
		ChunkShape: []uint64{4},
		DType:      dtype.Uint8,
	}, Options{})
	require.NoError(t, err)
	defer ds.Close()

	_, err = ds.ReadRegion([]uint64{3}, []uint64{4})
	require.ErrorIs(t, err, ErrOutOfBounds)
}

func TestOpenDatasetNegotiatesAgainstExisting(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:      []uint64{8},
		ChunkShape: []uint64{4},
		DType:      dtype.Float32,
		CompressorID: "none",
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	reopened, err := OpenDataset(cf, "grid", metadata.Constraints{DType: dtype.Float32}, Options{})
	require.NoError(t, err)
	require.Equal(t, []uint64{8}, reopened.GetSchema().Shape)
	require.NoError(t, reopened.Close())

	_, err = OpenDataset(cf, "grid", metadata.Constraints{DType: dtype.Uint8}, Options{})
	require.ErrorIs(t, err, metadata.ErrIncompatible)
	require.ErrorIs(t, err, metadata.ErrDtypeMismatch)
	require.ErrorIs(t, err, ErrDtypeMismatch)
}

func TestOpenDatasetPreservesCompressorOptions(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:          []uint64{8},
		ChunkShape:     []uint64{4},
		DType:          dtype.Uint8,
		CompressorID:   "gzip",
		CompressorOpts: map[string]interface{}{"level": 9},
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, ds.Close())

	// Reopening while asking for a different level must fail, proving the
	// original level was actually persisted rather than silently dropped.
	_, err = OpenDataset(cf, "grid", metadata.Constraints{
		CompressorID:   "gzip",
		CompressorOpts: map[string]interface{}{"level": 1},
	}, Options{})
	require.ErrorIs(t, err, ErrCompressorMismatch)

	reopened, err := OpenDataset(cf, "grid", metadata.Constraints{
		CompressorID:   "gzip",
		CompressorOpts: map[string]interface{}{"level": 9},
	}, Options{})
	require.NoError(t, err)
	require.NoError(t, reopened.Close())
}

func TestUnwrittenChunkReadsAsZero(t *testing.T) {
	cf := newTestContainer(t)

	ds, err := CreateDataset(cf, "grid", metadata.Constraints{
		Shape:      []uint64{4, 4},
		ChunkShape: []uint64{2, 2},
		DType:      dtype.Uint8,
	}, Options{})
	require.NoError(t, err)
	defer ds.Close()

	got, err := ds.ReadRegion([]uint64{0, 0}, []uint64{4, 4})
	require.NoError(t, err)
	require.Equal(t, make([]byte, 16), got)
}
