// Package container wraps the pure-Go HDF5 reader/writer (hdf5) to give the
// driver a chunk-addressed I/O surface (spec component C). It owns the
// on-disk layout of a driver-managed dataset: a single contiguous byte
// region sliced into fixed-size chunk slots, addressed by chunk key rather
// than by the container library's own chunk-index formats.
//
// A container.File can also open datasets it did not create itself,
// through OpenForeign, which reads via the container library's real
// chunked/contiguous/compact layout handlers instead of the slot scheme.
package container

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/kestrelio/hdf5chunk/coord"
	"github.com/kestrelio/hdf5chunk/hdf5"
)

// slotHeaderSize is the length-prefix width described in SPEC_FULL.md §5
// item 4: a leading little-endian uint64 recording the actual encoded
// length of the payload stored in an otherwise fixed-size slot.
const slotHeaderSize = 8

// File is an open container file.
type File struct {
	hf     *hdf5.File
	path   string
	log    *zap.SugaredLogger
	closed bool
}

func nopLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// Create creates a new container file. A nil logger defaults to a no-op
// logger so the package works unconfigured.
func Create(path string, log *zap.SugaredLogger) (*File, error) {
	if log == nil {
		log = nopLogger()
	}
	hf, err := hdf5.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating container file: %w", err)
	}
	log.Debugw("container file created", "path", path)
	return &File{hf: hf, path: path, log: log}, nil
}

// Open opens an existing container file for reading and writing.
func Open(path string, log *zap.SugaredLogger) (*File, error) {
	if log == nil {
		log = nopLogger()
	}
	hf, err := hdf5.OpenReadWrite(path)
	if err != nil {
		return nil, fmt.Errorf("opening container file: %w", err)
	}
	return &File{hf: hf, path: path, log: log}, nil
}

// Close flushes and closes the underlying file.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	return f.hf.Close()
}

// Path returns the file's path on disk.
func (f *File) Path() string {
	return f.path
}

// StorageSize returns the number of bytes allocated through this handle
// since it was created or opened; space already in the file at that point,
// such as the superblock and root group header, is not counted (spec §4.C
// storage_size, extended per
// SPEC_FULL.md §4 to feed driver.Stats()).
func (f *File) StorageSize() uint64 {
	return f.hf.AllocStats().TotalBytesAlloc
}

// ForeignDataset is a read-only view over a dataset this driver did not
// create: one written by another HDF5 tool, using the container library's
// own chunked/contiguous/compact layout readers rather than the fixed-slot
// scheme. It exists so opening a pre-existing scientific-data file can
// still serve region reads without first re-encoding the dataset into our
// own layout.
type ForeignDataset struct {
	ds *hdf5.Dataset
}

// OpenForeign opens name as a ForeignDataset, regardless of whether it
// carries the driver's system attributes. Use OpenDataset instead for
// datasets this driver created; OpenForeign never writes.
func (f *File) OpenForeign(name string) (*ForeignDataset, error) {
	raw, err := f.hf.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("opening foreign dataset %q: %w", name, err)
	}
	return &ForeignDataset{ds: raw}, nil
}

// Shape returns the dataset's dimension sizes as recorded in its HDF5
// dataspace message.
func (fd *ForeignDataset) Shape() []uint64 { return fd.ds.Shape() }

// ReadRegion reads the hyperslab [start, start+count) using the dataset's
// native chunk index (Fixed Array, B-tree v1/v2, Extensible Array, or
// Implicit, depending on how the file was written), returning row-major
// raw bytes in the dataset's on-disk element type.
func (fd *ForeignDataset) ReadRegion(start, count []uint64) ([]byte, error) {
	return fd.ds.ReadRawSlice(start, count)
}

// system attribute names carried on every driver-managed dataset. These
// are never exposed through the attribute store (component H); they are
// the persisted form of the dataset's Metadata (component D).
const (
	attrFormatMarker   = "hdf5chunk:format"
	attrShape          = "hdf5chunk:shape"
	attrChunkShape     = "hdf5chunk:chunk_shape"
	attrDtype          = "hdf5chunk:dtype"
	attrCompressorID   = "hdf5chunk:compressor"
	attrCompressorOpts = "hdf5chunk:compressor_opts" // JSON, only present when non-empty
	attrSlotSize       = "hdf5chunk:slot_size"
	attrOverrides      = "hdf5chunk:overrides" // JSON, only present once non-empty
)

const formatMarker = "hdf5chunk.v1"

func encodeUint64(v uint64) []byte {
	buf := make([]byte, slotHeaderSize)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func decodeUint64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func chunkVolume(chunkShape []uint64) uint64 {
	return coord.NumElements(chunkShape)
}

// slotSizeFor computes the fixed slot size for a chunk shape and element
// type, per SPEC_FULL.md §5 item 4.
func slotSizeFor(chunkShape []uint64, elemSize int) uint64 {
	elementBytes := chunkVolume(chunkShape) * uint64(elemSize)
	slack := elementBytes/64 + 64
	return elementBytes + slack + slotHeaderSize
}
