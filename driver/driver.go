package driver

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kestrelio/hdf5chunk/attrstore"
	"github.com/kestrelio/hdf5chunk/cache"
	"github.com/kestrelio/hdf5chunk/compressor"
	"github.com/kestrelio/hdf5chunk/container"
	"github.com/kestrelio/hdf5chunk/coord"
	"github.com/kestrelio/hdf5chunk/internal/metrics"
	"github.com/kestrelio/hdf5chunk/internal/obslog"
	"github.com/kestrelio/hdf5chunk/metadata"
)

// DefaultCacheCapacity is the number of chunks the facade caches per
// dataset when Options.CacheCapacity is left at zero.
const DefaultCacheCapacity = 64

// Options configures a Dataset facade. Every field has a usable zero value.
type Options struct {
	CacheCapacity int
	Policy        cache.Policy
	Logger        *zap.SugaredLogger
	Metrics       *metrics.Collectors
}

func (o Options) resolve() Options {
	if o.CacheCapacity <= 0 {
		o.CacheCapacity = DefaultCacheCapacity
	}
	o.Logger = obslog.Or(o.Logger)
	return o
}

// Dataset is the driver facade (spec component I): bounds-checked region
// I/O over a cached, chunk-addressed dataset.
type Dataset struct {
	cds   *container.Dataset
	md    *metadata.Metadata
	cache *cache.Cache
	attrs *attrstore.Store
	log   *zap.SugaredLogger
}

// CreateDataset creates a new dataset in cf and wraps it in a facade (spec
// §4.C create_dataset composed with §4.I). c must fully specify shape,
// chunk shape, and dtype.
func CreateDataset(cf *container.File, name string, c metadata.Constraints, opts Options) (*Dataset, error) {
	opts = opts.resolve()

	md, err := metadata.Negotiate(nil, c)
	if err != nil {
		return nil, newErr(CodeIncompleteSpec, err, "negotiating metadata for %q", name)
	}

	comp, err := compressor.New(md.CompressorID, md.CompressorOpts)
	if err != nil {
		return nil, newErr(CodeCompressorMismatch, err, "resolving compressor %q", md.CompressorID)
	}

	cds, err := cf.CreateDataset(name, md.Shape, md.ChunkShape, md.DType, comp)
	if err != nil {
		return nil, newErr(CodeAlreadyExists, err, "creating dataset %q", name)
	}

	return wrap(cds, md, opts)
}

// OpenDataset opens an existing dataset in cf, negotiating c against its
// on-disk metadata (spec §4.C open_dataset composed with §4.E).
func OpenDataset(cf *container.File, name string, c metadata.Constraints, opts Options) (*Dataset, error) {
	opts = opts.resolve()

	cds, err := cf.OpenDataset(name)
	if err != nil {
		return nil, newErr(CodeNotFound, err, "opening dataset %q", name)
	}

	existing, err := metadata.New(cds.Shape(), cds.ChunkShape(), cds.DType(), cds.Compressor(), cds.CompressorOpts())
	if err != nil {
		return nil, newErr(CodeIoError, err, "reconstructing metadata for %q", name)
	}

	md, err := metadata.Negotiate(existing, c)
	if err != nil {
		return nil, newErr(negotiationCode(err), err, "negotiating metadata for %q", name)
	}

	return wrap(cds, md, opts)
}

// negotiationCode maps a metadata negotiation failure onto the specific
// error code the field it complained about corresponds to, per spec §6's
// error taxonomy (e.g. §8 scenario 2: opening with a mismatched dtype must
// surface DtypeMismatch, not a generic code).
func negotiationCode(err error) Code {
	switch {
	case errors.Is(err, metadata.ErrDtypeMismatch):
		return CodeDtypeMismatch
	case errors.Is(err, metadata.ErrCompressorMismatch):
		return CodeCompressorMismatch
	case errors.Is(err, metadata.ErrRankMismatch):
		return CodeRankMismatch
	case errors.Is(err, metadata.ErrShapeMismatch), errors.Is(err, metadata.ErrChunkShapeMismatch):
		return CodeShapeMismatch
	default:
		return CodeInvalidArgument
	}
}

func wrap(cds *container.Dataset, md *metadata.Metadata, opts Options) (*Dataset, error) {
	c, err := cache.New(cds, opts.CacheCapacity, opts.Policy, opts.Logger, opts.Metrics)
	if err != nil {
		return nil, newErr(CodeInvalidArgument, err, "building chunk cache")
	}
	c.Start(0)

	return &Dataset{
		cds:   cds,
		md:    md,
		cache: c,
		attrs: attrstore.New(cds),
		log:   opts.Logger,
	}, nil
}

// GetSchema and GetChunkLayout are derived pure functions of the dataset's
// metadata (spec §4.I).
func (d *Dataset) GetSchema() metadata.Schema           { return d.md.GetSchema() }
func (d *Dataset) GetChunkLayout() metadata.ChunkLayout { return d.md.GetChunkLayout() }

// Attrs returns the dataset's user-attribute namespace (spec component H).
func (d *Dataset) Attrs() *attrstore.Store { return d.attrs }

// Stats reports cache occupancy together with on-disk storage size and
// attribute count (SPEC_FULL.md §4, extending spec §4.F's CacheStats).
type Stats struct {
	Cache        cache.Stats
	StorageBytes uint64
	AttrCount    int
}

func (d *Dataset) Stats() Stats {
	return Stats{
		Cache:        d.cache.Stats(),
		StorageBytes: d.cds.StorageSize(),
		AttrCount:    len(d.attrs.List()),
	}
}

// Close flushes every dirty chunk and stops the background writer (spec
// §4.G "destroying the cache implicitly calls stop()"; SPEC_FULL.md §4's
// explicit Close()/handle lifecycle).
func (d *Dataset) Close() error {
	if err := d.cache.Stop(); err != nil {
		return newErr(CodeIoError, err, "flushing dataset on close")
	}
	return nil
}

func (d *Dataset) checkBounds(offsets, extents []uint64) error {
	if len(offsets) != d.md.Rank() || len(extents) != d.md.Rank() {
		return newErr(CodeRankMismatch, nil, "region rank does not match dataset rank %d", d.md.Rank())
	}
	if !coord.InBounds(offsets, extents, d.md.Shape) {
		return newErr(CodeOutOfBounds, nil, "region %v+%v exceeds shape %v", offsets, extents, d.md.Shape)
	}
	return nil
}

// ReadRegion reads the hyperslab [offsets, offsets+extents) into a
// freshly allocated row-major buffer of the dataset's element type (spec
// §4.I read_region).
func (d *Dataset) ReadRegion(offsets, extents []uint64) ([]byte, error) {
	if err := d.checkBounds(offsets, extents); err != nil {
		return nil, err
	}
	region := coord.Region{Offsets: offsets, Extents: extents}
	elemSize := d.md.DType.Size()
	out := make([]byte, int(coord.NumElements(extents))*elemSize)

	err := coord.ChunksCovering(region, d.md.ChunkShape, func(key coord.Key) error {
		chunkData, err := d.cache.ReadChunk(key)
		if err != nil {
			return newErr(CodeIoError, err, "reading chunk %s", key)
		}

		origin := coord.ChunkOrigin(key, d.md.ChunkShape)
		clipped := coord.ClippedExtent(key, d.md.ChunkShape, d.md.Shape)
		ixOff, ixExt, ok := coord.Intersect(origin, clipped, region)
		if !ok {
			return nil
		}
		copyRegion(out, extents, offsets, chunkData, clipped, origin, ixOff, ixExt, elemSize)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteRegion writes in the hyperslab [offsets, offsets+extents) from a
// row-major buffer of the dataset's element type (spec §4.I write_region):
// chunks fully covered by the request are replaced outright; partially
// covered chunks are read-modify-written.
func (d *Dataset) WriteRegion(offsets, extents []uint64, in []byte) error {
	if err := d.checkBounds(offsets, extents); err != nil {
		return err
	}
	elemSize := d.md.DType.Size()
	wantLen := int(coord.NumElements(extents)) * elemSize
	if len(in) != wantLen {
		return newErr(CodeInvalidArgument, nil, "input buffer is %d bytes, want %d", len(in), wantLen)
	}
	region := coord.Region{Offsets: offsets, Extents: extents}

	return coord.ChunksCovering(region, d.md.ChunkShape, func(key coord.Key) error {
		origin := coord.ChunkOrigin(key, d.md.ChunkShape)
		clipped := coord.ClippedExtent(key, d.md.ChunkShape, d.md.Shape)
		ixOff, ixExt, ok := coord.Intersect(origin, clipped, region)
		if !ok {
			return nil
		}

		fullyCovered := equalSlices(ixOff, origin) && equalSlices(ixExt, clipped)

		var chunkBuf []byte
		if fullyCovered {
			chunkBuf = make([]byte, int(coord.NumElements(clipped))*elemSize)
		} else {
			existing, err := d.cache.ReadChunk(key)
			if err != nil {
				return newErr(CodeIoError, err, "reading chunk %s for read-modify-write", key)
			}
			chunkBuf = append([]byte(nil), existing...)
		}

		copyRegion(chunkBuf, clipped, origin, in, extents, offsets, ixOff, ixExt, elemSize)

		if err := d.cache.WriteChunk(key, chunkBuf); err != nil {
			return newErr(CodeIoError, err, "writing chunk %s", key)
		}
		return nil
	})
}

// Flush forces every dirty cached chunk to storage without stopping the
// background writer (spec §4.G flush).
func (d *Dataset) Flush() error {
	if err := d.cache.FlushAll(); err != nil {
		return newErr(CodeIoError, err, "flushing dataset")
	}
	return nil
}

func equalSlices(a, b []uint64) bool {
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

// copyRegion copies the element-wise intersection [ixOff, ixOff+ixExt)
// between a "source" buffer (shaped srcExtent, based at srcOrigin) and a
// "destination" buffer (shaped dstExtent, based at dstOrigin), both
// row-major with elements of elemSize bytes. It is used symmetrically by
// ReadRegion (chunk -> output) and WriteRegion (input -> chunk).
func copyRegion(dst []byte, dstExtent, dstOrigin []uint64, src []byte, srcExtent, srcOrigin []uint64, ixOff, ixExt []uint64, elemSize int) {
	rank := len(ixOff)
	if rank == 0 {
		copy(dst, src[:elemSize])
		return
	}

	relDst := make([]uint64, rank)
	relSrc := make([]uint64, rank)
	for d := 0; d < rank; d++ {
		relDst[d] = ixOff[d] - dstOrigin[d]
		relSrc[d] = ixOff[d] - srcOrigin[d]
	}

	// Walk every row along the fastest-varying (last) dimension as one
	// contiguous run; iterate the outer dimensions with an odometer.
	rowLen := int(ixExt[rank-1]) * elemSize
	outerCount := 1
	for d := 0; d < rank-1; d++ {
		outerCount *= int(ixExt[d])
	}

	idx := make([]uint64, rank-1)
	for i := 0; i < outerCount; i++ {
		dstOff := flatByteOffset(append(append([]uint64(nil), idx...), 0), relDst, dstExtent, elemSize)
		srcOff := flatByteOffset(append(append([]uint64(nil), idx...), 0), relSrc, srcExtent, elemSize)
		copy(dst[dstOff:dstOff+rowLen], src[srcOff:srcOff+rowLen])

		for d := rank - 2; d >= 0; d-- {
			idx[d]++
			if idx[d] < ixExt[d] {
				break
			}
			idx[d] = 0
			if d == 0 {
				break
			}
		}
	}
}

// flatByteOffset computes the byte offset of element (base+offset) within
// a row-major buffer of the given per-dimension extents.
func flatByteOffset(offset, base []uint64, extent []uint64, elemSize int) int {
	rank := len(extent)
	idx := uint64(0)
	for d := 0; d < rank; d++ {
		idx = idx*extent[d] + (base[d] + offset[d])
	}
	return int(idx) * elemSize
}
