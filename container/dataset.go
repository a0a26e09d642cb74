package container

import (
	"encoding/json"
	"fmt"

	"github.com/kestrelio/hdf5chunk/compressor"
	"github.com/kestrelio/hdf5chunk/coord"
	"github.com/kestrelio/hdf5chunk/dtype"
	"github.com/kestrelio/hdf5chunk/hdf5"
)

// Dataset is a driver-managed dataset: a fixed-size chunk-slot region plus
// the system attributes needed to reinterpret it after a reopen.
type Dataset struct {
	f    *File
	ds   *hdf5.Dataset
	name string

	shape      []uint64
	chunkShape []uint64
	dt         dtype.Type
	comp       compressor.Compressor
	compOpts   compressor.Params
	slotSize   uint64
	numChunks  []uint64

	overrides map[uint64]uint64 // linear chunk index -> reallocated slot address
}

// CreateDataset reserves chunk-slot storage for a new dataset with the
// given logical shape, chunk shape, and element type (spec §4.C
// create_dataset). comp may be nil for uncompressed storage.
func (f *File) CreateDataset(name string, shape, chunkShape []uint64, dt dtype.Type, comp compressor.Compressor) (*Dataset, error) {
	if len(shape) != len(chunkShape) {
		return nil, fmt.Errorf("shape rank %d does not match chunk shape rank %d", len(shape), len(chunkShape))
	}
	if !dt.Valid() {
		return nil, fmt.Errorf("invalid element type")
	}
	if comp == nil {
		var err error
		comp, err = compressor.New("none", nil)
		if err != nil {
			return nil, err
		}
	}

	numChunks := coord.NumChunks(shape, chunkShape)
	totalChunks := coord.NumElements(numChunks)
	slotSize := slotSizeFor(chunkShape, dt.Size())
	totalBytes := totalChunks * slotSize

	group := f.hf.Root()
	uint8Type, err := dtype.ToContainer(dtype.Uint8)
	if err != nil {
		return nil, err
	}
	raw, err := group.CreateDatasetWithType(name, []uint64{totalBytes}, uint8Type)
	if err != nil {
		return nil, fmt.Errorf("reserving chunk storage: %w", err)
	}

	compOpts := comp.Opts()
	d := &Dataset{
		f: f, ds: raw, name: name,
		shape: shape, chunkShape: chunkShape, dt: dt, comp: comp, compOpts: compOpts,
		slotSize: slotSize, numChunks: numChunks,
	}

	attrs := map[string]interface{}{
		attrFormatMarker: formatMarker,
		attrShape:        shape,
		attrChunkShape:   chunkShape,
		attrDtype:        dt.String(),
		attrCompressorID: comp.ID(),
		attrSlotSize:     slotSize,
	}
	if len(compOpts) > 0 {
		blob, err := json.Marshal(compOpts)
		if err != nil {
			return nil, fmt.Errorf("encoding compressor options: %w", err)
		}
		attrs[attrCompressorOpts] = string(blob)
	}
	for attr, value := range attrs {
		if err := raw.SetAttribute(attr, value); err != nil {
			return nil, fmt.Errorf("writing system attribute %q: %w", attr, err)
		}
	}

	f.log.Debugw("dataset created", "name", name, "shape", shape, "chunk_shape", chunkShape, "slot_size", slotSize)
	return d, nil
}

// OpenDataset reopens a dataset previously created by CreateDataset,
// reconstructing its metadata from system attributes (spec §4.C
// open_dataset / §4.D metadata parsing).
func (f *File) OpenDataset(name string) (*Dataset, error) {
	raw, err := f.hf.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("opening dataset %q: %w", name, err)
	}

	marker, err := raw.GetAttribute(attrFormatMarker)
	if err != nil || marker != formatMarker {
		return nil, fmt.Errorf("%q is not a driver-managed dataset", name)
	}

	shape, err := readUint64Attr(raw, attrShape)
	if err != nil {
		return nil, err
	}
	chunkShape, err := readUint64Attr(raw, attrChunkShape)
	if err != nil {
		return nil, err
	}
	dtypeName, err := raw.GetAttribute(attrDtype)
	if err != nil {
		return nil, fmt.Errorf("reading dtype attribute: %w", err)
	}
	dt, err := dtype.Parse(dtypeName.(string))
	if err != nil {
		return nil, err
	}
	compID, err := raw.GetAttribute(attrCompressorID)
	if err != nil {
		return nil, fmt.Errorf("reading compressor attribute: %w", err)
	}
	var compOpts compressor.Params
	if raw.HasAttr(attrCompressorOpts) {
		v, err := raw.GetAttribute(attrCompressorOpts)
		if err != nil {
			return nil, fmt.Errorf("reading compressor options attribute: %w", err)
		}
		blob, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("compressor options attribute has unexpected type %T", v)
		}
		if err := json.Unmarshal([]byte(blob), &compOpts); err != nil {
			return nil, fmt.Errorf("decoding compressor options: %w", err)
		}
	}
	comp, err := compressor.New(compID.(string), compOpts)
	if err != nil {
		return nil, err
	}
	slotSizeVal, err := raw.GetAttribute(attrSlotSize)
	if err != nil {
		return nil, fmt.Errorf("reading slot size attribute: %w", err)
	}
	slotSize, err := toUint64(slotSizeVal)
	if err != nil {
		return nil, err
	}

	d := &Dataset{
		f: f, ds: raw, name: name,
		shape: shape, chunkShape: chunkShape, dt: dt, comp: comp, compOpts: compOpts,
		slotSize: slotSize, numChunks: coord.NumChunks(shape, chunkShape),
	}

	if raw.HasAttr(attrOverrides) {
		v, err := raw.GetAttribute(attrOverrides)
		if err != nil {
			return nil, fmt.Errorf("reading overrides attribute: %w", err)
		}
		blob, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("overrides attribute has unexpected type %T", v)
		}
		if err := json.Unmarshal([]byte(blob), &d.overrides); err != nil {
			return nil, fmt.Errorf("decoding overrides: %w", err)
		}
	}

	return d, nil
}

func readUint64Attr(ds *hdf5.Dataset, name string) ([]uint64, error) {
	v, err := ds.GetAttribute(name)
	if err != nil {
		return nil, fmt.Errorf("reading %s attribute: %w", name, err)
	}
	switch vv := v.(type) {
	case []uint64:
		return vv, nil
	case []int64:
		out := make([]uint64, len(vv))
		for i, x := range vv {
			out[i] = uint64(x)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s attribute has unexpected type %T", name, v)
	}
}

func toUint64(v interface{}) (uint64, error) {
	switch vv := v.(type) {
	case uint64:
		return vv, nil
	case int64:
		return uint64(vv), nil
	case float64:
		return uint64(vv), nil
	default:
		return 0, fmt.Errorf("unexpected numeric attribute type %T", v)
	}
}

// Name, Shape, ChunkShape, DType, and Compressor expose the dataset's
// negotiated schema (spec §4.D).
func (d *Dataset) Name() string         { return d.name }
func (d *Dataset) Shape() []uint64      { return d.shape }
func (d *Dataset) ChunkShape() []uint64 { return d.chunkShape }
func (d *Dataset) DType() dtype.Type    { return d.dt }
func (d *Dataset) Compressor() string   { return d.comp.ID() }
func (d *Dataset) NumChunks() []uint64  { return d.numChunks }

// CompressorOpts returns the parameters the dataset's compressor was
// constructed with, so a reopen can reconstruct metadata that compares
// structurally equal to what was originally negotiated (spec §4.E).
func (d *Dataset) CompressorOpts() map[string]interface{} { return d.compOpts }

func (d *Dataset) slotAddr(idx uint64) uint64 {
	if addr, ok := d.overrides[idx]; ok {
		return addr
	}
	return d.ds.DataAddr() + idx*d.slotSize
}

// ReadChunk returns the decoded raw bytes for the chunk at key, sized to
// the chunk's clipped extent (spec §4.C read path feeding §4.F). A chunk
// that has never been written reads back as all-zero bytes, matching the
// "elements outside any write are the type's zero value" convention.
func (d *Dataset) ReadChunk(key coord.Key) ([]byte, error) {
	if !coord.ChunkExists(key, d.chunkShape, d.shape) {
		return nil, fmt.Errorf("chunk %s does not exist", key)
	}
	extent := coord.ClippedExtent(key, d.chunkShape, d.shape)
	rawLen := int(coord.NumElements(extent)) * d.dt.Size()

	idx := coord.LinearIndex(key, d.numChunks)
	addr := d.slotAddr(idx)

	var header []byte
	var err error
	if _, isOverride := d.overrides[idx]; isOverride {
		header, err = d.f.hf.ReadBytesAt(addr, slotHeaderSize)
	} else {
		header, err = d.ds.ReadAt(int64(addr-d.ds.DataAddr()), slotHeaderSize)
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk %s slot header: %w", key, err)
	}
	encodedLen := decodeUint64(header)
	if encodedLen == 0 {
		return make([]byte, rawLen), nil // never written
	}

	var body []byte
	if _, isOverride := d.overrides[idx]; isOverride {
		body, err = d.f.hf.ReadBytesAt(addr+slotHeaderSize, int(encodedLen))
	} else {
		body, err = d.ds.ReadAt(int64(addr-d.ds.DataAddr())+slotHeaderSize, int(encodedLen))
	}
	if err != nil {
		return nil, fmt.Errorf("reading chunk %s payload: %w", key, err)
	}

	decoded, err := d.comp.Decode(body, rawLen)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", key, err)
	}
	return decoded, nil
}

// WriteChunk stores raw bytes (row-major, sized to the chunk's clipped
// extent) for the chunk at key, compressing with the dataset's configured
// compressor. If the encoded payload no longer fits the chunk's slot, the
// slot is reallocated and the new address recorded in an override table
// persisted as a hidden attribute (SPEC_FULL.md §5 item 4).
func (d *Dataset) WriteChunk(key coord.Key, raw []byte) error {
	if !coord.ChunkExists(key, d.chunkShape, d.shape) {
		return fmt.Errorf("chunk %s does not exist", key)
	}
	extent := coord.ClippedExtent(key, d.chunkShape, d.shape)
	wantLen := int(coord.NumElements(extent)) * d.dt.Size()
	if len(raw) != wantLen {
		return fmt.Errorf("chunk %s: raw payload is %d bytes, want %d", key, len(raw), wantLen)
	}

	encoded, err := d.comp.Encode(raw)
	if err != nil {
		return fmt.Errorf("encoding chunk %s: %w", key, err)
	}

	idx := coord.LinearIndex(key, d.numChunks)
	slot := append(encodeUint64(uint64(len(encoded))), encoded...)

	if uint64(len(slot)) <= d.slotSize {
		addr := d.slotAddr(idx)
		if _, isOverride := d.overrides[idx]; isOverride {
			return d.f.hf.WriteBytesAt(addr, slot)
		}
		return d.ds.WriteAt(int64(addr-d.ds.DataAddr()), slot)
	}

	// Overflow: reallocate a dedicated slot elsewhere in the file.
	newAddr := d.f.hf.Allocate(int64(len(slot)))
	if err := d.f.hf.WriteBytesAt(newAddr, slot); err != nil {
		return fmt.Errorf("writing reallocated chunk %s: %w", key, err)
	}
	if d.overrides == nil {
		d.overrides = make(map[uint64]uint64)
	}
	d.overrides[idx] = newAddr
	if err := d.persistOverrides(); err != nil {
		return fmt.Errorf("persisting chunk overrides: %w", err)
	}
	d.f.log.Warnw("chunk slot reallocated", "dataset", d.name, "chunk", key.String(), "size", len(slot))
	return nil
}

func (d *Dataset) persistOverrides() error {
	blob, err := json.Marshal(d.overrides)
	if err != nil {
		return err
	}
	return d.ds.SetAttribute(attrOverrides, string(blob))
}

// SetAttr and GetAttr expose the driver-visible attribute namespace,
// distinct from the hidden system attributes used to persist metadata
// (spec component H).
func (d *Dataset) SetAttr(name string, value interface{}) error {
	if isSystemAttr(name) {
		return fmt.Errorf("attribute name %q is reserved", name)
	}
	return d.ds.SetAttribute(name, value)
}

func (d *Dataset) GetAttr(name string) (interface{}, error) {
	if isSystemAttr(name) {
		return nil, fmt.Errorf("attribute name %q is reserved", name)
	}
	return d.ds.GetAttribute(name)
}

func (d *Dataset) AttrNames() []string {
	var out []string
	for _, n := range d.ds.Attrs() {
		if !isSystemAttr(n) {
			out = append(out, n)
		}
	}
	return out
}

func isSystemAttr(name string) bool {
	switch name {
	case attrFormatMarker, attrShape, attrChunkShape, attrDtype, attrCompressorID, attrCompressorOpts, attrSlotSize, attrOverrides:
		return true
	default:
		return false
	}
}

// StorageSize returns the total bytes reserved for this dataset's chunk
// slots, including any overflow-reallocated slots (spec §4.C storage_size).
func (d *Dataset) StorageSize() uint64 {
	total := d.ds.DataSize()
	for range d.overrides {
		// Overflow slots live outside the dataset's contiguous region;
		// their exact sizes aren't tracked individually, so this reports
		// the base reservation plus a per-override slot-size estimate.
		total += d.slotSize
	}
	return total
}
