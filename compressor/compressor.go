// Package compressor implements the pluggable chunk compression registry
// (spec component C's compressor parameter, spec §6's "compressor" field).
// Each entry names an id used in dataset metadata plus an Encode/Decode
// pair; ids round-trip through the registry the same way HDF5's own filter
// pipeline resolves a filter ID to an implementation
// (internal/filter.Registry), but these operate on whole chunks rather than
// HDF5's filter-message client data.
package compressor

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pierrec/lz4/v4"
)

// Compressor encodes and decodes whole chunk payloads.
type Compressor interface {
	// ID is the short name persisted in dataset metadata (spec §6).
	ID() string
	Encode(raw []byte) ([]byte, error)
	Decode(encoded []byte, rawLen int) ([]byte, error)
	// Opts returns the parameters this instance was constructed with, so
	// callers can persist them alongside ID and reconstruct an equivalent
	// Compressor on reopen (spec §4.E compressor equality).
	Opts() Params
}

// Params binds JSON compressor parameters (spec §6's `{"id": ..., ...}`
// object) onto a Compressor instance.
type Params map[string]interface{}

type constructor func(Params) (Compressor, error)

var registry = map[string]constructor{}

func register(id string, ctor constructor) {
	registry[id] = ctor
}

// New resolves a compressor by id and binds params. An unknown id is an
// error (spec §6: an unrecognized compressor id must fail dataset open),
// not a silent no-op.
func New(id string, params Params) (Compressor, error) {
	if id == "" || id == "none" {
		return noneCompressor{}, nil
	}
	ctor, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown compressor id %q", id)
	}
	return ctor(params)
}

func init() {
	register("gzip", func(p Params) (Compressor, error) {
		level := gzip.DefaultCompression
		if v, ok := p["level"]; ok {
			level = toInt(v, level)
		}
		if level < gzip.HuffmanOnly || level > gzip.BestCompression {
			return nil, fmt.Errorf("gzip level %d out of range", level)
		}
		return &gzipCompressor{level: level}, nil
	})
	register("lz4", func(p Params) (Compressor, error) {
		return &lz4Compressor{}, nil
	})
}

func toInt(v interface{}, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}

// noneCompressor stores chunks uncompressed, still round-tripping through
// the Compressor interface so the container's slot-length prefix logic
// never special-cases "no compression" (spec §5's Open Question 4 resolution
// applies uniformly regardless of compressor).
type noneCompressor struct{}

func (noneCompressor) ID() string   { return "none" }
func (noneCompressor) Opts() Params { return nil }
func (noneCompressor) Encode(raw []byte) ([]byte, error) {
	return raw, nil
}
func (noneCompressor) Decode(encoded []byte, rawLen int) ([]byte, error) {
	if len(encoded) != rawLen {
		return nil, fmt.Errorf("none compressor: length mismatch, got %d want %d", len(encoded), rawLen)
	}
	return encoded, nil
}

type gzipCompressor struct {
	level int
}

func (c *gzipCompressor) ID() string   { return "gzip" }
func (c *gzipCompressor) Opts() Params { return Params{"level": c.level} }

func (c *gzipCompressor) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("gzip writer: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *gzipCompressor) Decode(encoded []byte, rawLen int) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	out := make([]byte, 0, rawLen)
	buf := bytes.NewBuffer(out)
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("gzip decompress: %w", err)
	}
	return buf.Bytes(), nil
}

type lz4Compressor struct{}

func (c *lz4Compressor) ID() string   { return "lz4" }
func (c *lz4Compressor) Opts() Params { return nil }

func (c *lz4Compressor) Encode(raw []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(raw)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(raw, buf)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 && len(raw) > 0 {
		// Incompressible input: lz4 leaves the block empty rather than
		// expanding it. Fall back to storing the raw bytes behind a leading
		// marker byte of 0, which Decode checks to tell them apart from an
		// lz4 block (marker 1).
		return append([]byte{0}, raw...), nil
	}
	return append([]byte{1}, buf[:n]...), nil
}

func (c *lz4Compressor) Decode(encoded []byte, rawLen int) ([]byte, error) {
	if len(encoded) == 0 {
		if rawLen == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lz4 decode: empty input for non-empty chunk")
	}
	marker, body := encoded[0], encoded[1:]
	if marker == 0 {
		if len(body) != rawLen {
			return nil, fmt.Errorf("lz4 decode: stored-raw length mismatch")
		}
		return body, nil
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("lz4 decode: expected %d bytes, got %d", rawLen, n)
	}
	return out, nil
}
