// Package driverspec decodes the dataset JSON spec (spec §6) that
// configures a driver.Dataset: which container file, which dataset path
// inside it, and the schema constraints to negotiate. It accepts the
// canonical JSON form plus JSONC (comments stripped) and YAML, for
// operators hand-authoring configs, but implements no registry — callers
// still construct a driver.Dataset themselves from the decoded Spec.
package driverspec

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/kestrelio/hdf5chunk/dtype"
	"github.com/kestrelio/hdf5chunk/metadata"
)

// ChunkLayout mirrors spec §6's optional "chunk_layout" object.
type ChunkLayout struct {
	GridOrigin []uint64 `json:"grid_origin,omitempty" yaml:"grid_origin,omitempty"`
	InnerOrder []int    `json:"inner_order,omitempty" yaml:"inner_order,omitempty"`
	Chunk      []uint64 `json:"chunk,omitempty" yaml:"chunk,omitempty"`
}

// Compression mirrors spec §6's optional "compression" object.
type Compression struct {
	Type  string `json:"type" yaml:"type"`
	Level int    `json:"level,omitempty" yaml:"level,omitempty"`
}

// Spec is the decoded form of spec §6's dataset JSON spec.
type Spec struct {
	Driver      string                 `json:"driver" yaml:"driver"`
	Path        string                 `json:"path" yaml:"path"`
	Dataset     string                 `json:"dataset" yaml:"dataset"`
	DType       string                 `json:"dtype,omitempty" yaml:"dtype,omitempty"`
	Shape       []uint64               `json:"shape,omitempty" yaml:"shape,omitempty"`
	ChunkLayout *ChunkLayout           `json:"chunk_layout,omitempty" yaml:"chunk_layout,omitempty"`
	Compression *Compression           `json:"compression,omitempty" yaml:"compression,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// ParseJSON decodes the canonical (or JSONC, comments-and-trailing-commas
// tolerant) form of a dataset spec.
func ParseJSON(data []byte) (*Spec, error) {
	stripped := jsonc.ToJSON(data)
	var s Spec
	if err := json.Unmarshal(stripped, &s); err != nil {
		return nil, fmt.Errorf("decoding dataset spec: %w", err)
	}
	return validate(&s)
}

// ParseYAML decodes a dataset spec written in YAML, for operators who
// prefer it to JSON.
func ParseYAML(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decoding dataset spec: %w", err)
	}
	return validate(&s)
}

// Parse dispatches to ParseYAML when data looks like YAML (starts with a
// key: value line rather than '{'), and ParseJSON/JSONC otherwise.
func Parse(data []byte) (*Spec, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "{") {
		return ParseJSON(data)
	}
	return ParseYAML(data)
}

func validate(s *Spec) (*Spec, error) {
	if s.Driver != "" && s.Driver != "hdf5" {
		return nil, fmt.Errorf("unsupported driver %q", s.Driver)
	}
	if s.Path == "" {
		return nil, fmt.Errorf("dataset spec missing required field \"path\"")
	}
	if s.Dataset == "" {
		return nil, fmt.Errorf("dataset spec missing required field \"dataset\"")
	}
	if s.ChunkLayout != nil {
		for _, o := range s.ChunkLayout.GridOrigin {
			if o != 0 {
				return nil, fmt.Errorf("grid_origin must be all zeros")
			}
		}
	}
	return s, nil
}

// Constraints converts the spec's schema fields into metadata.Constraints,
// suitable for driver.CreateDataset/OpenDataset.
func (s *Spec) Constraints() (metadata.Constraints, error) {
	var c metadata.Constraints
	c.Shape = s.Shape

	if s.DType != "" {
		dt, err := dtype.Parse(s.DType)
		if err != nil {
			return c, fmt.Errorf("dataset spec: %w", err)
		}
		c.DType = dt
	}

	if s.ChunkLayout != nil {
		c.ChunkShape = s.ChunkLayout.Chunk
	}

	if s.Compression != nil {
		c.CompressorID = s.Compression.Type
		if s.Compression.Level != 0 {
			c.CompressorOpts = map[string]interface{}{"level": s.Compression.Level}
		}
	}

	if len(s.Metadata) > 0 {
		if err := mergeMetadataOverrides(&c, s.Metadata); err != nil {
			return c, err
		}
	}
	return c, nil
}

// mergeMetadataOverrides applies the optional "metadata" object (spec §6:
// "same keys as above, all optional"), letting it override the top-level
// shape/dtype/chunk_layout/compression fields when both are present.
func mergeMetadataOverrides(c *metadata.Constraints, m map[string]interface{}) error {
	if v, ok := m["dtype"].(string); ok {
		dt, err := dtype.Parse(v)
		if err != nil {
			return fmt.Errorf("dataset spec metadata: %w", err)
		}
		c.DType = dt
	}
	if v, ok := m["shape"].([]interface{}); ok {
		c.Shape = toUint64Slice(v)
	}
	if v, ok := m["chunk_shape"].([]interface{}); ok {
		c.ChunkShape = toUint64Slice(v)
	}
	if v, ok := m["compressor"].(string); ok {
		c.CompressorID = v
	}
	if v, ok := m["chunk_layout"].(map[string]interface{}); ok {
		if chunk, ok := v["chunk"].([]interface{}); ok {
			c.ChunkShape = toUint64Slice(chunk)
		}
	}
	if v, ok := m["compression"].(map[string]interface{}); ok {
		if id, ok := v["type"].(string); ok {
			c.CompressorID = id
		}
		if lvl, ok := v["level"].(float64); ok && lvl != 0 {
			c.CompressorOpts = map[string]interface{}{"level": int(lvl)}
		}
	}
	return nil
}

func toUint64Slice(vs []interface{}) []uint64 {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		if f, ok := v.(float64); ok {
			out[i] = uint64(f)
		}
	}
	return out
}
