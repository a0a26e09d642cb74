// Package attrstore implements the attribute store (spec component H): a
// small key/value namespace attached to a dataset, layered on the
// container package's SetAttr/GetAttr. It adds the JSON scalar<->native
// mapping and structured-value serialization the container's system
// attributes don't need but the spec's public attribute API does.
package attrstore

import (
	"encoding/json"
	"fmt"
)

// aggregatePrefix marks an attribute value that was too structured for the
// container's native scalar/array attribute encoding (spec §4.H allows
// arbitrary JSON-representable values; the container only encodes numeric
// scalars, numeric arrays, and strings). Such values are serialized to
// JSON and stored as a string with this prefix, and decoded back into a
// Go value on read.
const aggregatePrefix = "\x00json:"

// datasetAttrs is the subset of container.Dataset's attribute API this
// package needs; declared as an interface so attrstore has no import-time
// dependency on the container package, keeping the dependency direction
// (driver depends on both, not on each other) clean.
type datasetAttrs interface {
	SetAttr(name string, value interface{}) error
	GetAttr(name string) (interface{}, error)
	AttrNames() []string
}

// Store is the attribute namespace of one open dataset.
type Store struct {
	ds datasetAttrs
}

// New wraps a dataset's native attribute methods with attrstore's encoding.
func New(ds datasetAttrs) *Store {
	return &Store{ds: ds}
}

// Set stores value under name. Scalars and numeric slices that the
// container can represent natively are stored directly; everything else
// (bools, maps, nested slices) is JSON-encoded.
func (s *Store) Set(name string, value interface{}) error {
	if isNativelyEncodable(value) {
		return s.ds.SetAttr(name, value)
	}
	blob, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding attribute %q: %w", name, err)
	}
	return s.ds.SetAttr(name, aggregatePrefix+string(blob))
}

// Get reads back a value previously stored with Set.
func (s *Store) Get(name string) (interface{}, error) {
	v, err := s.ds.GetAttr(name)
	if err != nil {
		return nil, err
	}
	if str, ok := v.(string); ok && len(str) > len(aggregatePrefix) && str[:len(aggregatePrefix)] == aggregatePrefix {
		var decoded interface{}
		if err := json.Unmarshal([]byte(str[len(aggregatePrefix):]), &decoded); err != nil {
			return nil, fmt.Errorf("decoding attribute %q: %w", name, err)
		}
		return decoded, nil
	}
	return v, nil
}

// List returns the names of all user attributes on the dataset.
func (s *Store) List() []string {
	return s.ds.AttrNames()
}

func isNativelyEncodable(value interface{}) bool {
	switch value.(type) {
	case int8, int16, int32, int64, int,
		uint8, uint16, uint32, uint64, uint,
		float32, float64, string,
		[]int8, []int16, []int32, []int64, []int,
		[]uint8, []uint16, []uint32, []uint64, []uint,
		[]float32, []float64, []string:
		return true
	default:
		return false
	}
}
