// Package sourcemap handles revision 3 source maps: decoding of structured and
// string encoded maps, conversion of sources between relative and absolute
// form, adjustment of generated columns after edits and position lookups.
package sourcemap

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/tidwall/jsonc"
)

// ErrDecode is returned when a map cannot be decoded or normalized.
var ErrDecode = errors.New("source-map error")

// Map is a source map as it is serialized.
type Map struct {
	Version        int             `json:"version"`
	File           string          `json:"file,omitempty"`
	SourceRoot     string          `json:"sourceRoot,omitempty"`
	Sources        []string        `json:"sources"`
	SourcesContent []*string       `json:"sourcesContent,omitempty"`
	Names          []string        `json:"names"`
	Mappings       string          `json:"mappings"`
	Sections       json.RawMessage `json:"sections,omitempty"`
}

// Decode accepts a map in any form hosts hand it over: *Map, Map, JSON text
// as string or []byte (comments and trailing commas tolerated) or a generic
// decoded JSON object. Nil input gives nil map and no error.
func Decode(v any) (*Map, error) {
	var data []byte
	switch m := v.(type) {
	case nil:
		return nil, nil
	case *Map:
		if m == nil {
			return nil, nil
		}
		return check(m.Clone())
	case Map:
		return check(m.Clone())
	case string:
		data = []byte(m)
	case []byte:
		data = m
	case json.RawMessage:
		data = m
	default:
		var err error
		if data, err = json.Marshal(m); err != nil {
			return nil, fmt.Errorf("%w: unable to encode source-map object: %w", ErrDecode, err)
		}
	}

	m := &Map{}
	if err := json.Unmarshal(jsonc.ToJSON(data), m); err != nil {
		return nil, fmt.Errorf("%w: cannot parse source-map string: %w", ErrDecode, err)
	}
	return check(m)
}

func check(m *Map) (*Map, error) {
	if m.Version != 3 {
		return nil, fmt.Errorf("%w: unsupported source-map version %d", ErrDecode, m.Version)
	}
	if len(m.Sections) > 0 {
		return nil, fmt.Errorf("%w: indexed source-maps are not supported", ErrDecode)
	}
	if _, err := DecodeMappings(m.Mappings); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return m, nil
}

// Clone returns deep copy of m.
func (m Map) Clone() *Map {
	c := m
	c.Sources = slices.Clone(m.Sources)
	c.Names = slices.Clone(m.Names)
	c.SourcesContent = slices.Clone(m.SourcesContent)
	c.Sections = slices.Clone(m.Sections)
	return &c
}

// Bytes returns map JSON.
func (m *Map) Bytes() ([]byte, error) {
	return json.Marshal(m)
}
