package sourcemap

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	gosourcemap "github.com/go-sourcemap/sourcemap"
)

// Origin is original location of generated text.
type Origin struct {
	Source string // absolute path of the original file
	Line   int    // 1-based
	Column int    // 0-based
}

// Projector maps generated positions back to original files. It must be
// built from a map in absolute form.
type Projector struct {
	consumer *gosourcemap.Consumer
	lines    []Line
}

// NewProjector prepares map for lookups.
func NewProjector(m *Map) (*Projector, error) {
	// lookup library treats sources as URLs
	c := m.Clone()
	c.SourceRoot = ""
	for i, s := range c.Sources {
		c.Sources[i] = filepath.ToSlash(s)
	}
	lines, err := DecodeMappings(c.Mappings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	p := &Projector{lines: lines}
	if len(c.Mappings) == 0 {
		// consumer refuses maps without mappings, nothing could be found anyway
		return p, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if p.consumer, err = gosourcemap.Parse("", data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return p, nil
}

// Project returns original position for generated line (1-based) and column
// (0-based). False is returned when the map has no source for the position.
func (p *Projector) Project(line, column int) (Origin, bool) {
	// consumer falls back to segments of preceding lines and lets unmapped
	// segments inherit previous source, so only lines having a sourced
	// segment at or before column are passed to it
	if p.consumer == nil || line < 1 || line > len(p.lines) {
		return Origin{}, false
	}
	var seg *Segment
	for i := range p.lines[line-1] {
		if p.lines[line-1][i].GenColumn > column {
			break
		}
		seg = &p.lines[line-1][i]
	}
	if seg == nil || seg.Source < 0 {
		return Origin{}, false
	}

	source, _, origLine, origColumn, ok := p.consumer.Source(line, column)
	if !ok || len(source) == 0 {
		return Origin{}, false
	}
	return Origin{Source: filepath.FromSlash(source), Line: origLine, Column: origColumn}, true
}
