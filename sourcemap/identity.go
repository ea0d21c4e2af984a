package sourcemap

import (
	"bytes"
	"path/filepath"
)

// Identity builds a map where every line of content maps to the same line of
// source. It stands in for a missing inbound map when output map is requested.
func Identity(source string, content []byte, withContent bool) *Map {
	lines := make([]Line, bytes.Count(content, []byte{'\n'})+1)
	for i := range lines {
		lines[i] = Line{{GenColumn: 0, Source: 0, OrigLine: i, OrigColumn: 0, Name: -1}}
	}
	m := &Map{
		Version:  3,
		File:     filepath.Base(source),
		Sources:  []string{source},
		Names:    []string{},
		Mappings: EncodeMappings(lines),
	}
	if withContent {
		text := string(content)
		m.SourcesContent = []*string{&text}
	}
	return m
}
