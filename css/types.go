package css

import (
	"sort"
	"unicode/utf16"
	"unicode/utf8"
)

// Position is a location in CSS text. Line is 1-based, Column is 0-based and
// counted in UTF-16 code units, which is what source maps use.
type Position struct {
	Line   int
	Column int
}

// Declaration is a single property: value pair found in a document. It is an
// immutable record: rewriting produces edits, never a modified declaration.
type Declaration struct {
	Property string   // Property name as written
	Value    string   // Value text without surrounding whitespace and terminator
	Offset   int      // Byte offset of the value in the document
	Start    Position // Position of the first value character
	End      Position // Position just past the last value character
}

// LookupPosition returns the position used to query a source map for the
// declaration: the end of the value moved back by the value length, which is
// the value start for single line values.
func (d Declaration) LookupPosition() Position {
	if d.Start.Line != d.End.Line {
		return d.Start
	}
	return Position{Line: d.End.Line, Column: d.End.Column - UTF16Len(d.Value)}
}

// Edit replaces Length bytes at Offset with Text.
type Edit struct {
	Offset int
	Length int
	Text   string
}

// Document is scanned CSS text together with its declarations in source order.
type Document struct {
	data         []byte
	lineStarts   []int
	Declarations []Declaration
}

// Bytes returns document text.
func (d *Document) Bytes() []byte {
	return d.data
}

// PositionAt converts byte offset into Position.
func (d *Document) PositionAt(offset int) Position {
	line := sort.Search(len(d.lineStarts), func(i int) bool { return d.lineStarts[i] > offset }) - 1
	if line < 0 {
		line = 0
	}
	start := d.lineStarts[line]
	if offset > len(d.data) {
		offset = len(d.data)
	}
	return Position{Line: line + 1, Column: UTF16Len(string(d.data[start:offset]))}
}

// Render produces document text with edits applied. Edits must not overlap,
// they are applied in offset order regardless of the order given.
func (d *Document) Render(edits []Edit) []byte {
	if len(edits) == 0 {
		return d.data
	}
	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Offset < sorted[j].Offset })

	out := make([]byte, 0, len(d.data))
	last := 0
	for _, e := range sorted {
		out = append(out, d.data[last:e.Offset]...)
		out = append(out, e.Text...)
		last = e.Offset + e.Length
	}
	return append(out, d.data[last:]...)
}

func newDocument(data []byte) *Document {
	doc := &Document{data: data, lineStarts: []int{0}}
	for i, b := range data {
		if b == '\n' {
			doc.lineStarts = append(doc.lineStarts, i+1)
		}
	}
	return doc
}

// UTF16Len returns length of s in UTF-16 code units.
func UTF16Len(s string) int {
	n := 0
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		s = s[size:]
		if utf16.RuneLen(r) == 2 {
			n += 2
		} else {
			n++
		}
	}
	return n
}
