package sourcemap

import (
	"fmt"
	"sort"
)

// Shift describes a single-line text replacement in generated output: text
// between columns Start and End (old coordinates) changed length by Delta.
type Shift struct {
	Line  int // 1-based generated line
	Start int
	End   int
	Delta int
}

// Shift returns copy of m with generated columns moved to account for
// replacements. Segments after a replacement move by its delta, segments
// inside of it are clamped to the replacement end.
func (m *Map) Shift(shifts []Shift) (*Map, error) {
	out := m.Clone()
	if len(shifts) == 0 {
		return out, nil
	}

	lines, err := DecodeMappings(m.Mappings)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	byLine := make(map[int][]Shift)
	for _, s := range shifts {
		byLine[s.Line] = append(byLine[s.Line], s)
	}

	for lineNo, list := range byLine {
		idx := lineNo - 1
		if idx < 0 || idx >= len(lines) {
			continue
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Start < list[j].Start })
		for i := range lines[idx] {
			seg := &lines[idx][i]
			seg.GenColumn = shiftColumn(seg.GenColumn, list)
		}
	}

	out.Mappings = EncodeMappings(lines)
	return out, nil
}

func shiftColumn(col int, shifts []Shift) int {
	total := 0
	for _, s := range shifts {
		switch {
		case col >= s.End:
			total += s.Delta
		case col > s.Start:
			return min(col, s.End+s.Delta) + total
		default:
			return col + total
		}
	}
	return col + total
}
