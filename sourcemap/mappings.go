package sourcemap

import (
	"errors"
	"fmt"
	"strings"
)

const base64Chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

var base64Values = func() (v [256]int8) {
	for i := range v {
		v[i] = -1
	}
	for i := range len(base64Chars) {
		v[base64Chars[i]] = int8(i)
	}
	return
}()

// Segment is a single decoded mapping with absolute (not delta) values.
// Source is -1 for segments without original position, Name is -1 when absent.
type Segment struct {
	GenColumn  int
	Source     int
	OrigLine   int // 0-based
	OrigColumn int
	Name       int
}

// Line holds segments of one generated line.
type Line []Segment

var errVLQ = errors.New("invalid VLQ data")

// DecodeMappings decodes "mappings" field into generated lines.
func DecodeMappings(s string) ([]Line, error) {
	var (
		lines                           = []Line{nil}
		source, origLine, origCol, name int
	)
	for lineNo, text := range strings.Split(s, ";") {
		if lineNo > 0 {
			lines = append(lines, nil)
		}
		genCol := 0
		for field := range strings.SplitSeq(text, ",") {
			if len(field) == 0 {
				continue
			}
			values, err := decodeVLQ(field)
			if err != nil {
				return nil, fmt.Errorf("mappings line %d: %w", lineNo+1, err)
			}
			seg := Segment{Source: -1, Name: -1}
			switch len(values) {
			case 1, 4, 5:
			default:
				return nil, fmt.Errorf("mappings line %d: segment with %d fields", lineNo+1, len(values))
			}
			genCol += values[0]
			seg.GenColumn = genCol
			if len(values) >= 4 {
				source += values[1]
				origLine += values[2]
				origCol += values[3]
				seg.Source, seg.OrigLine, seg.OrigColumn = source, origLine, origCol
			}
			if len(values) == 5 {
				name += values[4]
				seg.Name = name
			}
			lines[lineNo] = append(lines[lineNo], seg)
		}
	}
	return lines, nil
}

// EncodeMappings is reverse of DecodeMappings.
func EncodeMappings(lines []Line) string {
	var (
		sb                                  strings.Builder
		prevSource, prevLine, prevCol, prev int
	)
	for i, line := range lines {
		if i > 0 {
			sb.WriteByte(';')
		}
		genCol := 0
		for j, seg := range line {
			if j > 0 {
				sb.WriteByte(',')
			}
			encodeVLQ(&sb, seg.GenColumn-genCol)
			genCol = seg.GenColumn
			if seg.Source < 0 {
				continue
			}
			encodeVLQ(&sb, seg.Source-prevSource)
			encodeVLQ(&sb, seg.OrigLine-prevLine)
			encodeVLQ(&sb, seg.OrigColumn-prevCol)
			prevSource, prevLine, prevCol = seg.Source, seg.OrigLine, seg.OrigColumn
			if seg.Name >= 0 {
				encodeVLQ(&sb, seg.Name-prev)
				prev = seg.Name
			}
		}
	}
	return sb.String()
}

func decodeVLQ(field string) ([]int, error) {
	var (
		out          []int
		value, shift int
	)
	for i := range len(field) {
		digit := base64Values[field[i]]
		if digit < 0 {
			return nil, fmt.Errorf("%w: unexpected character %q", errVLQ, field[i])
		}
		value += int(digit&0x1f) << shift
		if digit&0x20 != 0 {
			shift += 5
			continue
		}
		if value&1 != 0 {
			out = append(out, -(value >> 1))
		} else {
			out = append(out, value>>1)
		}
		value, shift = 0, 0
	}
	if shift != 0 {
		return nil, fmt.Errorf("%w: truncated value", errVLQ)
	}
	return out, nil
}

func encodeVLQ(sb *strings.Builder, v int) {
	u := v << 1
	if v < 0 {
		u = (-v << 1) | 1
	}
	for {
		digit := u & 0x1f
		u >>= 5
		if u > 0 {
			digit |= 0x20
		}
		sb.WriteByte(base64Chars[digit])
		if u == 0 {
			return
		}
	}
}
