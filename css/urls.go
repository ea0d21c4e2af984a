package css

import "strings"

// SegmentKind tells literal value text from url() arguments.
type SegmentKind int

const (
	LiteralSegment SegmentKind = iota // passed through verbatim
	URLSegment                        // argument of url() statement
)

// Segment is a piece of a declaration value. For URLSegment Text is the
// argument without quotes, Quote is the quote character used (0 when
// unquoted) and Offset is the byte offset of Text in the value.
type Segment struct {
	Kind   SegmentKind
	Text   string
	Quote  byte
	Offset int
}

// SplitURLs splits a declaration value into literal and url() argument
// segments. Joining segment texts reproduces value exactly: the "url(",
// quotes, surrounding whitespace and ")" all stay in literal segments.
// Escapes inside quoted arguments are skipped over but never decoded. Empty
// unquoted arguments are not reported as URL segments.
func SplitURLs(value string) []Segment {
	var (
		segs []Segment
		lit  int
	)
	for i := 0; i < len(value); {
		open, ok := matchURLOpen(value, i)
		if !ok {
			i++
			continue
		}
		argStart, argEnd, quote, next, ok := scanURLArgument(value, open)
		if !ok {
			i = open
			continue
		}
		if argStart > lit {
			segs = append(segs, Segment{Kind: LiteralSegment, Text: value[lit:argStart], Offset: lit})
		}
		segs = append(segs, Segment{Kind: URLSegment, Text: value[argStart:argEnd], Quote: quote, Offset: argStart})
		lit, i = argEnd, next
	}
	if lit < len(value) {
		segs = append(segs, Segment{Kind: LiteralSegment, Text: value[lit:], Offset: lit})
	}
	return segs
}

// JoinSegments concatenates segment texts.
func JoinSegments(segs []Segment) string {
	var sb strings.Builder
	for _, s := range segs {
		sb.WriteString(s.Text)
	}
	return sb.String()
}

// HasURL reports whether value contains a "url(" opening, matched case
// insensitively with optional whitespace before the parenthesis. Empty and
// unterminated statements count.
func HasURL(value string) bool {
	for i := range len(value) {
		if _, ok := matchURLOpen(value, i); ok {
			return true
		}
	}
	return false
}

// matchURLOpen checks for case insensitive "url" followed by optional
// whitespace and "(" at i and returns position after the parenthesis.
func matchURLOpen(value string, i int) (int, bool) {
	if i+3 > len(value) || !strings.EqualFold(value[i:i+3], "url") {
		return 0, false
	}
	if i > 0 && isNameByte(value[i-1]) {
		return 0, false
	}
	j := skipSpace(value, i+3)
	if j >= len(value) || value[j] != '(' {
		return 0, false
	}
	return j + 1, true
}

// scanURLArgument reads url() argument starting at p (just after "(") and
// returns argument bounds, quote and the position after closing parenthesis.
func scanURLArgument(value string, p int) (start, end int, quote byte, next int, ok bool) {
	p = skipSpace(value, p)
	if p >= len(value) {
		return 0, 0, 0, 0, false
	}

	if q := value[p]; q == '\'' || q == '"' {
		j := p + 1
		for ; j < len(value) && value[j] != q; j++ {
			if value[j] == '\\' {
				j++
			}
		}
		if j >= len(value) {
			return 0, 0, 0, 0, false
		}
		k := skipSpace(value, j+1)
		if k >= len(value) || value[k] != ')' {
			return 0, 0, 0, 0, false
		}
		return p + 1, j, q, k + 1, true
	}

	c := strings.IndexByte(value[p:], ')')
	if c < 0 {
		return 0, 0, 0, 0, false
	}
	c += p
	end = c
	for end > p && isSpace(value[end-1]) {
		end--
	}
	if end == p {
		return 0, 0, 0, 0, false
	}
	return p, end, 0, c + 1, true
}

func skipSpace(s string, i int) int {
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	return i
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f'
}

func isNameByte(b byte) bool {
	return b == '-' || b == '_' || b >= 0x80 ||
		('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}
