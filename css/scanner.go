package css

import (
	"bytes"
	"errors"
	"io"

	parse "github.com/tdewolff/parse/v2"
	"github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Scanner finds declarations in CSS text without altering it.
type Scanner struct {
	log *zap.Logger
}

// NewScanner creates a new CSS scanner.
func NewScanner(log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{log: log.Named("css-scanner")}
}

type scanState int

const (
	statePrelude  scanState = iota // selector or at-rule prelude
	stateProperty                  // inside a block, expecting property name
	stateColon                     // property name seen, expecting colon
	stateValue                     // collecting value tokens
)

// Scan lexes data and collects every declaration with its value position.
// The optional source parameter identifies what's being scanned (for debug logging).
// Lexer tokens are lossless, so byte offsets are tracked by summing token lengths.
func (s *Scanner) Scan(data []byte, source ...string) *Document {
	if len(source) > 0 && source[0] != "" {
		s.log.Debug("Scanning CSS", zap.String("source", source[0]), zap.Int("bytes", len(data)))
	}

	doc := newDocument(data)
	lexer := css.NewLexer(parse.NewInput(bytes.NewReader(data)))

	var (
		offset     int
		depth      int
		parens     int
		state      = statePrelude
		property   string
		valueStart = -1
		valueEnd   = -1
	)

	finish := func() {
		if valueStart >= 0 && valueEnd > valueStart {
			doc.Declarations = append(doc.Declarations, Declaration{
				Property: property,
				Value:    string(data[valueStart:valueEnd]),
				Offset:   valueStart,
				Start:    doc.PositionAt(valueStart),
				End:      doc.PositionAt(valueEnd),
			})
		}
		property, valueStart, valueEnd, parens = "", -1, -1, 0
	}
	closeBlock := func() {
		if depth > 0 {
			depth--
		}
		if depth > 0 {
			state = stateProperty
		} else {
			state = statePrelude
		}
	}
	// prelude handles tokens outside of declarations, nested rules included.
	prelude := func(tt css.TokenType) {
		switch tt {
		case css.LeftBraceToken:
			depth++
			state = stateProperty
		case css.RightBraceToken:
			closeBlock()
		case css.SemicolonToken:
			if depth > 0 {
				state = stateProperty
			}
		}
	}

	for {
		tt, tok := lexer.Next()
		if tt == css.ErrorToken {
			if err := lexer.Err(); err != nil && !errors.Is(err, io.EOF) {
				s.log.Debug("CSS lexer error", zap.Error(err))
			}
			break
		}
		start := offset
		offset += len(tok)

		switch state {
		case statePrelude:
			prelude(tt)

		case stateProperty:
			switch tt {
			case css.WhitespaceToken, css.CommentToken, css.SemicolonToken:
			case css.IdentToken, css.CustomPropertyNameToken:
				property = string(tok)
				state = stateColon
			default:
				// nested rule or at-rule inside a block
				state = statePrelude
				prelude(tt)
			}

		case stateColon:
			switch tt {
			case css.WhitespaceToken, css.CommentToken:
			case css.ColonToken:
				state = stateValue
			default:
				property = ""
				state = statePrelude
				prelude(tt)
			}

		case stateValue:
			switch tt {
			case css.WhitespaceToken, css.CommentToken:
				// never part of value boundaries
			case css.FunctionToken, css.LeftParenthesisToken:
				parens++
				valueStart, valueEnd = extend(valueStart, start, offset)
			case css.RightParenthesisToken:
				if parens > 0 {
					parens--
				}
				valueStart, valueEnd = extend(valueStart, start, offset)
			case css.SemicolonToken:
				if parens > 0 {
					valueStart, valueEnd = extend(valueStart, start, offset)
					continue
				}
				finish()
				state = stateProperty
			case css.RightBraceToken:
				finish()
				closeBlock()
			case css.LeftBraceToken:
				// what looked like a declaration was a nested selector (a:hover {)
				property, valueStart, valueEnd, parens = "", -1, -1, 0
				depth++
				state = stateProperty
			default:
				valueStart, valueEnd = extend(valueStart, start, offset)
			}
		}
	}
	if state == stateValue {
		finish()
	}

	s.log.Debug("Scanned CSS", zap.Int("declarations", len(doc.Declarations)))
	return doc
}

func extend(valueStart, start, end int) (int, int) {
	if valueStart < 0 {
		valueStart = start
	}
	return valueStart, end
}
