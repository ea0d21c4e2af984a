package rewrite

import (
	"fmt"
	"path/filepath"
	"strings"

	"resolveurl/css"
	"resolveurl/resolve"
	"resolveurl/sourcemap"
)

type declState int

const (
	stateSkip        declState = iota // no url() statements
	stateNeedsOrigin                  // waiting for origin directory
	stateRewriting                    // origin known, urls being resolved
	stateDone
)

type originKind int

const (
	originFound   originKind = iota
	originAbsent             // no inbound map supplied
	originMissing            // map supplied, nothing there for the position
)

type origin struct {
	kind originKind
	dir  string
}

// lookupOrigin finds directory of the file declaration came from.
func lookupOrigin(p *sourcemap.Projector, d css.Declaration) origin {
	if p == nil {
		return origin{kind: originAbsent}
	}
	pos := d.LookupPosition()
	o, ok := p.Project(pos.Line, pos.Column)
	if !ok {
		return origin{kind: originMissing}
	}
	return origin{kind: originFound, dir: filepath.Dir(o.Source)}
}

// token is url() argument selected for resolution.
type token struct {
	seg      int    // index of URL segment
	uri      string // path part of the argument
	suffix   string // ?query and/or #hash
	resolved string // absolute path, empty when nothing was found
}

type declaration struct {
	css.Declaration
	state  declState
	dir    string
	segs   []css.Segment
	tokens []token
}

func newDeclaration(d css.Declaration) *declaration {
	rd := &declaration{Declaration: d, state: stateSkip}
	if css.HasURL(d.Value) {
		rd.state = stateNeedsOrigin
	}
	return rd
}

// locate moves declaration out of stateNeedsOrigin.
func (rd *declaration) locate(o origin) error {
	if rd.state != stateNeedsOrigin {
		return nil
	}
	switch o.kind {
	case originFound:
		rd.dir = o.dir
		rd.tokenize()
		rd.state = stateRewriting
		if len(rd.tokens) == 0 {
			rd.state = stateDone
		}
	case originAbsent:
		rd.state = stateDone
	case originMissing:
		pos := rd.LookupPosition()
		return fmt.Errorf("%w: %s at line %d, column %d", ErrNoSourceMapInfo, rd.Property, pos.Line, pos.Column)
	}
	return nil
}

func (rd *declaration) tokenize() {
	rd.segs = css.SplitURLs(rd.Value)
	for i, s := range rd.segs {
		if s.Kind != css.URLSegment || len(strings.TrimSpace(s.Text)) == 0 || isWebURL(s.Text) {
			continue
		}
		uri, suffix := resolve.SplitSuffix(s.Text)
		if len(uri) == 0 {
			continue
		}
		rd.tokens = append(rd.tokens, token{seg: i, uri: uri, suffix: suffix})
	}
}

func (rd *declaration) traces(encode func(token) (string, bool)) []Trace {
	out := make([]Trace, 0, len(rd.tokens))
	for _, tok := range rd.tokens {
		tr := Trace{
			Property: rd.Property,
			Position: rd.LookupPosition(),
			Origin:   rd.dir,
			URI:      tok.uri,
			Resolved: tok.resolved,
		}
		if text, ok := encode(tok); ok && text != rd.segs[tok.seg].Text {
			tr.Output = text
		}
		out = append(out, tr)
	}
	return out
}

// edits produces replacements for resolved tokens and completes declaration.
// Tokens which were not resolved or whose encoding matches current text are
// left alone.
func (rd *declaration) edits(encode func(token) (string, bool)) []css.Edit {
	if rd.state != stateRewriting {
		return nil
	}
	var out []css.Edit
	for _, tok := range rd.tokens {
		text, ok := encode(tok)
		seg := rd.segs[tok.seg]
		if !ok || text == seg.Text {
			continue
		}
		out = append(out, css.Edit{Offset: rd.Offset + seg.Offset, Length: len(seg.Text), Text: text})
	}
	rd.state = stateDone
	return out
}
