// Package rewrite rewrites url() statements of compiled CSS so they point to
// files relative to the sources CSS was produced from. Origin of every
// declaration is found using inbound source map.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"resolveurl/css"
	"resolveurl/resolve"
	"resolveurl/sourcemap"
)

// Input is a single CSS resource to transform.
type Input struct {
	CSS []byte
	// Map is inbound source map: nil, *sourcemap.Map, JSON text as string or
	// []byte or decoded JSON object.
	Map any
	// ResourcePath is absolute path of the CSS file, urls are re-expressed
	// relative to its directory.
	ResourcePath string
	// ProjectDir is used for protocol sources (webpack:///./src/a.scss) of
	// inbound map, defaults to resource directory.
	ProjectDir string
}

// Result of a transform. On recoverable failure CSS is the original content
// and Map is nil.
type Result struct {
	CSS       []byte
	Map       *sourcemap.Map
	Warnings  []error
	Rewritten int // number of url() arguments replaced
	Traces    []Trace
}

// Trace tells what happened to single url() argument which was looked at.
type Trace struct {
	Property string
	Position css.Position // declaration value start
	Origin   string       // directory declaration came from
	URI      string
	Resolved string // empty when nothing was found
	Output   string // empty when argument was left alone
}

// Transformer rewrites CSS resources. It keeps no state between calls and
// may be used concurrently.
type Transformer struct {
	opts    Options
	finder  *resolve.Finder
	scanner *css.Scanner
	log     *zap.Logger
}

// New validates options and creates Transformer. Nil fs means OS
// filesystem. Invalid root is always reported as error.
func New(opts Options, fs afero.Fs, log *zap.Logger) (*Transformer, error) {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = zap.NewNop()
	}
	if err := opts.Validate(fs); err != nil {
		return nil, err
	}
	log = log.Named("rewrite")
	return &Transformer{
		opts:    opts,
		finder:  resolve.NewFinder(fs, resolve.Options{Attempts: opts.Attempts, Root: opts.Root}, log),
		scanner: css.NewScanner(log),
		log:     log,
	}, nil
}

// Transform rewrites url() statements of in.CSS. When ctx is done the
// original content is returned together with ctx error, partial results are
// never produced.
func (t *Transformer) Transform(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return &Result{CSS: in.CSS}, err
	}
	resourceDir := filepath.Dir(in.ResourcePath)

	inbound, err := sourcemap.Decode(in.Map)
	if err != nil {
		return t.cannotOperate(in, "source-map error", err)
	}

	var (
		codec     *sourcemap.Codec
		absMap    *sourcemap.Map
		projector *sourcemap.Projector
	)
	if inbound != nil {
		if codec, err = sourcemap.NewCodec(resourceDir, in.ProjectDir, inbound.SourceRoot); err != nil {
			return t.cannotOperate(in, "source-map error", err)
		}
		if absMap, err = inbound.ToAbsolute(codec); err != nil {
			return t.cannotOperate(in, "source-map error", err)
		}
		if projector, err = sourcemap.NewProjector(absMap); err != nil {
			return t.cannotOperate(in, "source-map error", err)
		}
	}

	doc := t.scanner.Scan(in.CSS, in.ResourcePath)
	edits, traces, err := t.rewrite(ctx, doc, projector, encoder{
		absolute:    t.opts.Absolute,
		keepQuery:   t.opts.KeepQuery,
		resourceDir: resourceDir,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return &Result{CSS: in.CSS}, ctxErr
		}
		return t.cannotOperate(in, "CSS error", fmt.Errorf("%w: %w", ErrProcessing, err))
	}

	res := &Result{CSS: doc.Render(edits), Rewritten: len(edits), Traces: traces}
	if !t.opts.SourceMap {
		return res, nil
	}

	if absMap == nil {
		// nothing came in, map output to the resource itself
		if codec, err = sourcemap.NewCodec(resourceDir, in.ProjectDir, ""); err != nil {
			return t.cannotOperate(in, "source-map error", err)
		}
		absMap = sourcemap.Identity(in.ResourcePath, in.CSS, true)
	}
	shifted, err := absMap.Shift(shifts(doc, edits))
	if err != nil {
		return t.cannotOperate(in, "source-map error", err)
	}
	res.Map = shifted.ToRelative(codec)
	return res, nil
}

// rewrite walks declarations and produces edits. Existence checks of all
// declarations run concurrently, errors abort the whole pass.
func (t *Transformer) rewrite(ctx context.Context, doc *css.Document, p *sourcemap.Projector, enc encoder) ([]css.Edit, []Trace, error) {
	var pending []*declaration
	for _, d := range doc.Declarations {
		rd := newDeclaration(d)
		if rd.state == stateSkip {
			continue
		}
		if err := rd.locate(lookupOrigin(p, d)); err != nil {
			return nil, nil, err
		}
		if rd.state == stateRewriting {
			pending = append(pending, rd)
		}
	}
	if len(pending) == 0 {
		return nil, nil, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.opts.concurrency())
	for _, rd := range pending {
		for i := range rd.tokens {
			tok := &rd.tokens[i]
			g.Go(func() error {
				resolved, err := t.finder.Find(gctx, rd.dir, tok.uri)
				if err != nil {
					return err
				}
				tok.resolved = resolved
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var (
		edits  []css.Edit
		traces []Trace
	)
	for _, rd := range pending {
		traces = append(traces, rd.traces(enc.encode)...)
		edits = append(edits, rd.edits(enc.encode)...)
	}
	t.log.Debug("Rewritten urls", zap.Int("declarations", len(pending)), zap.Int("urls", len(edits)))
	return edits, traces, nil
}

// shifts converts edits into generated column changes for the outbound map.
// Multi-line replacements cannot be expressed and are ignored.
func shifts(doc *css.Document, edits []css.Edit) []sourcemap.Shift {
	out := make([]sourcemap.Shift, 0, len(edits))
	for _, e := range edits {
		start, end := doc.PositionAt(e.Offset), doc.PositionAt(e.Offset+e.Length)
		if start.Line != end.Line {
			continue
		}
		old := string(doc.Bytes()[e.Offset : e.Offset+e.Length])
		out = append(out, sourcemap.Shift{
			Line:  start.Line,
			Start: start.Column,
			End:   end.Column,
			Delta: css.UTF16Len(e.Text) - css.UTF16Len(old),
		})
	}
	return out
}

// cannotOperate applies failure policy: error with fail, nothing with silent
// and warning otherwise. Original content is returned in every case.
func (t *Transformer) cannotOperate(in Input, label string, err error) (*Result, error) {
	coe := &CannotOperateError{Label: label, Err: err}
	res := &Result{CSS: in.CSS}
	switch {
	case t.opts.Fail:
		return res, coe
	case t.opts.Silent:
	default:
		t.log.Warn("Unable to rewrite urls", zap.String("resource", in.ResourcePath), zap.Error(coe))
		res.Warnings = append(res.Warnings, coe)
	}
	return res, nil
}
