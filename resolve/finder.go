// Package resolve locates files referenced from CSS on disk.
package resolve

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Options controls where Finder looks for files.
type Options struct {
	// Attempts is the number of ancestor directories of the base directory to
	// try after the base directory itself. Zero disables ancestor search.
	Attempts int
	// Root, when not empty, is an absolute directory tried last.
	Root string
}

// Finder resolves relative URIs against directories. It keeps no cache, every
// call performs fresh existence checks.
type Finder struct {
	fs   afero.Fs
	opts Options
	log  *zap.Logger
}

// NewFinder creates Finder working on fs.
func NewFinder(fs afero.Fs, opts Options, log *zap.Logger) *Finder {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Finder{fs: fs, opts: opts, log: log.Named("resolve")}
}

// SplitSuffix separates uri from its "?query" and/or "#hash" suffix.
func SplitSuffix(uri string) (path, suffix string) {
	if i := strings.IndexAny(uri, "?#"); i >= 0 {
		return uri[:i], uri[i:]
	}
	return uri, ""
}

// Candidates returns paths Find checks, in order: base directory, up to
// Attempts ancestors, then root. Query and hash of uri are ignored. Absolute
// uri is its own single candidate.
func (f *Finder) Candidates(base, uri string) []string {
	uri, _ = SplitSuffix(uri)
	if len(uri) == 0 {
		return nil
	}
	rel := filepath.FromSlash(uri)
	if filepath.IsAbs(rel) {
		// every directory resolves it to itself
		return []string{filepath.Clean(rel)}
	}

	var (
		out  []string
		seen = make(map[string]struct{})
	)
	add := func(dir string) {
		p := filepath.Join(dir, rel)
		if _, ok := seen[p]; !ok {
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}

	dir := filepath.Clean(base)
	add(dir)
	for range f.opts.Attempts {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
		add(dir)
	}
	if len(f.opts.Root) > 0 {
		add(f.opts.Root)
	}
	return out
}

// Find returns absolute path of the first existing candidate (file or
// directory), or empty string when nothing was found. Error is returned only
// when ctx is done.
func (f *Finder) Find(ctx context.Context, base, uri string) (string, error) {
	for _, candidate := range f.Candidates(base, uri) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		exists, err := afero.Exists(f.fs, candidate)
		if err != nil {
			f.log.Debug("Unable to check candidate", zap.String("path", candidate), zap.Error(err))
			continue
		}
		if exists {
			f.log.Debug("Resolved", zap.String("uri", uri), zap.String("path", candidate))
			return candidate, nil
		}
	}
	f.log.Debug("Unresolved", zap.String("uri", uri), zap.String("base", base))
	return "", nil
}
