package rewrite

import (
	"fmt"
	"path/filepath"
	"runtime"

	"github.com/spf13/afero"
)

// Options controls single transform invocation.
type Options struct {
	Absolute  bool   // emit absolute paths instead of module relative requests
	SourceMap bool   // produce outbound source map
	Fail      bool   // recoverable errors are returned as errors
	Silent    bool   // recoverable errors are not reported
	KeepQuery bool   // keep ?query#hash of rewritten urls
	Attempts  int    // number of ancestor directories to search
	Root      string // directory tried when everything else fails
	// Concurrency limits existence checks running at the same time for a
	// single document, 0 selects default.
	Concurrency int
}

// DefaultOptions returns options with documented defaults.
func DefaultOptions() Options {
	return Options{}
}

// Validate checks options and makes root absolute. Nil fs means OS
// filesystem.
func (o *Options) Validate(fs afero.Fs) error {
	if o.Attempts < 0 {
		return fmt.Errorf("attempts must not be negative, got %d", o.Attempts)
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", o.Concurrency)
	}
	if len(o.Root) == 0 {
		return nil
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	root, err := filepath.Abs(o.Root)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrInvalidRoot, o.Root, err)
	}
	dir, err := afero.IsDir(fs, root)
	if err != nil || !dir {
		return fmt.Errorf("%w: %q", ErrInvalidRoot, o.Root)
	}
	o.Root = root
	return nil
}

func (o *Options) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return 2 * runtime.NumCPU()
}
