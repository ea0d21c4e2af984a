package process

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/maruel/natural"
)

// input is a single CSS file with the directory its output location is
// derived from.
type input struct {
	path string
	base string
}

// output returns where result for in goes: next to the input when dst is
// empty, otherwise under dst keeping directory structure relative to base.
func (in input) output(dst string) string {
	if len(dst) == 0 {
		return in.path
	}
	return filepath.Join(dst, in.rel())
}

// rel returns input path relative to base.
func (in input) rel() string {
	rel, err := filepath.Rel(in.base, in.path)
	if err != nil {
		return filepath.Base(in.path)
	}
	return rel
}

// discover expands SOURCE into list of files: a file is taken as is, a
// directory is searched with pattern, anything else is treated as a
// doublestar pattern itself. Result is in natural order.
func discover(src, pattern string) ([]input, error) {
	var (
		base  string
		files []string
	)

	fi, err := os.Stat(src)
	switch {
	case err == nil && fi.Mode().IsRegular():
		return []input{{path: src, base: filepath.Dir(src)}}, nil

	case err == nil && fi.IsDir():
		base = src
		matches, err := doublestar.Glob(os.DirFS(src), pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("unable to search directory (%s) with pattern %q: %w", src, pattern, err)
		}
		for _, m := range matches {
			files = append(files, filepath.Join(src, filepath.FromSlash(m)))
		}

	case err == nil:
		return nil, fmt.Errorf("unexpected path mode for (%s)", src)

	default:
		if !doublestar.ValidatePathPattern(filepath.ToSlash(src)) {
			return nil, fmt.Errorf("input source was not found (%s)", src)
		}
		dir, _ := doublestar.SplitPattern(filepath.ToSlash(src))
		base = filepath.FromSlash(dir)
		if files, err = doublestar.FilepathGlob(src, doublestar.WithFilesOnly()); err != nil {
			return nil, fmt.Errorf("unable to expand pattern (%s): %w", src, err)
		}
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("nothing to process (%s)", src)
	}
	sort.Sort(natural.StringSlice(files))

	out := make([]input, 0, len(files))
	for _, f := range files {
		out = append(out, input{path: f, base: base})
	}
	return out, nil
}
