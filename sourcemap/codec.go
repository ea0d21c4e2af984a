package sourcemap

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

var schemePattern = regexp.MustCompile(`^([a-zA-Z][a-zA-Z0-9+.-]+):`)

// Codec converts map sources between the form found in inbound maps and
// absolute filesystem paths. Relative sources are taken relative to
// resource directory joined with sourceRoot, protocol sources
// (webpack:///./src/a.scss) relative to project directory.
//
// Codec remembers relative entries it converted, so converting them back
// yields exactly the original text. It is not safe for concurrent use.
type Codec struct {
	base       string
	project    string
	sourceRoot string
	original   map[string]string
}

// NewCodec creates codec for a resource located in resourceDir.
func NewCodec(resourceDir, projectDir, sourceRoot string) (*Codec, error) {
	base := resourceDir
	switch {
	case len(sourceRoot) == 0:
	case filepath.IsAbs(filepath.FromSlash(sourceRoot)):
		base = filepath.FromSlash(sourceRoot)
	case schemePattern.MatchString(sourceRoot):
		return nil, fmt.Errorf("%w: unsupported sourceRoot %q", ErrDecode, sourceRoot)
	default:
		base = filepath.Join(resourceDir, filepath.FromSlash(sourceRoot))
	}
	if len(projectDir) == 0 {
		projectDir = resourceDir
	}
	return &Codec{
		base:       filepath.Clean(base),
		project:    filepath.Clean(projectDir),
		sourceRoot: sourceRoot,
		original:   make(map[string]string),
	}, nil
}

// SourceRoot returns sourceRoot of the inbound map.
func (c *Codec) SourceRoot() string {
	return c.sourceRoot
}

// Absolute converts single source entry to absolute path.
func (c *Codec) Absolute(source string) (string, error) {
	if len(source) == 0 {
		return "", fmt.Errorf("%w: empty source entry", ErrDecode)
	}

	if m := schemePattern.FindStringSubmatch(source); m != nil {
		switch scheme := strings.ToLower(m[1]); scheme {
		case "file":
			u, err := url.Parse(source)
			if err != nil {
				return "", fmt.Errorf("%w: bad source %q: %w", ErrDecode, source, err)
			}
			p := u.Path
			if len(u.Host) > 0 && u.Host != "localhost" {
				p = "//" + u.Host + p
			}
			return filepath.Clean(filepath.FromSlash(p)), nil
		case "http", "https", "data", "ftp":
			return "", fmt.Errorf("%w: source %q cannot be normalized to a file", ErrDecode, source)
		default:
			// bundler protocol: scheme://[namespace]/path
			rest := strings.TrimPrefix(source[len(m[0]):], "//")
			if i := strings.IndexByte(rest, '/'); i >= 0 {
				rest = rest[i+1:]
			}
			p := filepath.FromSlash(rest)
			if !filepath.IsAbs(p) {
				p = filepath.Join(c.project, p)
			}
			return filepath.Clean(p), nil
		}
	}

	p := filepath.FromSlash(source)
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	abs := filepath.Join(c.base, p)
	if _, ok := c.original[abs]; !ok {
		c.original[abs] = source
	}
	return abs, nil
}

// Relative converts absolute path back to a source entry relative to the
// codec base directory, using forward slashes.
func (c *Codec) Relative(abs string) string {
	if orig, ok := c.original[abs]; ok {
		return orig
	}
	rel, err := filepath.Rel(c.base, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(rel)
}

// ToAbsolute returns copy of m with absolute sources and empty sourceRoot.
func (m *Map) ToAbsolute(c *Codec) (*Map, error) {
	out := m.Clone()
	out.SourceRoot = ""
	for i, s := range out.Sources {
		abs, err := c.Absolute(s)
		if err != nil {
			return nil, err
		}
		out.Sources[i] = abs
	}
	return out, nil
}

// ToRelative returns copy of m with sources relative to codec base and
// sourceRoot of the inbound map restored. Only path algebra is involved.
func (m *Map) ToRelative(c *Codec) *Map {
	out := m.Clone()
	out.SourceRoot = c.sourceRoot
	for i, s := range out.Sources {
		out.Sources[i] = c.Relative(s)
	}
	return out
}
