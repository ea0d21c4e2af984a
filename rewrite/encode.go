package rewrite

import (
	"path/filepath"
	"regexp"
	"strings"
)

var schemePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9+.-]+:`)

// isWebURL reports urls which are never resolved: anything with scheme,
// protocol relative and module requests.
func isWebURL(uri string) bool {
	uri = strings.TrimSpace(uri)
	return strings.HasPrefix(uri, "//") || strings.HasPrefix(uri, "~") || schemePattern.MatchString(uri)
}

// encoder turns resolved path into url() argument text.
type encoder struct {
	absolute    bool
	keepQuery   bool
	resourceDir string
}

func (e encoder) encode(tok token) (string, bool) {
	if len(tok.resolved) == 0 {
		return "", false
	}
	var suffix string
	if e.keepQuery {
		suffix = tok.suffix
	}
	if e.absolute {
		return toSlash(tok.resolved) + suffix, true
	}
	rel, err := filepath.Rel(e.resourceDir, tok.resolved)
	if err != nil {
		return "", false
	}
	return moduleRequest(rel) + suffix, true
}

// moduleRequest makes "~" prefixed request out of relative path:
// "../a/b.png" -> "~../a/b.png", "a/b.png" -> "~./a/b.png".
func moduleRequest(rel string) string {
	rel = toSlash(rel)
	switch {
	case rel == ".":
		rel = "./"
	case rel == "..", strings.HasPrefix(rel, "../"):
	default:
		rel = "./" + rel
	}
	return "~" + rel
}

// toSlash normalizes backslashes on every platform.
func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
