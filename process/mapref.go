package process

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"resolveurl/sourcemap"
)

var mappingURLPattern = regexp.MustCompile(`/\*\s*[#@]\s*sourceMappingURL\s*=\s*(\S+?)\s*\*/`)

type mapKind int

const (
	mapNone mapKind = iota
	mapInline
	mapFile
)

// mapRef tells where inbound map of CSS file came from, outbound map is
// placed the same way.
type mapRef struct {
	kind mapKind
	path string // map file
}

// findMap locates inbound source map of CSS file: the last sourceMappingURL
// comment (inline data URI or file relative to CSS) or "<file>.map" sibling.
func findMap(cssPath string, data []byte) (mapRef, []byte, error) {
	if loc := lastMappingURL(data); loc != nil {
		ref := string(data[loc[2]:loc[3]])
		if strings.HasPrefix(ref, "data:") {
			content, err := decodeDataURI(ref)
			if err != nil {
				return mapRef{}, nil, fmt.Errorf("unable to decode inline source map: %w", err)
			}
			return mapRef{kind: mapInline}, content, nil
		}
		if u, err := url.PathUnescape(ref); err == nil {
			ref = u
		}
		if i := strings.IndexAny(ref, "?#"); i >= 0 {
			ref = ref[:i]
		}
		p := filepath.FromSlash(ref)
		if !filepath.IsAbs(p) {
			p = filepath.Join(filepath.Dir(cssPath), p)
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return mapRef{}, nil, fmt.Errorf("unable to read source map: %w", err)
		}
		return mapRef{kind: mapFile, path: p}, content, nil
	}

	p := cssPath + ".map"
	content, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return mapRef{}, nil, nil
	}
	if err != nil {
		return mapRef{}, nil, fmt.Errorf("unable to read source map: %w", err)
	}
	return mapRef{kind: mapFile, path: p}, content, nil
}

func lastMappingURL(data []byte) []int {
	locs := mappingURLPattern.FindAllSubmatchIndex(data, -1)
	if len(locs) == 0 {
		return nil
	}
	return locs[len(locs)-1]
}

// decodeDataURI handles "data:application/json;charset=utf-8;base64,..." and
// its percent encoded variant.
func decodeDataURI(uri string) ([]byte, error) {
	comma := strings.IndexByte(uri, ',')
	if comma < 0 {
		return nil, errors.New("malformed data URI")
	}
	meta, payload := uri[len("data:"):comma], uri[comma+1:]
	if strings.HasSuffix(meta, ";base64") {
		return base64.StdEncoding.DecodeString(payload)
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, err
	}
	return []byte(s), nil
}

// attachMap places outbound map the way inbound one was: inline maps are
// embedded, everything else is written to "<output>.map" and referenced.
// It returns CSS to write and, for file maps, map file name and content.
func attachMap(css []byte, ref mapRef, m *sourcemap.Map, outPath string) ([]byte, string, []byte, error) {
	m = m.Clone()
	m.File = filepath.Base(outPath)
	data, err := m.Bytes()
	if err != nil {
		return nil, "", nil, fmt.Errorf("unable to encode source map: %w", err)
	}

	var (
		mapPath string
		target  string
	)
	if ref.kind == mapInline {
		target = "data:application/json;charset=utf-8;base64," + base64.StdEncoding.EncodeToString(data)
		data = nil
	} else {
		mapPath = outPath + ".map"
		target = filepath.Base(mapPath)
	}
	comment := "/*# sourceMappingURL=" + target + " */"

	var out []byte
	if loc := lastMappingURL(css); loc != nil {
		out = append(out, css[:loc[0]]...)
		out = append(out, comment...)
		out = append(out, css[loc[1]:]...)
	} else {
		out = append(out, css...)
		if len(out) > 0 && out[len(out)-1] != '\n' {
			out = append(out, '\n')
		}
		out = append(out, comment...)
		out = append(out, '\n')
	}
	return out, mapPath, data, nil
}
