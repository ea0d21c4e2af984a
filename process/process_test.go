package process

import (
	"archive/zip"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"resolveurl/config"
	"resolveurl/rewrite"
	"resolveurl/sourcemap"
	"resolveurl/state"
)

const (
	featureCSS = ".c{background:url(./img/a.png)}\n/*# sourceMappingURL=index.css.map */\n"
	featureMap = `{"version":3,"sources":["../src/feature/index.scss"],"names":[],"mappings":"AAAA,cACE"}`
)

// setupTestEnv creates a test environment with proper context and logger
func setupTestEnv(t *testing.T) (context.Context, *state.LocalEnv) {
	t.Helper()
	logger := zaptest.NewLogger(t, zaptest.WrapOptions(zap.AddCaller(), zap.AddCallerSkip(1)))
	cfg, err := config.LoadConfiguration("")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	ctx := state.ContextWithEnv(context.Background())
	env := state.EnvFromContext(ctx)
	env.Log = logger
	env.Cfg = cfg
	env.Workers = 2
	return ctx, env
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

// project lays out compiled css in build/ with its map pointing to sources
// in src/feature/ where the asset lives.
func project(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "src", "feature", "index.scss"), ".c {\n  background: url(./img/a.png);\n}\n")
	writeFile(t, filepath.Join(root, "src", "feature", "img", "a.png"), "asset")
	writeFile(t, filepath.Join(root, "build", "index.css"), featureCSS)
	writeFile(t, filepath.Join(root, "build", "index.css.map"), featureMap)
	return root
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"file10.css", "file2.css", "a.css", "sub/b.css", "sub/c.txt"} {
		writeFile(t, filepath.Join(dir, filepath.FromSlash(f)), "")
	}

	t.Run("directory", func(t *testing.T) {
		got, err := discover(dir, "**/*.css")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{"a.css", "file2.css", "file10.css", filepath.Join("sub", "b.css")}
		if len(got) != len(want) {
			t.Fatalf("discover() = %v, want %v", got, want)
		}
		for i, in := range got {
			if in.path != filepath.Join(dir, want[i]) || in.base != dir {
				t.Errorf("discover()[%d] = %+v, want %s", i, in, want[i])
			}
		}
	})

	t.Run("file", func(t *testing.T) {
		f := filepath.Join(dir, "sub", "b.css")
		got, err := discover(f, "**/*.css")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].path != f || got[0].base != filepath.Join(dir, "sub") {
			t.Errorf("discover() = %+v", got)
		}
	})

	t.Run("pattern", func(t *testing.T) {
		got, err := discover(filepath.Join(dir, "sub", "*.css"), "")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].path != filepath.Join(dir, "sub", "b.css") {
			t.Errorf("discover() = %+v", got)
		}
		if got[0].base != filepath.Join(dir, "sub") {
			t.Errorf("base = %q", got[0].base)
		}
	})

	t.Run("nothing", func(t *testing.T) {
		if _, err := discover(dir, "**/*.scss"); err == nil || !strings.Contains(err.Error(), "nothing to process") {
			t.Errorf("expected nothing to process error, got %v", err)
		}
		if _, err := discover(filepath.Join(dir, "missing.css"), "**/*.css"); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestInputOutput(t *testing.T) {
	in := input{path: filepath.FromSlash("/a/b/c/d.css"), base: filepath.FromSlash("/a/b")}
	if got := in.output(""); got != in.path {
		t.Errorf("output(\"\") = %q", got)
	}
	if got, want := in.output(filepath.FromSlash("/out")), filepath.FromSlash("/out/c/d.css"); got != want {
		t.Errorf("output() = %q, want %q", got, want)
	}
}

func TestFindMap(t *testing.T) {
	dir := t.TempDir()
	cssPath := filepath.Join(dir, "a.css")

	t.Run("none", func(t *testing.T) {
		ref, data, err := findMap(cssPath, []byte(".a{}"))
		if err != nil || ref.kind != mapNone || data != nil {
			t.Errorf("findMap() = %+v, %q, %v", ref, data, err)
		}
	})

	t.Run("sibling", func(t *testing.T) {
		writeFile(t, cssPath+".map", featureMap)
		defer os.Remove(cssPath + ".map")
		ref, data, err := findMap(cssPath, []byte(".a{}"))
		if err != nil || ref.kind != mapFile || ref.path != cssPath+".map" || string(data) != featureMap {
			t.Errorf("findMap() = %+v, %q, %v", ref, data, err)
		}
	})

	t.Run("comment", func(t *testing.T) {
		writeFile(t, filepath.Join(dir, "maps", "x.map"), featureMap)
		css := "/*# sourceMappingURL=old.map */\n.a{}\n/*# sourceMappingURL=maps/x.map */\n"
		ref, data, err := findMap(cssPath, []byte(css))
		if err != nil || ref.kind != mapFile || ref.path != filepath.Join(dir, "maps", "x.map") || string(data) != featureMap {
			t.Errorf("findMap() = %+v, %q, %v", ref, data, err)
		}
	})

	t.Run("inline", func(t *testing.T) {
		css := ".a{}\n/*# sourceMappingURL=data:application/json;charset=utf-8;base64," +
			base64.StdEncoding.EncodeToString([]byte(featureMap)) + " */"
		ref, data, err := findMap(cssPath, []byte(css))
		if err != nil || ref.kind != mapInline || string(data) != featureMap {
			t.Errorf("findMap() = %+v, %q, %v", ref, data, err)
		}
	})

	t.Run("errors", func(t *testing.T) {
		if _, _, err := findMap(cssPath, []byte("/*# sourceMappingURL=data:application/json;base64,!!! */")); err == nil {
			t.Error("expected error for bad inline map")
		}
		if _, _, err := findMap(cssPath, []byte("/*# sourceMappingURL=missing.map */")); err == nil {
			t.Error("expected error for missing map file")
		}
	})
}

func TestAttachMap(t *testing.T) {
	m, err := sourcemap.Decode(featureMap)
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join("dir", "index.css")

	css, mapPath, data, err := attachMap([]byte(featureCSS), mapRef{kind: mapFile}, m, out)
	if err != nil {
		t.Fatal(err)
	}
	if mapPath != out+".map" {
		t.Errorf("mapPath = %q", mapPath)
	}
	if !strings.HasSuffix(string(css), "/*# sourceMappingURL=index.css.map */\n") || strings.Count(string(css), "sourceMappingURL") != 1 {
		t.Errorf("css = %q", css)
	}
	written, err := sourcemap.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if written.File != "index.css" {
		t.Errorf("file = %q", written.File)
	}
	if m.File != "" {
		t.Error("attachMap modified its argument")
	}

	css, mapPath, data, err = attachMap([]byte(".c{}"), mapRef{kind: mapInline}, m, out)
	if err != nil {
		t.Fatal(err)
	}
	if mapPath != "" || data != nil {
		t.Errorf("inline map written to file %q", mapPath)
	}
	ref, inline, err := findMap(out, css)
	if err != nil || ref.kind != mapInline {
		t.Fatalf("findMap() = %+v, %v", ref, err)
	}
	if back, err := sourcemap.Decode(inline); err != nil || back.Mappings != m.Mappings {
		t.Errorf("embedded map = %+v, %v", back, err)
	}
	if !strings.HasPrefix(string(css), ".c{}\n/*# sourceMappingURL=data:application/json;charset=utf-8;base64,") {
		t.Errorf("css = %q", css)
	}
}

func TestProcess_InPlace(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	env.Overwrite = true
	cssPath := filepath.Join(root, "build", "index.css")

	if err := process(ctx, cssPath, "", env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	want := ".c{background:url(~../src/feature/img/a.png)}\n/*# sourceMappingURL=index.css.map */\n"
	if got := readFile(t, cssPath); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := readFile(t, cssPath+".map"); got != featureMap {
		t.Errorf("map changed without source map option: %q", got)
	}
}

func TestProcess_Destination(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	env.Options = rewrite.Options{SourceMap: true}
	dst := filepath.Join(root, "out")

	if err := process(ctx, filepath.Join(root, "build"), dst, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}

	want := ".c{background:url(~../src/feature/img/a.png)}\n/*# sourceMappingURL=index.css.map */\n"
	if got := readFile(t, filepath.Join(dst, "index.css")); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	m, err := sourcemap.Decode(readFile(t, filepath.Join(dst, "index.css.map")))
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Sources) != 1 || m.Sources[0] != "../src/feature/index.scss" {
		t.Errorf("sources = %v", m.Sources)
	}
	if m.File != "index.css" {
		t.Errorf("file = %q", m.File)
	}
	if got := readFile(t, filepath.Join(root, "build", "index.css")); got != featureCSS {
		t.Errorf("input modified: %q", got)
	}

	// second run must not overwrite
	err = process(ctx, filepath.Join(root, "build"), dst, env.Log)
	if err == nil || !strings.Contains(err.Error(), "output file already exists") {
		t.Errorf("expected output exists error, got %v", err)
	}
}

func TestProcess_DestinationKeepsSourceRoot(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	writeFile(t, filepath.Join(root, "build", "index.css.map"),
		`{"version":3,"sourceRoot":"../src","sources":["feature/index.scss"],"names":[],"mappings":"AAAA,cACE"}`)
	env.Options = rewrite.Options{SourceMap: true}
	dst := filepath.Join(root, "out")

	if err := process(ctx, filepath.Join(root, "build"), dst, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "index.css")); !strings.Contains(got, "url(~../src/feature/img/a.png)") {
		t.Errorf("got %q", got)
	}
	m, err := sourcemap.Decode(readFile(t, filepath.Join(dst, "index.css.map")))
	if err != nil {
		t.Fatal(err)
	}
	if m.SourceRoot != "../src" {
		t.Errorf("sourceRoot = %q, want %q", m.SourceRoot, "../src")
	}
	if len(m.Sources) != 1 || m.Sources[0] != "feature/index.scss" {
		t.Errorf("sources = %v", m.Sources)
	}
}

func TestProcess_Absolute(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	env.Options = rewrite.Options{Absolute: true}
	dst := filepath.Join(root, "out")

	if err := process(ctx, filepath.Join(root, "build", "index.css"), dst, env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	asset := filepath.ToSlash(filepath.Join(root, "src", "feature", "img", "a.png"))
	if got := readFile(t, filepath.Join(dst, "index.css")); !strings.HasPrefix(got, ".c{background:url("+asset+")}") {
		t.Errorf("got %q, want url(%s)", got, asset)
	}
}

func TestProcess_FailAggregates(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	env.Options = rewrite.Options{Fail: true}
	writeFile(t, filepath.Join(root, "build", "broken.css"), ".b{background:url(./img/a.png)}\n")
	writeFile(t, filepath.Join(root, "build", "broken.css.map"), "{")
	dst := filepath.Join(root, "out")

	err := process(ctx, filepath.Join(root, "build"), dst, env.Log)
	var coe *rewrite.CannotOperateError
	if !errors.As(err, &coe) {
		t.Fatalf("expected CannotOperateError, got %v", err)
	}
	if coe.Label != "source-map error" {
		t.Errorf("label = %q", coe.Label)
	}
	if _, err := os.Stat(filepath.Join(dst, "broken.css")); !os.IsNotExist(err) {
		t.Errorf("broken output should not be written: %v", err)
	}
	if got := readFile(t, filepath.Join(dst, "index.css")); !strings.Contains(got, "~../src/feature/img/a.png") {
		t.Errorf("healthy file was not processed: %q", got)
	}
}

func TestProcess_CancelledContext(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	cancelCtx, cancel := context.WithCancel(ctx)
	cancel()

	err := process(cancelCtx, filepath.Join(root, "build"), filepath.Join(root, "out"), env.Log)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestProcess_InvalidRoot(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	env.Options = rewrite.Options{Root: filepath.Join(root, "missing")}

	err := process(ctx, filepath.Join(root, "build"), filepath.Join(root, "out"), env.Log)
	if !errors.Is(err, rewrite.ErrInvalidRoot) {
		t.Errorf("expected ErrInvalidRoot, got %v", err)
	}
}

func TestProcess_DebugReport(t *testing.T) {
	ctx, env := setupTestEnv(t)
	root := project(t)
	report := filepath.Join(t.TempDir(), "report.zip")
	rpt, err := (&config.ReporterConfig{Destination: report}).Prepare()
	if err != nil {
		t.Fatal(err)
	}
	env.Rpt = rpt

	if err := process(ctx, filepath.Join(root, "build"), filepath.Join(root, "out"), env.Log); err != nil {
		t.Fatalf("process() error = %v", err)
	}
	if err := rpt.Close(); err != nil {
		t.Fatal(err)
	}

	zr, err := zip.OpenReader(report)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"MANIFEST", "inputs/index.css", "inputs/index.css.map", "outputs/index.css", "traces/index.css.txt"} {
		if !names[want] {
			t.Errorf("report is missing %s, has %v", want, names)
		}
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:   "rewrite",
		Flags:  Flags(),
		Action: Run,
	}
}

func TestRun(t *testing.T) {
	t.Run("requires overwrite in place", func(t *testing.T) {
		ctx, _ := setupTestEnv(t)
		root := project(t)
		err := newCommand().Run(ctx, []string{"rewrite", filepath.Join(root, "build", "index.css")})
		if err == nil || !strings.Contains(err.Error(), "--overwrite") {
			t.Errorf("expected overwrite error, got %v", err)
		}
	})

	t.Run("no source", func(t *testing.T) {
		ctx, _ := setupTestEnv(t)
		if err := newCommand().Run(ctx, []string{"rewrite"}); err == nil {
			t.Error("expected error without source")
		}
	})

	t.Run("flags override configuration", func(t *testing.T) {
		ctx, env := setupTestEnv(t)
		root := project(t)
		env.Cfg.Resolve.KeepQuery = true
		env.Cfg.Resolve.Workers = 3
		args := []string{"rewrite", "--absolute", "--source-map", "--attempts", "2", "--workers", "1",
			filepath.Join(root, "build"), filepath.Join(root, "out")}
		if err := newCommand().Run(ctx, args); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		o := env.Options
		if !o.Absolute || !o.SourceMap || !o.KeepQuery || o.Attempts != 2 || o.Fail || o.Silent {
			t.Errorf("options = %+v", o)
		}
		if env.Workers != 1 || env.Overwrite {
			t.Errorf("workers = %d, overwrite = %v", env.Workers, env.Overwrite)
		}
		if _, err := os.Stat(filepath.Join(root, "out", "index.css.map")); err != nil {
			t.Errorf("outbound map missing: %v", err)
		}
	})
}
