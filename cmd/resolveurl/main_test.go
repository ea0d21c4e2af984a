package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"resolveurl/state"
)

func TestDumpConfig_Default(t *testing.T) {
	out := filepath.Join(t.TempDir(), "config.yaml")
	ctx := state.ContextWithEnv(context.Background())

	if err := newApp().Run(ctx, []string{"resolveurl", "dumpconfig", "--default", out}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"version: 1", "pattern:", "keep_query:"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("configuration lacks %q", want)
		}
	}
}

func TestRewrite_RequiresOverwriteInPlace(t *testing.T) {
	dir := t.TempDir()
	css := filepath.Join(dir, "index.css")
	if err := os.WriteFile(css, []byte(".a{}"), 0644); err != nil {
		t.Fatal(err)
	}
	ctx := state.ContextWithEnv(context.Background())

	err := newApp().Run(ctx, []string{"resolveurl", "rewrite", css})
	if err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Errorf("expected overwrite error, got %v", err)
	}
}
