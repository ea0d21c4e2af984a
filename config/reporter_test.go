package config

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readArchive(t *testing.T, name string) map[string]string {
	t.Helper()
	zr, err := zip.OpenReader(name)
	if err != nil {
		t.Fatalf("unable to open report: %v", err)
	}
	defer zr.Close()

	out := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("unable to open %s: %v", f.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("unable to read %s: %v", f.Name, err)
		}
		out[f.Name] = string(data)
	}
	return out
}

func TestReport_Archive(t *testing.T) {
	tmpDir := t.TempDir()
	rpt, err := (&ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}).Prepare()
	if err != nil {
		t.Fatalf("Prepare() error: %v", err)
	}

	stored := filepath.Join(tmpDir, "final.log")
	if err := os.WriteFile(stored, []byte("log line"), 0644); err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(tmpDir, "index.css")
	if err := os.WriteFile(input, []byte(".a{}"), 0644); err != nil {
		t.Fatal(err)
	}

	rpt.Store("final.log", stored)
	rpt.StoreData("config.yaml", []byte("version: 1\n"))
	if err := rpt.StoreCopy("inputs/index.css", input); err != nil {
		t.Fatalf("StoreCopy() error: %v", err)
	}
	// changes after copy must not be seen
	if err := os.WriteFile(input, []byte(".changed{}"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := rpt.StoreCopy("inputs/index.css", input); err != nil {
		t.Fatalf("second StoreCopy() error: %v", err)
	}
	if err := rpt.StoreCopy("inputs/missing.css", filepath.Join(tmpDir, "missing.css")); err == nil {
		t.Error("StoreCopy() of absent file succeeded")
	}
	copies := rpt.copies

	if err := rpt.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(copies); !os.IsNotExist(err) {
		t.Errorf("temporary copies were not removed: %v", err)
	}

	files := readArchive(t, rpt.Name())
	if files["final.log"] != "log line" || files["config.yaml"] != "version: 1\n" || files["inputs/index.css"] != ".a{}" {
		t.Errorf("unexpected archive content: %v", files)
	}
	var versioned int
	for name, data := range files {
		if strings.HasPrefix(name, "inputs/index.css-") && data == ".changed{}" {
			versioned++
		}
	}
	if versioned != 1 {
		t.Errorf("versioned copy not found: %v", files)
	}
	if !strings.Contains(files["MANIFEST"], "config.yaml") {
		t.Errorf("MANIFEST = %q", files["MANIFEST"])
	}
}

func TestReport_Concurrent(t *testing.T) {
	tmpDir := t.TempDir()
	rpt, err := (&ReporterConfig{Destination: filepath.Join(tmpDir, "report.zip")}).Prepare()
	if err != nil {
		t.Fatal(err)
	}
	input := filepath.Join(tmpDir, "a.css")
	if err := os.WriteFile(input, []byte(".a{}"), 0644); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			if err := rpt.StoreCopy("inputs/a.css", input); err != nil {
				t.Error(err)
			}
		})
	}
	wg.Wait()

	if err := rpt.Close(); err != nil {
		t.Fatal(err)
	}
	var count int
	for name := range readArchive(t, rpt.Name()) {
		if strings.HasPrefix(name, "inputs/a.css") {
			count++
		}
	}
	if count != 8 {
		t.Errorf("stored %d copies, want 8", count)
	}
}

func TestReportClose_NilReport(t *testing.T) {
	var r *Report
	if err := r.Close(); err != nil {
		t.Errorf("Close on nil report should not error, got: %v", err)
	}
	r.Store("x", "y")
	r.StoreData("x", nil)
	if err := r.StoreCopy("x", "y"); err != nil {
		t.Errorf("StoreCopy on nil report should not error, got: %v", err)
	}
	if r.Name() != "" {
		t.Error("nil report has a name")
	}
}

func TestReportClose_NilFile(t *testing.T) {
	r := &Report{entries: make(map[string]entry)}
	if err := r.Close(); err != nil {
		t.Errorf("Close with nil file should not error, got: %v", err)
	}
}
