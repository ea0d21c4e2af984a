// Package debug renders rewriting decisions as readable text for debug
// reports.
package debug

import (
	"fmt"
	"strconv"
	"strings"

	"resolveurl/rewrite"
)

// TreeWriter accumulates indented lines.
type TreeWriter struct {
	w *strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{
		w: &strings.Builder{},
	}
}

func (tw TreeWriter) String() string {
	return tw.w.String()
}

func (tw TreeWriter) Line(depth int, format string, args ...any) {
	tw.indent(depth)
	fmt.Fprintf(tw.w, format, args...)
	tw.w.WriteByte('\n')
}

// Field writes "label: value" with value quoted, empty values are shown as
// placeholder.
func (tw TreeWriter) Field(depth int, label, value, placeholder string) {
	tw.indent(depth)
	tw.w.WriteString(label)
	tw.w.WriteString(": ")
	if len(value) == 0 {
		tw.w.WriteString(placeholder)
	} else {
		tw.w.WriteString(strconv.Quote(value))
	}
	tw.w.WriteByte('\n')
}

func (tw TreeWriter) indent(depth int) {
	for range depth {
		tw.w.WriteString("  ")
	}
}

// Rewrites describes every url() argument transform looked at, grouped by
// declaration.
func Rewrites(resource string, res *rewrite.Result) string {
	tw := NewTreeWriter()
	tw.Line(0, "%s (rewritten %d, warnings %d)", resource, res.Rewritten, len(res.Warnings))
	for _, w := range res.Warnings {
		tw.Field(1, "warning", strings.Join(strings.Fields(w.Error()), " "), "")
	}

	var last rewrite.Trace
	for i, tr := range res.Traces {
		if i == 0 || tr.Position != last.Position || tr.Property != last.Property {
			tw.Line(1, "%s @ %d:%d", tr.Property, tr.Position.Line, tr.Position.Column)
			tw.Field(2, "origin", tr.Origin, "-")
		}
		last = tr
		tw.Field(2, "url", tr.URI, "-")
		tw.Field(3, "resolved", tr.Resolved, "<not found>")
		tw.Field(3, "output", tr.Output, "<unchanged>")
	}
	return tw.String()
}
