// Package debug holds helpers for human readable diagnostic dumps.
package debug

import (
	"fmt"
	"strings"
)

const indent = "  "

// TreeWriter accumulates an indented tree dump, two spaces per depth level.
// Used for navigation tree output where alignment matters more than speed.
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

// Line appends one formatted node at the given depth.
func (tw TreeWriter) Line(depth int, format string, args ...any) {
	tw.w.WriteString(strings.Repeat(indent, depth))
	fmt.Fprintf(tw.w, format, args...)
	tw.w.WriteByte('\n')
}
