// Package debug has helpers producing human readable dumps.
package debug

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const indent = "  "

// TreeWriter accumulates indented text, one node per line.
type TreeWriter struct {
	w *strings.Builder
}

func NewTreeWriter() *TreeWriter {
	return &TreeWriter{w: &strings.Builder{}}
}

func (tw *TreeWriter) String() string {
	return tw.w.String()
}

// WriteTo implements io.WriterTo.
func (tw *TreeWriter) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, tw.w.String())
	return int64(n), err
}

func (tw *TreeWriter) pad(depth int) {
	tw.w.WriteString(strings.Repeat(indent, depth))
}

func (tw *TreeWriter) Line(depth int, format string, args ...any) {
	tw.pad(depth)
	fmt.Fprintf(tw.w, format, args...)
	tw.w.WriteByte('\n')
}

// TextBlock writes label with quoted value, empty values are left as is.
func (tw *TreeWriter) TextBlock(depth int, label, value string) {
	tw.pad(depth)
	tw.w.WriteString(label)
	tw.w.WriteString(": ")
	tw.w.WriteString(encodeText(value))
	tw.w.WriteByte('\n')
}

// Bytes writes label followed by hex dump of at most limit first bytes of
// data, each dump line indented one level deeper.
func (tw *TreeWriter) Bytes(depth int, label string, data []byte, limit int) {
	shown := data
	if limit >= 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	tw.Line(depth, "%s: %d bytes", label, len(data))
	for line := range strings.Lines(hex.Dump(shown)) {
		tw.pad(depth + 1)
		tw.w.WriteString(line)
	}
}

func encodeText(raw string) string {
	if raw == "" {
		return raw
	}
	return strconv.Quote(raw)
}
