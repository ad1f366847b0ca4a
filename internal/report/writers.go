package report

import (
	"fmt"
	"io"
	"strings"

	apperrors "github.com/dex-analysis/pkg/errors"
	"github.com/dex-analysis/pkg/model"
	"github.com/dex-analysis/pkg/writer"
)

// Report formats.
const (
	FormatText    = "text"
	FormatJSON    = "json"
	FormatJSONGz  = "json.gz"
	FormatJSONZst = "json.zst"
	FormatFolded  = "folded"
	FormatPprof   = "pprof"
)

// Writer renders a report.
type Writer interface {
	Write(r *model.Report, w io.Writer) error
}

// NewWriter returns the writer for a format name.
func NewWriter(format string) (Writer, error) {
	switch format {
	case FormatText, "":
		return NewTextWriter(), nil
	case FormatJSON:
		return writer.NewPrettyJSONWriter[*model.Report](), nil
	case FormatJSONGz:
		return writer.NewGzipWriter[*model.Report](), nil
	case FormatJSONZst:
		return writer.NewZstdWriter[*model.Report](), nil
	case FormatFolded:
		return NewFoldedWriter(), nil
	case FormatPprof:
		return NewPprofWriter(), nil
	}
	return nil, apperrors.Newf(apperrors.CodeInvalidInput, "unknown report format %q", format)
}

// Extension returns the file extension for a format.
func Extension(format string) string {
	switch format {
	case FormatJSON:
		return ".json"
	case FormatJSONGz:
		return ".json.gz"
	case FormatJSONZst:
		return ".json.zst"
	case FormatFolded:
		return ".folded"
	case FormatPprof:
		return ".pb.gz"
	default:
		return ".txt"
	}
}

// TotalName labels the root line of text reports.
const TotalName = "<TOTAL>"

// TextWriter renders one line per node in the apkanalyzer dex packages
// layout: marker, state, defined and referenced method counts, size, name.
// Failed blobs and categories follow as comment lines.
type TextWriter struct {
	// Unreadable is appended to names that failed to decode.
	Unreadable string
}

// NewTextWriter creates a text writer.
func NewTextWriter() *TextWriter {
	return &TextWriter{Unreadable: " [unreadable]"}
}

func (w *TextWriter) Write(r *model.Report, out io.Writer) error {
	ew := &errWriter{w: out}
	r.Root.Walk(func(path []string, n *model.ReportNode) {
		name := TotalName
		if len(path) > 0 {
			name = displayName(path, n)
		}
		if n.UnreadableName {
			name += w.Unreadable
		}
		ew.printf("%s d %d %d %d %s\n", n.Kind.Marker(), n.DefinedMethods, n.ReferencedMethods, n.Size, name)
	})
	for _, c := range r.Categories {
		ew.printf("# category %s %d %.2f%%\n", c.Category, c.Size, c.Percent)
	}
	for _, f := range r.Failures {
		ew.printf("# failed %s %s: %s\n", f.Path, f.Kind, f.Message)
	}
	return ew.err
}

// displayName is the dotted path, with a space before a method signature.
func displayName(path []string, n *model.ReportNode) string {
	if n.Kind == model.KindMethod {
		return strings.Join(path[:len(path)-1], ".") + " " + n.Name
	}
	return strings.Join(path, ".")
}

// FoldedWriter writes one "a;b;Foo 100" line per node with direct bytes,
// the collapsed stack format read by flamegraph.pl.
type FoldedWriter struct{}

// NewFoldedWriter creates a new folded format writer.
func NewFoldedWriter() *FoldedWriter {
	return &FoldedWriter{}
}

func (w *FoldedWriter) Write(r *model.Report, out io.Writer) error {
	ew := &errWriter{w: out}
	r.Root.Walk(func(path []string, n *model.ReportNode) {
		if n.DirectSize == 0 {
			return
		}
		stack := strings.Join(path, ";")
		if stack == "" {
			stack = "(default)"
		}
		ew.printf("%s %d\n", stack, n.DirectSize)
	})
	return ew.err
}

// errWriter keeps the first write error and skips later writes.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = fmt.Fprintf(e.w, format, args...)
}
