// Package writer encodes values as JSON, optionally compressed with gzip or
// zstd.
package writer

import (
	"encoding/json"
	"fmt"
	"io"
)

// JSONWriter writes values of one type as JSON.
type JSONWriter[T any] struct {
	// Indent is used for pretty printing; empty means compact output.
	Indent string
	Codec  Codec
}

// NewJSONWriter creates a compact JSON writer.
func NewJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{}
}

// NewPrettyJSONWriter creates an indented JSON writer.
func NewPrettyJSONWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Indent: "  "}
}

// NewGzipWriter creates a writer for gzipped compact JSON.
func NewGzipWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Codec: CodecGzip}
}

// NewZstdWriter creates a writer for zstd-compressed compact JSON. Large
// method-granularity reports shrink noticeably more than with gzip.
func NewZstdWriter[T any]() *JSONWriter[T] {
	return &JSONWriter[T]{Codec: CodecZstd}
}

// Write encodes data to out.
func (w *JSONWriter[T]) Write(data T, out io.Writer) error {
	cw, err := w.Codec.compress(out)
	if err != nil {
		return fmt.Errorf("failed to create %s writer: %w", w.Codec, err)
	}
	enc := json.NewEncoder(cw)
	if w.Indent != "" {
		enc.SetIndent("", w.Indent)
	}
	if err := enc.Encode(data); err != nil {
		cw.Close()
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if err := cw.Close(); err != nil {
		return fmt.Errorf("failed to flush %s writer: %w", w.Codec, err)
	}
	return nil
}

// ReadJSON decodes one value written with codec c from r into v.
func ReadJSON(r io.Reader, c Codec, v any) error {
	rc, err := c.decompress(r)
	if err != nil {
		return fmt.Errorf("failed to open %s reader: %w", c, err)
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}
