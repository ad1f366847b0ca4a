package writer

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Codec is the compression applied to encoded JSON.
type Codec string

const (
	CodecNone Codec = ""
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// compress wraps w so that bytes written are compressed. The caller must
// Close the result to flush it; w itself is not closed.
func (c Codec) compress(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopCloser{w}, nil
	case CodecGzip:
		return gzip.NewWriterLevel(w, gzip.DefaultCompression)
	case CodecZstd:
		return zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	}
	return nil, fmt.Errorf("unknown codec %q", string(c))
}

// decompress wraps r to undo c.
func (c Codec) decompress(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecGzip:
		return gzip.NewReader(r)
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return nil, fmt.Errorf("unknown codec %q", string(c))
}
