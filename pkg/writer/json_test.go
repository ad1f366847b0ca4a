package writer

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dex-analysis/pkg/model"
)

func sampleReport() *model.Report {
	return &model.Report{
		Container:   "app.apk",
		Granularity: "class",
		TotalSize:   4096,
		Root: &model.ReportNode{Name: "<root>", Kind: model.KindPackage, Size: 120, Children: []*model.ReportNode{
			{Name: "com", Kind: model.KindPackage, Size: 120},
		}},
		Failures: []model.BlobFailure{},
	}
}

func TestJSONWriter_Write(t *testing.T) {
	t.Run("compact output", func(t *testing.T) {
		w := NewJSONWriter[*model.BlobFailure]()
		var buf bytes.Buffer
		require.NoError(t, w.Write(&model.BlobFailure{Path: "classes2.dex", Kind: "TruncatedTable", Message: "x"}, &buf))

		expected := `{"path":"classes2.dex","kind":"TruncatedTable","message":"x"}` + "\n"
		assert.Equal(t, expected, buf.String())
	})

	t.Run("pretty output", func(t *testing.T) {
		w := NewPrettyJSONWriter[*model.Report]()
		var buf bytes.Buffer
		require.NoError(t, w.Write(sampleReport(), &buf))
		assert.True(t, strings.Contains(buf.String(), "\n  \"container\": \"app.apk\""))

		var decoded model.Report
		require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
		assert.Equal(t, uint64(120), decoded.Root.Size)
	})
}

func TestGzipWriter_ReadableByGzip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewGzipWriter[*model.Report]().Write(sampleReport(), &buf))

	gzReader, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	defer gzReader.Close()

	content, err := io.ReadAll(gzReader)
	require.NoError(t, err)

	var decoded model.Report
	require.NoError(t, json.Unmarshal(content, &decoded))
	assert.Equal(t, uint64(4096), decoded.TotalSize)
}

func TestZstdWriter_Magic(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewZstdWriter[*model.Report]().Write(sampleReport(), &buf))
	assert.Equal(t, []byte{0x28, 0xb5, 0x2f, 0xfd}, buf.Bytes()[:4])
}

func TestReadJSON_RoundTrip(t *testing.T) {
	big := sampleReport()
	for i := 0; i < 50; i++ {
		big.Root.Children = append(big.Root.Children, &model.ReportNode{Name: "pkg", Kind: model.KindPackage})
	}

	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, (&JSONWriter[*model.Report]{Codec: codec}).Write(big, &buf))

			var decoded model.Report
			require.NoError(t, ReadJSON(&buf, codec, &decoded))
			assert.Equal(t, "app.apk", decoded.Container)
			assert.Len(t, decoded.Root.Children, 51)
		})
	}
}

func TestCompressionShrinksRepetitiveReports(t *testing.T) {
	big := sampleReport()
	for i := 0; i < 200; i++ {
		big.Root.Children = append(big.Root.Children, &model.ReportNode{Name: "com.example.generated", Kind: model.KindPackage})
	}

	sizes := make(map[Codec]int)
	for _, codec := range []Codec{CodecNone, CodecGzip, CodecZstd} {
		var buf bytes.Buffer
		require.NoError(t, (&JSONWriter[*model.Report]{Codec: codec}).Write(big, &buf))
		sizes[codec] = buf.Len()
	}
	assert.Less(t, sizes[CodecGzip], sizes[CodecNone])
	assert.Less(t, sizes[CodecZstd], sizes[CodecNone])
}

func TestUnknownCodec(t *testing.T) {
	w := &JSONWriter[int]{Codec: "lz4"}
	assert.Error(t, w.Write(1, io.Discard))

	var v int
	assert.Error(t, ReadJSON(strings.NewReader("1"), "lz4", &v))
}
