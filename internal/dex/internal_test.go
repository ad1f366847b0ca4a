package dex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/dex-analysis/pkg/errors"
)

func TestDecodeMUTF8(t *testing.T) {
	tests := []struct {
		name  string
		in    []byte
		want  string
		units int
	}{
		{"ascii", []byte("hello"), "hello", 5},
		{"two byte", []byte{'h', 0xc3, 0xa9}, "hé", 2},
		{"embedded nul", []byte{'a', 0xc0, 0x80, 'b'}, "a\x00b", 3},
		{"three byte", []byte{0xe4, 0xb8, 0xad}, "中", 1},
		{"surrogate pair", []byte{0xed, 0xa0, 0xbd, 0xed, 0xb8, 0x80}, "\U0001F600", 2},
		{"lone surrogate", []byte{0xed, 0xa0, 0xbd, 'x'}, "�x", 2},
		{"empty", nil, "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, units, err := decodeMUTF8(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.units, units)
		})
	}
}

func TestDecodeMUTF8_Invalid(t *testing.T) {
	for _, in := range [][]byte{
		{0xff},
		{0xc3},
		{0xe4, 0xb8},
		{0xc3, 0x41},
		{'a', 0x00},
		{0xf0, 0x9f, 0x98, 0x80},
	} {
		_, _, err := decodeMUTF8(in)
		assert.Error(t, err, "% x", in)
	}
}

func TestCursor_LEB128(t *testing.T) {
	c := newCursor([]byte{
		0x00,
		0x7f,
		0x80, 0x7f,
		0xe5, 0x8e, 0x26,
		0xff, 0xff, 0xff, 0xff, 0x0f,
	}, 0, "test")
	assert.Equal(t, uint32(0), c.uleb())
	assert.Equal(t, uint32(127), c.uleb())
	assert.Equal(t, uint32(16256), c.uleb())
	assert.Equal(t, uint32(624485), c.uleb())
	assert.Equal(t, uint32(0xffffffff), c.uleb())
	require.NoError(t, c.err)

	s := newCursor([]byte{0x00, 0x01, 0x7f, 0x80, 0x7f, 0xc0, 0xbb, 0x78}, 0, "test")
	assert.Equal(t, int32(0), s.sleb())
	assert.Equal(t, int32(1), s.sleb())
	assert.Equal(t, int32(-1), s.sleb())
	assert.Equal(t, int32(-128), s.sleb())
	assert.Equal(t, int32(-123456), s.sleb())
	require.NoError(t, s.err)

	p := newCursor([]byte{0x00, 0x01, 0x05}, 0, "test")
	assert.Equal(t, int64(-1), p.ulebp1())
	assert.Equal(t, int64(0), p.ulebp1())
	assert.Equal(t, int64(4), p.ulebp1())
}

func TestCursor_Truncated(t *testing.T) {
	c := newCursor([]byte{0x01, 0x02, 0x03}, 0, "type_ids")
	assert.Equal(t, uint16(0x0201), c.u16())
	assert.Equal(t, uint32(0), c.u32())
	require.Error(t, c.err)
	assert.ErrorIs(t, c.err, apperrors.ErrTruncatedTable)
	assert.Contains(t, c.err.Error(), "type_ids")

	// sticky: later reads return zero without replacing the error
	first := c.err
	assert.Equal(t, uint8(0), c.u8())
	assert.Same(t, first, c.err)

	u := newCursor([]byte{0x80, 0x80}, 0, "class_data_item")
	u.uleb()
	assert.ErrorIs(t, u.err, apperrors.ErrTruncatedTable)

	o := newCursor([]byte{0x01}, 9, "string_data_item")
	assert.ErrorIs(t, o.err, apperrors.ErrTruncatedTable)
}

func TestCursor_LEB128TooLong(t *testing.T) {
	u := newCursor([]byte{0xff, 0xff, 0xff, 0xff, 0x8f, 0x00}, 0, "class_data_item")
	assert.Equal(t, uint32(0), u.uleb())
	require.Error(t, u.err)
	assert.ErrorIs(t, u.err, apperrors.ErrTruncatedTable)
	assert.Contains(t, u.err.Error(), "five bytes")

	s := newCursor([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00}, 0, "debug_info_item")
	assert.Equal(t, int32(0), s.sleb())
	assert.ErrorIs(t, s.err, apperrors.ErrTruncatedTable)
}

func TestCursor_WideIndexValue(t *testing.T) {
	// string index with five bytes: 0x0100000005 must not alias string 5
	wide := newCursor([]byte{0x01, 0x97, 0x05, 0x00, 0x00, 0x00, 0x01}, 0, "encoded_array_item")
	var refs Refs
	wide.encodedArray(&refs, 0)
	require.Error(t, wide.err)
	assert.ErrorIs(t, wide.err, apperrors.ErrDanglingReference)
	assert.NotContains(t, refs.Strings, uint32(5))

	// zero high bytes are fine
	ok := newCursor([]byte{0x01, 0x97, 0x05, 0x00, 0x00, 0x00, 0x00}, 0, "encoded_array_item")
	refs = Refs{}
	ok.encodedArray(&refs, 0)
	require.NoError(t, ok.err)
	assert.Equal(t, []uint32{5}, refs.Strings)
}

func TestCursor_EncodedValue(t *testing.T) {
	data := []byte{
		0x03,       // array of 3
		0x17, 0x05, // string 5
		0x38, 0x34, 0x12, // type 0x1234, two bytes
		0x1d, 0x02, 0x01, // annotation type 2, one element
		0x07, 0x1f, //   name 7 = true
	}
	c := newCursor(data, 0, "encoded_array_item")
	var refs Refs
	c.encodedArray(&refs, 0)
	require.NoError(t, c.err)
	assert.Equal(t, len(data), c.pos)
	assert.Equal(t, []uint32{5, 7}, refs.Strings)
	assert.Equal(t, []uint32{0x1234, 2}, refs.Types)

	bad := newCursor([]byte{0x01, 0x0b}, 0, "encoded_array_item")
	bad.encodedArray(&refs, 0)
	assert.ErrorIs(t, bad.err, apperrors.ErrTruncatedTable)
}
