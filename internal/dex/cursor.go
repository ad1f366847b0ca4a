package dex

import (
	"encoding/binary"

	apperrors "github.com/dex-analysis/pkg/errors"
)

// cursor reads little-endian values from a blob. The first out-of-bounds read
// records a TruncatedTable error; later reads return zero values, so callers
// check err once after a run of reads.
type cursor struct {
	data  []byte
	pos   int
	table string
	err   error
}

func newCursor(data []byte, off uint32, table string) *cursor {
	c := &cursor{data: data, pos: int(off), table: table}
	if int(off) > len(data) {
		c.fail(0)
	}
	return c
}

func (c *cursor) fail(need int) {
	if c.err == nil {
		c.err = apperrors.Newf(apperrors.CodeTruncatedTable,
			"%s: %d bytes at offset %#x exceed blob of %d bytes", c.table, need, c.pos, len(c.data))
	}
	c.pos = len(c.data)
}

func (c *cursor) need(n int) bool {
	if c.err != nil {
		return false
	}
	if n < 0 || c.pos+n > len(c.data) {
		c.fail(n)
		return false
	}
	return true
}

func (c *cursor) u8() uint8 {
	if !c.need(1) {
		return 0
	}
	v := c.data[c.pos]
	c.pos++
	return v
}

func (c *cursor) u16() uint16 {
	if !c.need(2) {
		return 0
	}
	v := binary.LittleEndian.Uint16(c.data[c.pos:])
	c.pos += 2
	return v
}

func (c *cursor) u32() uint32 {
	if !c.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(c.data[c.pos:])
	c.pos += 4
	return v
}

func (c *cursor) skip(n int) {
	if c.need(n) {
		c.pos += n
	}
}

// align advances to the next multiple of n.
func (c *cursor) align(n int) {
	if rem := c.pos % n; rem != 0 {
		c.skip(n - rem)
	}
}

// uleb reads a ULEB128 value of at most five bytes.
func (c *cursor) uleb() uint32 {
	if c.err != nil {
		return 0
	}
	end := min(c.pos+5, len(c.data))
	v, n := binary.Uvarint(c.data[c.pos:end])
	if n <= 0 {
		if end-c.pos < 5 {
			c.fail(end - c.pos + 1)
			return 0
		}
		c.malformed("uleb128 at offset %#x continues past five bytes", c.pos)
		return 0
	}
	c.pos += n
	return uint32(v)
}

// ulebp1 reads a ULEB128p1 value; -1 is NO_INDEX.
func (c *cursor) ulebp1() int64 {
	return int64(c.uleb()) - 1
}

// sleb reads a signed LEB128 value of at most five bytes.
func (c *cursor) sleb() int32 {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		b := c.u8()
		if c.err != nil {
			return 0
		}
		result |= int32(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 32 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result
		}
	}
	c.malformed("sleb128 continues past five bytes")
	return 0
}
