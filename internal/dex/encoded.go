package dex

import (
	apperrors "github.com/dex-analysis/pkg/errors"
)

// encoded_value types.
const (
	valueByte         = 0x00
	valueShort        = 0x02
	valueChar         = 0x03
	valueInt          = 0x04
	valueLong         = 0x06
	valueFloat        = 0x10
	valueDouble       = 0x11
	valueMethodType   = 0x15
	valueMethodHandle = 0x16
	valueString       = 0x17
	valueType         = 0x18
	valueField        = 0x19
	valueMethod       = 0x1a
	valueEnum         = 0x1b
	valueArray        = 0x1c
	valueAnnotation   = 0x1d
	valueNull         = 0x1e
	valueBoolean      = 0x1f
)

// maxValueDepth bounds nested arrays and annotations.
const maxValueDepth = 64

// readIndexValue reads an unsigned little-endian index of size bytes. An
// index that does not fit in 32 bits cannot name any table entry.
func (c *cursor) readIndexValue(size int) uint32 {
	if !c.need(size) {
		return 0
	}
	var v uint32
	for i := 0; i < size; i++ {
		b := c.data[c.pos+i]
		if i >= 4 {
			if b != 0 {
				c.err = apperrors.Newf(apperrors.CodeDanglingReference,
					"%s: index at offset %#x does not fit in 32 bits", c.table, c.pos)
				c.pos = len(c.data)
				return 0
			}
			continue
		}
		v |= uint32(b) << (8 * i)
	}
	c.pos += size
	return v
}

// encodedValue skips one encoded_value, collecting id references.
func (c *cursor) encodedValue(refs *Refs, depth int) {
	if depth > maxValueDepth {
		c.malformed("encoded value nesting exceeds %d", maxValueDepth)
		return
	}
	header := c.u8()
	if c.err != nil {
		return
	}
	arg := int(header >> 5)
	switch header & 0x1f {
	case valueByte, valueShort, valueChar, valueInt, valueLong,
		valueFloat, valueDouble, valueMethodHandle:
		c.skip(arg + 1)
	case valueMethodType:
		refs.Protos = append(refs.Protos, c.readIndexValue(arg+1))
	case valueString:
		refs.Strings = append(refs.Strings, c.readIndexValue(arg+1))
	case valueType:
		refs.Types = append(refs.Types, c.readIndexValue(arg+1))
	case valueField, valueEnum:
		refs.Fields = append(refs.Fields, c.readIndexValue(arg+1))
	case valueMethod:
		refs.Methods = append(refs.Methods, c.readIndexValue(arg+1))
	case valueArray:
		c.encodedArray(refs, depth+1)
	case valueAnnotation:
		c.encodedAnnotation(refs, depth+1)
	case valueNull, valueBoolean:
	default:
		c.malformed("unknown encoded value type %#x", header&0x1f)
	}
}

func (c *cursor) encodedArray(refs *Refs, depth int) {
	n := c.uleb()
	for i := uint32(0); i < n && c.err == nil; i++ {
		c.encodedValue(refs, depth)
	}
}

func (c *cursor) encodedAnnotation(refs *Refs, depth int) {
	refs.Types = append(refs.Types, c.uleb())
	n := c.uleb()
	for i := uint32(0); i < n && c.err == nil; i++ {
		refs.Strings = append(refs.Strings, c.uleb())
		c.encodedValue(refs, depth)
	}
}

// malformed stops the cursor on a data item whose extent cannot be
// determined. It is reported as TruncatedTable.
func (c *cursor) malformed(format string, args ...interface{}) {
	if c.err == nil {
		c.err = apperrors.Newf(apperrors.CodeTruncatedTable, c.table+": "+format, args...)
	}
	c.pos = len(c.data)
}
