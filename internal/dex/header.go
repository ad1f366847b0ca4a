package dex

import (
	"bytes"
	"encoding/binary"

	apperrors "github.com/dex-analysis/pkg/errors"
)

const (
	headerSize         = 0x70
	endianConstant     = 0x12345678
	reverseEndianConst = 0x78563412

	stringIDSize = 4
	typeIDSize   = 4
	protoIDSize  = 12
	fieldIDSize  = 8
	methodIDSize = 8
	classDefSize = 32
)

// SupportedVersions lists the accepted header format versions.
var SupportedVersions = []string{"035", "037", "038", "039", "040", "041"}

// fileHeader mirrors header_item; fields are exported for binary.Read.
type fileHeader struct {
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIDsSize uint32
	StringIDsOff  uint32
	TypeIDsSize   uint32
	TypeIDsOff    uint32
	ProtoIDsSize  uint32
	ProtoIDsOff   uint32
	FieldIDsSize  uint32
	FieldIDsOff   uint32
	MethodIDsSize uint32
	MethodIDsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

func readHeader(data []byte) (*fileHeader, string, error) {
	if len(data) < headerSize {
		return nil, "", apperrors.Newf(apperrors.CodeMalformedHeader,
			"blob of %d bytes is shorter than the %d byte header", len(data), headerSize)
	}

	var h fileHeader
	if err := binary.Read(bytes.NewReader(data[:headerSize]), binary.LittleEndian, &h); err != nil {
		return nil, "", apperrors.Wrap(apperrors.CodeMalformedHeader, "unable to decode header", err)
	}

	if !bytes.Equal(h.Magic[:4], []byte("dex\n")) || h.Magic[7] != 0 {
		return nil, "", apperrors.Newf(apperrors.CodeMalformedHeader, "bad magic %q", h.Magic[:])
	}
	version := string(h.Magic[4:7])
	supported := false
	for _, v := range SupportedVersions {
		if v == version {
			supported = true
			break
		}
	}
	if !supported {
		return nil, "", apperrors.Newf(apperrors.CodeMalformedHeader, "unsupported version %q", version)
	}

	switch h.EndianTag {
	case endianConstant:
	case reverseEndianConst:
		return nil, "", apperrors.New(apperrors.CodeMalformedHeader, "big-endian files are not supported")
	default:
		return nil, "", apperrors.Newf(apperrors.CodeMalformedHeader, "bad endian tag %#x", h.EndianTag)
	}
	if h.HeaderSize != headerSize {
		return nil, "", apperrors.Newf(apperrors.CodeMalformedHeader, "bad header size %#x", h.HeaderSize)
	}
	return &h, version, nil
}

// checkTable verifies a fixed-size table lies within the blob.
func checkTable(data []byte, name string, off, count, itemSize uint32) error {
	if count == 0 {
		return nil
	}
	end := uint64(off) + uint64(count)*uint64(itemSize)
	if off < headerSize || end > uint64(len(data)) {
		return apperrors.Newf(apperrors.CodeTruncatedTable,
			"%s: %d entries at %#x end at %#x, blob is %d bytes", name, count, off, end, len(data))
	}
	return nil
}
