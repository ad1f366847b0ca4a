// Package dex parses DEX files into an index-addressed structural model.
//
// See https://source.android.com/docs/core/runtime/dex-format for the
// format. Parse reads the header, the fixed-size id tables and every data
// item reachable from a class definition, recording the byte span of each.
// Instruction streams are sized but not decoded.
package dex

import (
	"bytes"
	"fmt"

	apperrors "github.com/dex-analysis/pkg/errors"
)

type parser struct {
	data []byte
	m    *Model
	err  error

	typeLists map[uint32]int
	sets      map[uint32]int
	refLists  map[uint32]int
	items     map[uint32]int
	code      map[uint32]int
	codeDebug map[uint32]int
	debug     map[uint32]int
}

// Parse reads one blob into a Model. It fails with MalformedHeader,
// TruncatedTable or DanglingReference; an undecodable string is not an
// error and is flagged on its StringEntry instead.
func Parse(blob Blob) (*Model, error) {
	h, version, err := readHeader(blob.Data)
	if err != nil {
		return nil, err
	}

	tables := []struct {
		name       string
		off, count uint32
		itemSize   uint32
	}{
		{"string_ids", h.StringIDsOff, h.StringIDsSize, stringIDSize},
		{"type_ids", h.TypeIDsOff, h.TypeIDsSize, typeIDSize},
		{"proto_ids", h.ProtoIDsOff, h.ProtoIDsSize, protoIDSize},
		{"field_ids", h.FieldIDsOff, h.FieldIDsSize, fieldIDSize},
		{"method_ids", h.MethodIDsOff, h.MethodIDsSize, methodIDSize},
		{"class_defs", h.ClassDefsOff, h.ClassDefsSize, classDefSize},
	}
	for _, t := range tables {
		if err := checkTable(blob.Data, t.name, t.off, t.count, t.itemSize); err != nil {
			return nil, err
		}
	}

	p := &parser{
		data: blob.Data,
		m: &Model{
			Path:     blob.Path,
			Version:  version,
			Size:     len(blob.Data),
			FileSize: h.FileSize,
			Header:   Span{Offset: 0, Size: headerSize},
		},
		typeLists: make(map[uint32]int),
		sets:      make(map[uint32]int),
		refLists:  make(map[uint32]int),
		items:     make(map[uint32]int),
		code:      make(map[uint32]int),
		codeDebug: make(map[uint32]int),
		debug:     make(map[uint32]int),
	}

	steps := []func(*fileHeader){
		p.readStrings,
		p.readTypes,
		p.readProtos,
		p.readFieldIDs,
		p.readMethodIDs,
		p.readClasses,
	}
	for _, step := range steps {
		step(h)
		if p.err != nil {
			return nil, p.err
		}
	}
	return p.m, nil
}

func (p *parser) setErr(err error) {
	if p.err == nil && err != nil {
		p.err = err
	}
}

// index records a DanglingReference when idx is outside [0, limit).
func (p *parser) index(what string, idx uint32, limit int) bool {
	if uint64(idx) >= uint64(limit) {
		p.setErr(apperrors.Newf(apperrors.CodeDanglingReference,
			"%s index %d out of range (table has %d entries)", what, idx, limit))
		return false
	}
	return true
}

func (p *parser) checkRefs(where string, r *Refs) {
	for _, s := range r.Strings {
		p.index(where+" string", s, len(p.m.Strings))
	}
	for _, t := range r.Types {
		p.index(where+" type", t, len(p.m.Types))
	}
	for _, f := range r.Fields {
		p.index(where+" field", f, len(p.m.Fields))
	}
	for _, mi := range r.Methods {
		p.index(where+" method", mi, len(p.m.Methods))
	}
	for _, pr := range r.Protos {
		p.index(where+" proto", pr, len(p.m.Protos))
	}
}

func (p *parser) readStrings(h *fileHeader) {
	ids := newCursor(p.data, h.StringIDsOff, "string_ids")
	p.m.Strings = make([]StringEntry, h.StringIDsSize)
	for i := range p.m.Strings {
		idOff := uint32(ids.pos)
		dataOff := ids.u32()
		e := &p.m.Strings[i]
		e.ID = Span{Offset: idOff, Size: stringIDSize}
		p.readStringData(e, i, dataOff)
		if p.err != nil {
			return
		}
	}
	p.setErr(ids.err)
}

// readStringData decodes a string_data_item. An item that decodes badly
// gets a placeholder value and a nominal size of prefix, declared length
// and terminator, clamped to the blob.
func (p *parser) readStringData(e *StringEntry, idx int, off uint32) {
	c := newCursor(p.data, off, "string_data_item")
	utf16Len := c.uleb()
	if c.err != nil {
		p.setErr(c.err)
		return
	}
	start := c.pos

	nul := bytes.IndexByte(p.data[start:], 0)
	if nul >= 0 {
		value, units, err := decodeMUTF8(p.data[start : start+nul])
		e.Data = Span{Offset: off, Size: uint32(start + nul + 1 - int(off))}
		if err == nil && uint32(units) == utf16Len {
			e.Value = value
			return
		}
	} else {
		nominal := uint64(start-int(off)) + uint64(utf16Len) + 1
		if limit := uint64(len(p.data)) - uint64(off); nominal > limit {
			nominal = limit
		}
		e.Data = Span{Offset: off, Size: uint32(nominal)}
	}
	e.Unreadable = true
	e.Value = fmt.Sprintf("<unreadable string #%d>", idx)
}

func (p *parser) readTypes(h *fileHeader) {
	c := newCursor(p.data, h.TypeIDsOff, "type_ids")
	p.m.Types = make([]TypeEntry, h.TypeIDsSize)
	for i := range p.m.Types {
		off := uint32(c.pos)
		desc := c.u32()
		if !p.index("type_id descriptor", desc, len(p.m.Strings)) {
			return
		}
		p.m.Types[i] = TypeEntry{
			ID:            Span{Offset: off, Size: typeIDSize},
			DescriptorIdx: desc,
			Name:          DecodeDescriptor(p.m.Strings[desc].Value),
		}
	}
	p.setErr(c.err)
}

func (p *parser) readProtos(h *fileHeader) {
	c := newCursor(p.data, h.ProtoIDsOff, "proto_ids")
	p.m.Protos = make([]ProtoEntry, h.ProtoIDsSize)
	for i := range p.m.Protos {
		off := uint32(c.pos)
		shorty, ret, paramsOff := c.u32(), c.u32(), c.u32()
		if !p.index("proto shorty", shorty, len(p.m.Strings)) ||
			!p.index("proto return type", ret, len(p.m.Types)) {
			return
		}
		p.m.Protos[i] = ProtoEntry{
			ID:            Span{Offset: off, Size: protoIDSize},
			ShortyIdx:     shorty,
			ReturnTypeIdx: ret,
			Params:        p.typeList(paramsOff),
		}
		if p.err != nil {
			return
		}
	}
	p.setErr(c.err)
}

func (p *parser) readFieldIDs(h *fileHeader) {
	c := newCursor(p.data, h.FieldIDsOff, "field_ids")
	p.m.Fields = make([]FieldID, h.FieldIDsSize)
	for i := range p.m.Fields {
		off := uint32(c.pos)
		f := FieldID{ID: Span{Offset: off, Size: fieldIDSize}, ClassIdx: c.u16(), TypeIdx: c.u16(), NameIdx: c.u32()}
		if !p.index("field class", uint32(f.ClassIdx), len(p.m.Types)) ||
			!p.index("field type", uint32(f.TypeIdx), len(p.m.Types)) ||
			!p.index("field name", f.NameIdx, len(p.m.Strings)) {
			return
		}
		p.m.Fields[i] = f
	}
	p.setErr(c.err)
}

func (p *parser) readMethodIDs(h *fileHeader) {
	c := newCursor(p.data, h.MethodIDsOff, "method_ids")
	p.m.Methods = make([]MethodID, h.MethodIDsSize)
	for i := range p.m.Methods {
		off := uint32(c.pos)
		mid := MethodID{ID: Span{Offset: off, Size: methodIDSize}, ClassIdx: c.u16(), ProtoIdx: c.u16(), NameIdx: c.u32()}
		if !p.index("method class", uint32(mid.ClassIdx), len(p.m.Types)) ||
			!p.index("method proto", uint32(mid.ProtoIdx), len(p.m.Protos)) ||
			!p.index("method name", mid.NameIdx, len(p.m.Strings)) {
			return
		}
		p.m.Methods[i] = mid
	}
	p.setErr(c.err)
}

func (p *parser) readClasses(h *fileHeader) {
	c := newCursor(p.data, h.ClassDefsOff, "class_defs")
	p.m.Classes = make([]ClassDef, h.ClassDefsSize)
	for i := range p.m.Classes {
		off := uint32(c.pos)
		classIdx, flags, super := c.u32(), c.u32(), c.u32()
		interfacesOff, sourceFile, annotationsOff := c.u32(), c.u32(), c.u32()
		classDataOff, staticValuesOff := c.u32(), c.u32()

		if !p.index("class type", classIdx, len(p.m.Types)) {
			return
		}
		if super != NoIndex && !p.index("superclass", super, len(p.m.Types)) {
			return
		}
		if sourceFile != NoIndex && !p.index("source file", sourceFile, len(p.m.Strings)) {
			return
		}

		cd := &p.m.Classes[i]
		*cd = ClassDef{
			ID:            Span{Offset: off, Size: classDefSize},
			ClassIdx:      classIdx,
			AccessFlags:   flags,
			SuperclassIdx: super,
			Interfaces:    p.typeList(interfacesOff),
			SourceFileIdx: sourceFile,
		}
		if annotationsOff != 0 {
			cd.Annotations = p.annotationsDirectory(annotationsOff)
		}
		p.classData(i, classDataOff)
		if staticValuesOff != 0 {
			sv := newCursor(p.data, staticValuesOff, "encoded_array_item")
			sv.encodedArray(&cd.StaticValuesRefs, 0)
			p.setErr(sv.err)
			cd.StaticValues = Span{Offset: staticValuesOff, Size: uint32(sv.pos) - staticValuesOff}
			p.checkRefs("static value", &cd.StaticValuesRefs)
		}
		if p.err != nil {
			return
		}
	}
	p.setErr(c.err)
}

func (p *parser) typeList(off uint32) int {
	if off == 0 {
		return -1
	}
	if idx, ok := p.typeLists[off]; ok {
		return idx
	}

	c := newCursor(p.data, off, "type_list")
	n := c.u32()
	if !c.need(int(n) * 2) {
		p.setErr(c.err)
		return -1
	}
	types := make([]uint32, n)
	for i := range types {
		types[i] = uint32(c.u16())
		if !p.index("type_list entry", types[i], len(p.m.Types)) {
			return -1
		}
	}
	p.m.TypeLists = append(p.m.TypeLists, TypeList{
		Span:  Span{Offset: off, Size: uint32(c.pos) - off},
		Types: types,
	})
	idx := len(p.m.TypeLists) - 1
	p.typeLists[off] = idx
	return idx
}

func (p *parser) classData(class int, off uint32) {
	cd := &p.m.Classes[class]
	cd.Fields = Range{Start: len(p.m.FieldDefs), End: len(p.m.FieldDefs)}
	cd.Methods = Range{Start: len(p.m.MethodDefs), End: len(p.m.MethodDefs)}
	if off == 0 {
		return
	}

	c := newCursor(p.data, off, "class_data_item")
	staticFields, instanceFields := c.uleb(), c.uleb()
	directMethods, virtualMethods := c.uleb(), c.uleb()
	// Each encoded field takes at least 2 bytes and each method at least 3.
	minBytes := (uint64(staticFields)+uint64(instanceFields))*2 + (uint64(directMethods)+uint64(virtualMethods))*3
	if c.err == nil && minBytes > uint64(len(p.data)-c.pos) {
		c.fail(int(min(minBytes, uint64(len(p.data)))))
	}
	if c.err != nil {
		p.setErr(c.err)
		return
	}

	numFields := staticFields + instanceFields
	var fieldIdx uint32
	for i := uint32(0); i < numFields && c.err == nil; i++ {
		delta := c.uleb()
		if i == 0 || i == staticFields {
			fieldIdx = delta
		} else {
			fieldIdx += delta
		}
		flags := c.uleb()
		if !p.index("encoded field", fieldIdx, len(p.m.Fields)) {
			return
		}
		p.m.FieldDefs = append(p.m.FieldDefs, FieldDef{
			FieldIdx:    fieldIdx,
			AccessFlags: flags,
			Static:      i < staticFields,
			Class:       class,
		})
	}

	numMethods := directMethods + virtualMethods
	var methodIdx uint32
	for i := uint32(0); i < numMethods && c.err == nil; i++ {
		delta := c.uleb()
		if i == 0 || i == directMethods {
			methodIdx = delta
		} else {
			methodIdx += delta
		}
		flags := c.uleb()
		codeOff := c.uleb()
		if c.err != nil {
			break
		}
		if !p.index("encoded method", methodIdx, len(p.m.Methods)) {
			return
		}
		def := MethodDef{
			MethodIdx:   methodIdx,
			AccessFlags: flags,
			Direct:      i < directMethods,
			Class:       class,
			Code:        -1,
			Debug:       -1,
		}
		if codeOff != 0 {
			def.Code, def.Debug = p.codeItem(codeOff)
		}
		if p.err != nil {
			return
		}
		p.m.MethodDefs = append(p.m.MethodDefs, def)
	}
	p.setErr(c.err)

	cd.ClassData = Span{Offset: off, Size: uint32(c.pos) - off}
	cd.Fields.End = len(p.m.FieldDefs)
	cd.Methods.End = len(p.m.MethodDefs)
}
