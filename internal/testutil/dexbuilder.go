package testutil

import (
	"bytes"
	"crypto/sha1"
	"encoding/binary"
	"hash/adler32"
	"sort"
	"strings"
	"unicode/utf16"
)

const noIndex = 0xffffffff

// Method describes a method added with ClassBuilder.DirectMethod or
// VirtualMethod. Descriptors use DEX syntax ("V", "I", "Ljava/lang/String;").
type Method struct {
	Name   string
	Return string
	Params []string
	// Insns is the number of 16-bit code units; 0 means no code_item.
	Insns int
	// CatchTypes adds one try block whose handler catches these types.
	CatchTypes []string
	// Locals adds a debug_info_item declaring int locals with these names.
	Locals []string
}

type encodedField struct {
	idx   int
	flags uint32
	value *string
}

type encodedMethod struct {
	idx   int
	flags uint32
	def   Method
}

// ClassBuilder accumulates one class_def.
type ClassBuilder struct {
	b           *Builder
	typeIdx     int
	super       int
	interfaces  []string
	sourceFile  int
	static      []encodedField
	instance    []encodedField
	direct      []encodedMethod
	virtual     []encodedMethod
	annotations []int
}

type proto struct {
	shorty int
	ret    int
	params []string
}

type memberID struct {
	class int
	ref   int // type for fields, proto for methods
	name  int
}

// Builder lays out a small DEX file. Ids are assigned in insertion order.
type Builder struct {
	Version string

	strings   []string
	stringIdx map[string]int
	types     []int
	typeIdx   map[string]int
	protos    []proto
	protoIdx  map[string]int
	fields    []memberID
	fieldIdx  map[string]int
	methods   []memberID
	methodIdx map[string]int
	classes   []*ClassBuilder

	rawStrings map[int][]byte
}

// NewDexBuilder returns an empty builder for format version 035.
func NewDexBuilder() *Builder {
	return &Builder{
		Version:    "035",
		stringIdx:  make(map[string]int),
		typeIdx:    make(map[string]int),
		protoIdx:   make(map[string]int),
		fieldIdx:   make(map[string]int),
		methodIdx:  make(map[string]int),
		rawStrings: make(map[int][]byte),
	}
}

// String interns s and returns its index.
func (b *Builder) String(s string) int {
	if idx, ok := b.stringIdx[s]; ok {
		return idx
	}
	b.strings = append(b.strings, s)
	b.stringIdx[s] = len(b.strings) - 1
	return len(b.strings) - 1
}

// RawString interns a string whose data bytes (without length prefix and
// terminator) are written verbatim, e.g. invalid MUTF-8. key must be unique.
func (b *Builder) RawString(key string, data []byte) int {
	idx := b.String(key)
	b.rawStrings[idx] = data
	return idx
}

// Type interns a type descriptor and returns its index.
func (b *Builder) Type(desc string) int {
	if idx, ok := b.typeIdx[desc]; ok {
		return idx
	}
	b.types = append(b.types, b.String(desc))
	b.typeIdx[desc] = len(b.types) - 1
	return len(b.types) - 1
}

// Proto interns a prototype and returns its index.
func (b *Builder) Proto(ret string, params ...string) int {
	key := ret + "(" + strings.Join(params, "") + ")"
	if idx, ok := b.protoIdx[key]; ok {
		return idx
	}
	shorty := shortyOf(ret)
	for _, p := range params {
		shorty += shortyOf(p)
	}
	p := proto{shorty: b.String(shorty), ret: b.Type(ret), params: params}
	for _, t := range params {
		b.Type(t)
	}
	b.protos = append(b.protos, p)
	b.protoIdx[key] = len(b.protos) - 1
	return len(b.protos) - 1
}

// FieldID interns a field reference.
func (b *Builder) FieldID(classDesc, typeDesc, name string) int {
	key := classDesc + "->" + name + ":" + typeDesc
	if idx, ok := b.fieldIdx[key]; ok {
		return idx
	}
	b.fields = append(b.fields, memberID{class: b.Type(classDesc), ref: b.Type(typeDesc), name: b.String(name)})
	b.fieldIdx[key] = len(b.fields) - 1
	return len(b.fields) - 1
}

// MethodID interns a method reference.
func (b *Builder) MethodID(classDesc, name, ret string, params ...string) int {
	key := classDesc + "->" + name + "(" + strings.Join(params, "") + ")" + ret
	if idx, ok := b.methodIdx[key]; ok {
		return idx
	}
	b.methods = append(b.methods, memberID{class: b.Type(classDesc), ref: b.Proto(ret, params...), name: b.String(name)})
	b.methodIdx[key] = len(b.methods) - 1
	return len(b.methods) - 1
}

// Class adds a class definition named in Java syntax ("a.b.Foo").
func (b *Builder) Class(name string) *ClassBuilder {
	cb := &ClassBuilder{b: b, typeIdx: b.Type(ClassDescriptor(name)), super: -1, sourceFile: -1}
	b.classes = append(b.classes, cb)
	return cb
}

// ClassDescriptor converts "a.b.Foo" to "La/b/Foo;".
func ClassDescriptor(name string) string {
	return "L" + strings.ReplaceAll(name, ".", "/") + ";"
}

func (cb *ClassBuilder) desc() string {
	return cb.b.strings[cb.b.types[cb.typeIdx]]
}

// Super sets the superclass.
func (cb *ClassBuilder) Super(name string) *ClassBuilder {
	cb.super = cb.b.Type(ClassDescriptor(name))
	return cb
}

// Implements adds interfaces.
func (cb *ClassBuilder) Implements(names ...string) *ClassBuilder {
	for _, n := range names {
		cb.b.Type(ClassDescriptor(n))
		cb.interfaces = append(cb.interfaces, ClassDescriptor(n))
	}
	return cb
}

// SourceFile sets the source file name.
func (cb *ClassBuilder) SourceFile(name string) *ClassBuilder {
	cb.sourceFile = cb.b.String(name)
	return cb
}

// StaticField adds a static field.
func (cb *ClassBuilder) StaticField(name, typeDesc string) *ClassBuilder {
	cb.static = append(cb.static, encodedField{idx: cb.b.FieldID(cb.desc(), typeDesc, name), flags: 0x9})
	return cb
}

// StaticString adds a static String field initialized to value.
func (cb *ClassBuilder) StaticString(name, value string) *ClassBuilder {
	cb.b.String(value)
	cb.static = append(cb.static, encodedField{
		idx:   cb.b.FieldID(cb.desc(), "Ljava/lang/String;", name),
		flags: 0x19,
		value: &value,
	})
	return cb
}

// InstanceField adds an instance field.
func (cb *ClassBuilder) InstanceField(name, typeDesc string) *ClassBuilder {
	cb.instance = append(cb.instance, encodedField{idx: cb.b.FieldID(cb.desc(), typeDesc, name), flags: 0x2})
	return cb
}

// DirectMethod adds a direct (static, private or constructor) method.
func (cb *ClassBuilder) DirectMethod(m Method) *ClassBuilder {
	cb.direct = append(cb.direct, cb.method(m, 0x9))
	return cb
}

// VirtualMethod adds a virtual method.
func (cb *ClassBuilder) VirtualMethod(m Method) *ClassBuilder {
	cb.virtual = append(cb.virtual, cb.method(m, 0x1))
	return cb
}

func (cb *ClassBuilder) method(m Method, flags uint32) encodedMethod {
	if m.Return == "" {
		m.Return = "V"
	}
	if m.Insns == 0 {
		flags |= 0x400 // abstract
	}
	for _, t := range m.CatchTypes {
		cb.b.Type(t)
	}
	if len(m.Locals) > 0 {
		cb.b.Type("I")
		for _, l := range m.Locals {
			cb.b.String(l)
		}
	}
	return encodedMethod{idx: cb.b.MethodID(cb.desc(), m.Name, m.Return, m.Params...), flags: flags, def: m}
}

// Annotate adds a class-level runtime annotation of the given class.
func (cb *ClassBuilder) Annotate(name string) *ClassBuilder {
	cb.annotations = append(cb.annotations, cb.b.Type(ClassDescriptor(name)))
	return cb
}

func (cb *ClassBuilder) hasData() bool {
	return len(cb.static)+len(cb.instance)+len(cb.direct)+len(cb.virtual) > 0
}

func shortyOf(desc string) string {
	if desc[0] == 'L' || desc[0] == '[' {
		return "L"
	}
	return desc[:1]
}

// DexImage is a built file plus the offsets tests need to patch it.
type DexImage struct {
	Data          []byte
	StringIDsOff  uint32
	TypeIDsOff    uint32
	ProtoIDsOff   uint32
	FieldIDsOff   uint32
	MethodIDsOff  uint32
	ClassDefsOff  uint32
	StringDataOff []uint32
	ClassDataOff  []uint32
}

// Header field offsets within header_item.
const (
	HeaderFileSizeOff      = 0x20
	HeaderEndianTagOff     = 0x28
	HeaderStringIDsSizeOff = 0x38
	HeaderTypeIDsSizeOff   = 0x40
	HeaderMethodIDsSizeOff = 0x58
	HeaderClassDefsSizeOff = 0x60
)

// Build lays out the file and returns its bytes.
func (b *Builder) Build() []byte {
	return b.BuildImage().Data
}

// BuildImage lays out the file: header, id tables, then the data section.
func (b *Builder) BuildImage() *DexImage {
	img := &DexImage{}
	for _, cb := range b.classes {
		sortFields(cb.static)
		sortFields(cb.instance)
		sortMethods(cb.direct)
		sortMethods(cb.virtual)
	}
	off := uint32(0x70)
	table := func(count, size int) uint32 {
		if count == 0 {
			return 0
		}
		start := off
		off += uint32(count * size)
		return start
	}
	img.StringIDsOff = table(len(b.strings), 4)
	img.TypeIDsOff = table(len(b.types), 4)
	img.ProtoIDsOff = table(len(b.protos), 12)
	img.FieldIDsOff = table(len(b.fields), 8)
	img.MethodIDsOff = table(len(b.methods), 8)
	img.ClassDefsOff = table(len(b.classes), 32)
	dataOff := off

	d := &dataWriter{base: dataOff}

	// string_data_item
	img.StringDataOff = make([]uint32, len(b.strings))
	for i, s := range b.strings {
		img.StringDataOff[i] = d.offset()
		if raw, ok := b.rawStrings[i]; ok {
			d.uleb(uint32(len(raw)))
			d.buf.Write(raw)
		} else {
			enc, units := encodeMUTF8(s)
			d.uleb(uint32(units))
			d.buf.Write(enc)
		}
		d.buf.WriteByte(0)
	}

	// debug_info_item per method with locals
	debugOff := map[*encodedMethod]uint32{}
	for _, cb := range b.classes {
		for _, list := range [][]encodedMethod{cb.direct, cb.virtual} {
			for i := range list {
				m := &list[i]
				if len(m.def.Locals) == 0 || m.def.Insns == 0 {
					continue
				}
				debugOff[m] = d.offset()
				d.uleb(1) // line_start
				d.uleb(uint32(len(m.def.Params)))
				for range m.def.Params {
					d.uleb(0) // NO_INDEX
				}
				for reg, l := range m.def.Locals {
					d.buf.WriteByte(0x03)
					d.uleb(uint32(reg))
					d.uleb(uint32(b.stringIdx[l] + 1))
					d.uleb(uint32(b.typeIdx["I"] + 1))
				}
				d.buf.WriteByte(0x07)
				d.buf.WriteByte(0x0e)
				d.buf.WriteByte(0x00)
			}
		}
	}

	// type_list
	typeListOff := map[string]uint32{}
	writeTypeList := func(descs []string) uint32 {
		if len(descs) == 0 {
			return 0
		}
		key := strings.Join(descs, "")
		if o, ok := typeListOff[key]; ok {
			return o
		}
		d.align(4)
		o := d.offset()
		d.u32(uint32(len(descs)))
		for _, t := range descs {
			d.u16(uint16(b.typeIdx[t]))
		}
		typeListOff[key] = o
		return o
	}
	protoParamsOff := make([]uint32, len(b.protos))
	for i, p := range b.protos {
		protoParamsOff[i] = writeTypeList(p.params)
	}
	interfacesOff := make([]uint32, len(b.classes))
	for i, cb := range b.classes {
		interfacesOff[i] = writeTypeList(cb.interfaces)
	}

	// code_item
	codeOff := map[*encodedMethod]uint32{}
	for _, cb := range b.classes {
		for _, list := range [][]encodedMethod{cb.direct, cb.virtual} {
			for i := range list {
				m := &list[i]
				if m.def.Insns == 0 {
					continue
				}
				d.align(4)
				codeOff[m] = d.offset()
				tries := 0
				if len(m.def.CatchTypes) > 0 {
					tries = 1
				}
				d.u16(uint16(len(m.def.Locals) + len(m.def.Params) + 1)) // registers
				d.u16(uint16(len(m.def.Params)))                         // ins
				d.u16(0)                                                 // outs
				d.u16(uint16(tries))
				d.u32(debugOff[m])
				d.u32(uint32(m.def.Insns))
				for u := 0; u < m.def.Insns-1; u++ {
					d.u16(0x0000) // nop
				}
				d.u16(0x000e) // return-void
				if tries > 0 {
					if m.def.Insns%2 == 1 {
						d.u16(0)
					}
					d.u32(0)                   // start_addr
					d.u16(uint16(m.def.Insns)) // insn_count
					d.u16(1)                   // handler_off, just past the list size
					d.uleb(1)                  // handlers list size
					d.sleb(int32(len(m.def.CatchTypes)))
					for _, t := range m.def.CatchTypes {
						d.uleb(uint32(b.typeIdx[t]))
						d.uleb(0)
					}
				}
			}
		}
	}

	// class_data_item
	img.ClassDataOff = make([]uint32, len(b.classes))
	for i, cb := range b.classes {
		if !cb.hasData() {
			continue
		}
		img.ClassDataOff[i] = d.offset()
		d.uleb(uint32(len(cb.static)))
		d.uleb(uint32(len(cb.instance)))
		d.uleb(uint32(len(cb.direct)))
		d.uleb(uint32(len(cb.virtual)))
		for _, list := range [][]encodedField{cb.static, cb.instance} {
			prev := 0
			for _, f := range list {
				d.uleb(uint32(f.idx - prev))
				d.uleb(f.flags)
				prev = f.idx
			}
		}
		for _, list := range [][]encodedMethod{cb.direct, cb.virtual} {
			prev := 0
			for j := range list {
				m := &list[j]
				d.uleb(uint32(m.idx - prev))
				d.uleb(m.flags)
				d.uleb(codeOff[m])
				prev = m.idx
			}
		}
	}

	// encoded_array_item
	staticValuesOff := make([]uint32, len(b.classes))
	for i, cb := range b.classes {
		last := -1
		for j, f := range cb.static {
			if f.value != nil {
				last = j
			}
		}
		if last < 0 {
			continue
		}
		staticValuesOff[i] = d.offset()
		d.uleb(uint32(last + 1))
		for _, f := range cb.static[:last+1] {
			if f.value == nil {
				d.buf.WriteByte(0x1e) // VALUE_NULL
				continue
			}
			d.indexValue(0x17, uint32(b.stringIdx[*f.value]))
		}
	}

	// annotation_item, annotation_set_item, annotations_directory_item
	annotationsOff := make([]uint32, len(b.classes))
	for i, cb := range b.classes {
		if len(cb.annotations) == 0 {
			continue
		}
		var items []uint32
		for _, t := range cb.annotations {
			items = append(items, d.offset())
			d.buf.WriteByte(0x01) // VISIBILITY_RUNTIME
			d.uleb(uint32(t))
			d.uleb(0)
		}
		d.align(4)
		setOff := d.offset()
		d.u32(uint32(len(items)))
		for _, o := range items {
			d.u32(o)
		}
		annotationsOff[i] = d.offset()
		d.u32(setOff)
		d.u32(0)
		d.u32(0)
		d.u32(0)
	}

	data := d.buf.Bytes()
	fileSize := dataOff + uint32(len(data))
	out := make([]byte, fileSize)
	copy(out[dataOff:], data)
	le := binary.LittleEndian

	// header_item
	copy(out[0:8], []byte("dex\n"+b.Version+"\x00"))
	le.PutUint32(out[HeaderFileSizeOff:], fileSize)
	le.PutUint32(out[0x24:], 0x70)
	le.PutUint32(out[HeaderEndianTagOff:], 0x12345678)
	put := func(at int, count int, off uint32) {
		le.PutUint32(out[at:], uint32(count))
		le.PutUint32(out[at+4:], off)
	}
	put(HeaderStringIDsSizeOff, len(b.strings), img.StringIDsOff)
	put(HeaderTypeIDsSizeOff, len(b.types), img.TypeIDsOff)
	put(0x48, len(b.protos), img.ProtoIDsOff)
	put(0x50, len(b.fields), img.FieldIDsOff)
	put(HeaderMethodIDsSizeOff, len(b.methods), img.MethodIDsOff)
	put(HeaderClassDefsSizeOff, len(b.classes), img.ClassDefsOff)
	put(0x68, len(data), dataOff)

	for i := range b.strings {
		le.PutUint32(out[img.StringIDsOff+uint32(4*i):], img.StringDataOff[i])
	}
	for i, s := range b.types {
		le.PutUint32(out[img.TypeIDsOff+uint32(4*i):], uint32(s))
	}
	for i, p := range b.protos {
		at := img.ProtoIDsOff + uint32(12*i)
		le.PutUint32(out[at:], uint32(p.shorty))
		le.PutUint32(out[at+4:], uint32(p.ret))
		le.PutUint32(out[at+8:], protoParamsOff[i])
	}
	for i, f := range b.fields {
		at := img.FieldIDsOff + uint32(8*i)
		le.PutUint16(out[at:], uint16(f.class))
		le.PutUint16(out[at+2:], uint16(f.ref))
		le.PutUint32(out[at+4:], uint32(f.name))
	}
	for i, m := range b.methods {
		at := img.MethodIDsOff + uint32(8*i)
		le.PutUint16(out[at:], uint16(m.class))
		le.PutUint16(out[at+2:], uint16(m.ref))
		le.PutUint32(out[at+4:], uint32(m.name))
	}
	for i, cb := range b.classes {
		at := img.ClassDefsOff + uint32(32*i)
		super := uint32(noIndex)
		if cb.super >= 0 {
			super = uint32(cb.super)
		}
		source := uint32(noIndex)
		if cb.sourceFile >= 0 {
			source = uint32(cb.sourceFile)
		}
		for j, v := range []uint32{
			uint32(cb.typeIdx), 0x1, super, interfacesOff[i],
			source, annotationsOff[i], img.ClassDataOff[i], staticValuesOff[i],
		} {
			le.PutUint32(out[at+uint32(4*j):], v)
		}
	}

	sum := sha1.Sum(out[32:])
	copy(out[12:32], sum[:])
	le.PutUint32(out[8:], adler32.Checksum(out[12:]))

	img.Data = out
	return img
}

func sortFields(list []encodedField) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].idx < list[j].idx })
}

func sortMethods(list []encodedMethod) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].idx < list[j].idx })
}

type dataWriter struct {
	buf  bytes.Buffer
	base uint32
}

func (d *dataWriter) offset() uint32 { return d.base + uint32(d.buf.Len()) }

func (d *dataWriter) align(n int) {
	for d.offset()%uint32(n) != 0 {
		d.buf.WriteByte(0)
	}
}

func (d *dataWriter) u16(v uint16) {
	_ = binary.Write(&d.buf, binary.LittleEndian, v)
}

func (d *dataWriter) u32(v uint32) {
	_ = binary.Write(&d.buf, binary.LittleEndian, v)
}

func (d *dataWriter) uleb(v uint32) {
	d.buf.Write(binary.AppendUvarint(nil, uint64(v)))
}

func (d *dataWriter) sleb(v int32) {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			d.buf.WriteByte(b)
			return
		}
		d.buf.WriteByte(b | 0x80)
	}
}

// indexValue writes an encoded_value with the minimal little-endian width.
func (d *dataWriter) indexValue(typ byte, v uint32) {
	size := 1
	for size < 4 && v>>(8*size) != 0 {
		size++
	}
	d.buf.WriteByte(byte(size-1)<<5 | typ)
	for i := 0; i < size; i++ {
		d.buf.WriteByte(byte(v >> (8 * i)))
	}
}

// encodeMUTF8 encodes s as MUTF-8 and returns its UTF-16 length.
func encodeMUTF8(s string) ([]byte, int) {
	var out []byte
	units := utf16.Encode([]rune(s))
	for _, u := range units {
		switch {
		case u != 0 && u < 0x80:
			out = append(out, byte(u))
		case u < 0x800:
			out = append(out, byte(0xc0|u>>6), byte(0x80|u&0x3f))
		default:
			out = append(out, byte(0xe0|u>>12), byte(0x80|(u>>6)&0x3f), byte(0x80|u&0x3f))
		}
	}
	return out, len(units)
}
