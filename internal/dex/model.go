package dex

import (
	"fmt"
	"strings"
)

// NoIndex marks an absent optional index (superclass, source file).
const NoIndex = 0xffffffff

// Blob is one DEX payload extracted from a container.
type Blob struct {
	Path string
	Data []byte
	// Err is set when the entry could not be read; Data is then nil.
	Err error
}

// Span is a byte range within a blob.
type Span struct {
	Offset uint32
	Size   uint32
}

// Empty reports whether the span covers no bytes.
func (s Span) Empty() bool { return s.Size == 0 }

// End returns the first offset past the span.
func (s Span) End() uint64 { return uint64(s.Offset) + uint64(s.Size) }

// Refs lists id-table indices reached from a data item.
type Refs struct {
	Strings []uint32
	Types   []uint32
	Fields  []uint32
	Methods []uint32
	Protos  []uint32
}

// StringEntry is one string_id_item plus its string_data_item.
type StringEntry struct {
	ID         Span
	Data       Span
	Value      string
	Unreadable bool
}

// TypeEntry is one type_id_item.
type TypeEntry struct {
	ID            Span
	DescriptorIdx uint32
	// Name is the decoded Java name, e.g. "java.lang.String".
	Name string
}

// ProtoEntry is one proto_id_item.
type ProtoEntry struct {
	ID            Span
	ShortyIdx     uint32
	ReturnTypeIdx uint32
	// Params indexes Model.TypeLists, -1 when there are no parameters.
	Params int
}

// FieldID is one field_id_item.
type FieldID struct {
	ID       Span
	ClassIdx uint16
	TypeIdx  uint16
	NameIdx  uint32
}

// MethodID is one method_id_item.
type MethodID struct {
	ID       Span
	ClassIdx uint16
	ProtoIdx uint16
	NameIdx  uint32
}

// TypeList is a type_list referenced by protos and interface lists.
type TypeList struct {
	Span
	Types []uint32
}

// AnnotationItem is one annotation_item.
type AnnotationItem struct {
	Span
	Visibility uint8
	Refs       Refs
}

// AnnotationSet is one annotation_set_item; Items index Model.AnnotationItems.
type AnnotationSet struct {
	Span
	Items []int
}

// AnnotationSetRefList is one annotation_set_ref_list; -1 entries are empty.
type AnnotationSetRefList struct {
	Span
	Sets []int
}

// MemberAnnotation ties a field or method index to an annotation set.
type MemberAnnotation struct {
	Idx uint32
	Set int
}

// ParameterAnnotation ties a method index to an annotation_set_ref_list.
type ParameterAnnotation struct {
	MethodIdx uint32
	RefList   int
}

// AnnotationsDirectory is one annotations_directory_item.
type AnnotationsDirectory struct {
	Span
	// ClassSet indexes Model.AnnotationSets, -1 when absent.
	ClassSet   int
	Fields     []MemberAnnotation
	Methods    []MemberAnnotation
	Parameters []ParameterAnnotation
}

// DebugInfo is one debug_info_item.
type DebugInfo struct {
	Span
	Refs Refs
}

// CodeItem is one code_item including tries and handlers.
type CodeItem struct {
	Span
	InsnsUnits uint32
	Tries      uint16
	// Refs holds the catch types of the handler list.
	Refs Refs
}

// FieldDef is an encoded_field of a class.
type FieldDef struct {
	FieldIdx    uint32
	AccessFlags uint32
	Static      bool
	// Class is the owning class index in Model.Classes.
	Class int
}

// MethodDef is an encoded_method of a class.
type MethodDef struct {
	MethodIdx   uint32
	AccessFlags uint32
	Direct      bool
	// Class is the owning class index in Model.Classes.
	Class int
	// Code indexes Model.Code, -1 for abstract and native methods.
	Code int
	// Debug indexes Model.Debug, -1 when there is no debug info.
	Debug int
}

// Range is a half-open index range into an arena.
type Range struct {
	Start, End int
}

// Len returns the number of indices in the range.
func (r Range) Len() int { return r.End - r.Start }

// ClassDef is one class_def_item and what it owns.
type ClassDef struct {
	ID            Span
	ClassIdx      uint32
	AccessFlags   uint32
	SuperclassIdx uint32
	// Interfaces indexes Model.TypeLists, -1 when absent.
	Interfaces    int
	SourceFileIdx uint32
	// Annotations is nil when the class has no annotations directory.
	Annotations *AnnotationsDirectory
	ClassData   Span
	// StaticValues covers the encoded_array_item, empty when absent.
	StaticValues     Span
	StaticValuesRefs Refs

	// Fields and Methods index Model.FieldDefs and Model.MethodDefs.
	Fields  Range
	Methods Range
}

// Model is the parsed structure of one blob. Every cross-reference is an
// index into one of its arenas and was range-checked by Parse.
type Model struct {
	Path     string
	Version  string
	Size     int
	FileSize uint32
	Header   Span

	Strings []StringEntry
	Types   []TypeEntry
	Protos  []ProtoEntry
	Fields  []FieldID
	Methods []MethodID
	Classes []ClassDef

	FieldDefs  []FieldDef
	MethodDefs []MethodDef

	TypeLists       []TypeList
	AnnotationSets  []AnnotationSet
	AnnotationLists []AnnotationSetRefList
	AnnotationItems []AnnotationItem
	Code            []CodeItem
	Debug           []DebugInfo
}

// TypeName returns the decoded name of a type index.
func (m *Model) TypeName(idx uint32) string {
	return m.Types[idx].Name
}

// TypeUnreadable reports whether a type's descriptor failed to decode.
func (m *Model) TypeUnreadable(idx uint32) bool {
	return m.Strings[m.Types[idx].DescriptorIdx].Unreadable
}

// ClassName returns the Java name of class c.
func (m *Model) ClassName(c int) string {
	return m.TypeName(m.Classes[c].ClassIdx)
}

// MethodSignature renders a method id as "void bar(int,java.lang.String)".
func (m *Model) MethodSignature(methodIdx uint32) string {
	mid := m.Methods[methodIdx]
	proto := m.Protos[mid.ProtoIdx]

	var params []string
	if proto.Params >= 0 {
		for _, t := range m.TypeLists[proto.Params].Types {
			params = append(params, m.TypeName(t))
		}
	}
	return fmt.Sprintf("%s %s(%s)", m.TypeName(proto.ReturnTypeIdx), m.Strings[mid.NameIdx].Value, strings.Join(params, ","))
}

// ReferencedMethods counts method ids per declaring type index.
func (m *Model) ReferencedMethods() map[uint32]int {
	counts := make(map[uint32]int)
	for _, mid := range m.Methods {
		counts[uint32(mid.ClassIdx)]++
	}
	return counts
}
