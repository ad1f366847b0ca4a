// Package attribution turns a parsed DEX model into per-class and
// per-method byte counts.
//
// Every class is walked in class_defs order: its class_def entry, the type
// ids and strings naming it and its supertypes, its annotations, class data
// and static values, then each field and method it defines. Each data item
// reached is credited to the current owner through a Ledger, so how shared
// entries are split is decided by the SharePolicy alone.
package attribution

import (
	"github.com/dex-analysis/internal/dex"
)

// MethodRecord is the size attributed to one defined method.
type MethodRecord struct {
	// Name is the method signature, e.g. "int run(int)".
	Name string
	Size uint64
}

// SizeRecord is the size attributed to one class of a blob.
type SizeRecord struct {
	Class      string
	ClassIndex int
	// Size is the class total, OwnSize plus every method's size.
	Size    uint64
	OwnSize uint64
	// Methods is only filled at method granularity.
	Methods           []MethodRecord
	UnreadableName    bool
	DefinedMethods    int
	ReferencedMethods int
}

// Options configures an Attributor.
type Options struct {
	Granularity         Granularity
	Policy              SharePolicy
	MethodSharedEntries MethodSharedMode
}

// Attributor computes SizeRecords for parsed models. It holds no per-blob
// state and may be shared between goroutines.
type Attributor struct {
	opts Options
}

// NewAttributor returns an attributor; zero options fall back to class
// granularity, FirstOwner and first-owner method sharing.
func NewAttributor(opts Options) *Attributor {
	if opts.Granularity == "" {
		opts.Granularity = GranularityClass
	}
	if opts.Policy == nil {
		opts.Policy = FirstOwner{}
	}
	if opts.MethodSharedEntries == "" {
		opts.MethodSharedEntries = MethodSharedFirstOwner
	}
	return &Attributor{opts: opts}
}

// Granularity returns the configured granularity.
func (a *Attributor) Granularity() Granularity { return a.opts.Granularity }

// BlobAttribution is the outcome of attributing one blob.
type BlobAttribution struct {
	// Records holds one record per class, in class_defs order.
	Records []SizeRecord
	// Claimed is the number of distinct blob bytes given to any owner.
	Claimed uint64
}

// Attribute walks m once and returns its class records together with the
// number of bytes claimed.
func (a *Attributor) Attribute(m *dex.Model) BlobAttribution {
	w := &walker{
		m:      m,
		ledger: a.opts.Policy.NewLedger(m.Size),
		opts:   a.opts,
	}
	refs := m.ReferencedMethods()

	records := make([]SizeRecord, len(m.Classes))
	for c := range m.Classes {
		w.class(c)
		records[c] = w.record(c, refs)
	}
	return BlobAttribution{Records: records, Claimed: w.ledger.Claimed()}
}

type walker struct {
	m      *dex.Model
	ledger Ledger
	opts   Options
}

func (w *walker) credit(o Owner, s dex.Span, shared bool) {
	w.ledger.Credit(o, s, shared)
}

func (w *walker) class(c int) {
	m := w.m
	cd := &m.Classes[c]
	owner := ClassOwner(c)

	w.credit(owner, cd.ID, false)
	w.typeRef(owner, cd.ClassIdx)
	if cd.SuperclassIdx != dex.NoIndex {
		w.typeRef(owner, cd.SuperclassIdx)
	}
	if cd.Interfaces >= 0 {
		w.typeList(owner, cd.Interfaces)
	}
	if cd.SourceFileIdx != dex.NoIndex {
		w.stringRef(owner, cd.SourceFileIdx)
	}
	if cd.Annotations != nil {
		w.annotations(c, cd.Annotations)
	}
	w.credit(owner, cd.ClassData, false)
	w.credit(owner, cd.StaticValues, false)
	w.refs(owner, &cd.StaticValuesRefs)

	for i := cd.Fields.Start; i < cd.Fields.End; i++ {
		w.fieldRef(owner, m.FieldDefs[i].FieldIdx)
	}
	for i := cd.Methods.Start; i < cd.Methods.End; i++ {
		w.method(c, i)
	}
}

// owners returns who gets a method's own data and who gets the shared
// entries it reaches.
func (w *walker) owners(c, methodDef int) (own, shared Owner) {
	if w.opts.Granularity != GranularityMethod {
		return ClassOwner(c), ClassOwner(c)
	}
	own = Owner{Class: c, Method: methodDef}
	if w.opts.MethodSharedEntries == MethodSharedClass {
		return own, ClassOwner(c)
	}
	return own, own
}

func (w *walker) method(c, i int) {
	m := w.m
	def := &m.MethodDefs[i]
	own, shared := w.owners(c, i)

	w.methodRef(shared, def.MethodIdx)
	if def.Code >= 0 {
		code := &m.Code[def.Code]
		w.credit(own, code.Span, false)
		w.refs(shared, &code.Refs)
	}
	if def.Debug >= 0 {
		debug := &m.Debug[def.Debug]
		w.credit(own, debug.Span, false)
		w.refs(shared, &debug.Refs)
	}
}

// memberOwner finds the owner of an annotated method of class c.
func (w *walker) memberOwner(c int, methodIdx uint32) Owner {
	cd := &w.m.Classes[c]
	for i := cd.Methods.Start; i < cd.Methods.End; i++ {
		if w.m.MethodDefs[i].MethodIdx == methodIdx {
			own, _ := w.owners(c, i)
			return own
		}
	}
	return ClassOwner(c)
}

func (w *walker) annotations(c int, dir *dex.AnnotationsDirectory) {
	owner := ClassOwner(c)
	w.credit(owner, dir.Span, false)
	if dir.ClassSet >= 0 {
		w.annotationSet(owner, dir.ClassSet)
	}
	for _, f := range dir.Fields {
		if f.Set >= 0 {
			w.annotationSet(owner, f.Set)
		}
	}
	for _, ma := range dir.Methods {
		if ma.Set >= 0 {
			w.annotationSet(w.memberOwner(c, ma.Idx), ma.Set)
		}
	}
	for _, pa := range dir.Parameters {
		if pa.RefList < 0 {
			continue
		}
		o := w.memberOwner(c, pa.MethodIdx)
		list := &w.m.AnnotationLists[pa.RefList]
		w.credit(o, list.Span, true)
		for _, s := range list.Sets {
			if s >= 0 {
				w.annotationSet(o, s)
			}
		}
	}
}

func (w *walker) annotationSet(o Owner, idx int) {
	set := &w.m.AnnotationSets[idx]
	w.credit(o, set.Span, true)
	for _, it := range set.Items {
		item := &w.m.AnnotationItems[it]
		w.credit(o, item.Span, true)
		w.refs(o, &item.Refs)
	}
}

func (w *walker) refs(o Owner, r *dex.Refs) {
	for _, s := range r.Strings {
		w.stringRef(o, s)
	}
	for _, t := range r.Types {
		w.typeRef(o, t)
	}
	for _, f := range r.Fields {
		w.fieldRef(o, f)
	}
	for _, mi := range r.Methods {
		w.methodRef(o, mi)
	}
	for _, p := range r.Protos {
		w.protoRef(o, p)
	}
}

func (w *walker) stringRef(o Owner, idx uint32) {
	s := &w.m.Strings[idx]
	w.credit(o, s.ID, true)
	w.credit(o, s.Data, true)
}

func (w *walker) typeRef(o Owner, idx uint32) {
	t := &w.m.Types[idx]
	w.credit(o, t.ID, true)
	w.stringRef(o, t.DescriptorIdx)
}

func (w *walker) typeList(o Owner, idx int) {
	tl := &w.m.TypeLists[idx]
	w.credit(o, tl.Span, true)
	for _, t := range tl.Types {
		w.typeRef(o, t)
	}
}

func (w *walker) protoRef(o Owner, idx uint32) {
	p := &w.m.Protos[idx]
	w.credit(o, p.ID, true)
	w.stringRef(o, p.ShortyIdx)
	w.typeRef(o, p.ReturnTypeIdx)
	if p.Params >= 0 {
		w.typeList(o, p.Params)
	}
}

func (w *walker) fieldRef(o Owner, idx uint32) {
	f := &w.m.Fields[idx]
	w.credit(o, f.ID, true)
	w.stringRef(o, f.NameIdx)
	w.typeRef(o, uint32(f.TypeIdx))
}

func (w *walker) methodRef(o Owner, idx uint32) {
	mid := &w.m.Methods[idx]
	w.credit(o, mid.ID, true)
	w.stringRef(o, mid.NameIdx)
	w.protoRef(o, uint32(mid.ProtoIdx))
}

func (w *walker) record(c int, refs map[uint32]int) SizeRecord {
	m := w.m
	cd := &m.Classes[c]
	rec := SizeRecord{
		Class:             m.ClassName(c),
		ClassIndex:        c,
		OwnSize:           w.ledger.Total(ClassOwner(c)),
		UnreadableName:    m.TypeUnreadable(cd.ClassIdx),
		DefinedMethods:    cd.Methods.Len(),
		ReferencedMethods: refs[cd.ClassIdx],
	}
	rec.Size = rec.OwnSize
	if w.opts.Granularity == GranularityMethod {
		rec.Methods = make([]MethodRecord, 0, cd.Methods.Len())
		for i := cd.Methods.Start; i < cd.Methods.End; i++ {
			size := w.ledger.Total(Owner{Class: c, Method: i})
			rec.Methods = append(rec.Methods, MethodRecord{
				Name: m.MethodSignature(m.MethodDefs[i].MethodIdx),
				Size: size,
			})
			rec.Size += size
		}
	}
	return rec
}
