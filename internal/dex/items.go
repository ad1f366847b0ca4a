package dex

// Debug info opcodes.
const (
	dbgEndSequence        = 0x00
	dbgAdvancePC          = 0x01
	dbgAdvanceLine        = 0x02
	dbgStartLocal         = 0x03
	dbgStartLocalExtended = 0x04
	dbgEndLocal           = 0x05
	dbgRestartLocal       = 0x06
	dbgSetPrologueEnd     = 0x07
	dbgSetEpilogueBegin   = 0x08
	dbgSetFile            = 0x09
)

// codeItem parses the code_item at off and the debug_info_item it points
// to, returning their arena indices. Items shared between methods are
// parsed once.
func (p *parser) codeItem(off uint32) (int, int) {
	if idx, ok := p.code[off]; ok {
		return idx, p.codeDebug[off]
	}

	c := newCursor(p.data, off, "code_item")
	c.skip(6) // registers_size, ins_size, outs_size
	tries := c.u16()
	debugOff := c.u32()
	insns := c.u32()
	c.skip(int(insns) * 2)

	item := CodeItem{InsnsUnits: insns, Tries: tries}
	if tries > 0 {
		if insns%2 == 1 {
			c.skip(2)
		}
		c.skip(int(tries) * 8)
		handlers := c.uleb()
		for i := uint32(0); i < handlers && c.err == nil; i++ {
			size := c.sleb()
			pairs := size
			if pairs < 0 {
				pairs = -pairs
			}
			for j := int32(0); j < pairs && c.err == nil; j++ {
				item.Refs.Types = append(item.Refs.Types, c.uleb())
				c.uleb() // addr
			}
			if size <= 0 {
				c.uleb() // catch_all_addr
			}
		}
	}
	if c.err != nil {
		p.setErr(c.err)
		return -1, -1
	}
	item.Span = Span{Offset: off, Size: uint32(c.pos) - off}
	p.checkRefs("catch handler", &item.Refs)

	p.m.Code = append(p.m.Code, item)
	idx := len(p.m.Code) - 1
	p.code[off] = idx

	debug := -1
	if debugOff != 0 {
		debug = p.debugInfo(debugOff)
	}
	p.codeDebug[off] = debug
	return idx, debug
}

// debugInfo walks a debug_info_item state machine program to its end.
func (p *parser) debugInfo(off uint32) int {
	if idx, ok := p.debug[off]; ok {
		return idx
	}

	c := newCursor(p.data, off, "debug_info_item")
	var refs Refs
	addString := func(v int64) {
		if v >= 0 {
			refs.Strings = append(refs.Strings, uint32(v))
		}
	}
	addType := func(v int64) {
		if v >= 0 {
			refs.Types = append(refs.Types, uint32(v))
		}
	}

	c.uleb() // line_start
	params := c.uleb()
	for i := uint32(0); i < params && c.err == nil; i++ {
		addString(c.ulebp1())
	}

loop:
	for c.err == nil {
		switch op := c.u8(); op {
		case dbgEndSequence:
			break loop
		case dbgAdvancePC, dbgEndLocal, dbgRestartLocal:
			c.uleb()
		case dbgAdvanceLine:
			c.sleb()
		case dbgStartLocal, dbgStartLocalExtended:
			c.uleb() // register
			addString(c.ulebp1())
			addType(c.ulebp1())
			if op == dbgStartLocalExtended {
				addString(c.ulebp1())
			}
		case dbgSetFile:
			addString(c.ulebp1())
		case dbgSetPrologueEnd, dbgSetEpilogueBegin:
		default:
			// special opcodes carry no operands
		}
	}
	if c.err != nil {
		p.setErr(c.err)
		return -1
	}
	p.checkRefs("debug info", &refs)

	p.m.Debug = append(p.m.Debug, DebugInfo{Span: Span{Offset: off, Size: uint32(c.pos) - off}, Refs: refs})
	idx := len(p.m.Debug) - 1
	p.debug[off] = idx
	return idx
}

func (p *parser) annotationsDirectory(off uint32) *AnnotationsDirectory {
	c := newCursor(p.data, off, "annotations_directory_item")
	classOff := c.u32()
	fields, methods, params := c.u32(), c.u32(), c.u32()
	if !c.need(int(uint64(fields)+uint64(methods)+uint64(params)) * 8) {
		p.setErr(c.err)
		return nil
	}

	dir := &AnnotationsDirectory{ClassSet: p.annotationSet(classOff)}
	for i := uint32(0); i < fields && p.err == nil; i++ {
		idx, setOff := c.u32(), c.u32()
		if p.index("annotated field", idx, len(p.m.Fields)) {
			dir.Fields = append(dir.Fields, MemberAnnotation{Idx: idx, Set: p.annotationSet(setOff)})
		}
	}
	for i := uint32(0); i < methods && p.err == nil; i++ {
		idx, setOff := c.u32(), c.u32()
		if p.index("annotated method", idx, len(p.m.Methods)) {
			dir.Methods = append(dir.Methods, MemberAnnotation{Idx: idx, Set: p.annotationSet(setOff)})
		}
	}
	for i := uint32(0); i < params && p.err == nil; i++ {
		idx, listOff := c.u32(), c.u32()
		if p.index("annotated parameter method", idx, len(p.m.Methods)) {
			dir.Parameters = append(dir.Parameters, ParameterAnnotation{MethodIdx: idx, RefList: p.annotationRefList(listOff)})
		}
	}
	p.setErr(c.err)
	dir.Span = Span{Offset: off, Size: uint32(c.pos) - off}
	return dir
}

func (p *parser) annotationSet(off uint32) int {
	if off == 0 {
		return -1
	}
	if idx, ok := p.sets[off]; ok {
		return idx
	}

	c := newCursor(p.data, off, "annotation_set_item")
	n := c.u32()
	if !c.need(int(n) * 4) {
		p.setErr(c.err)
		return -1
	}
	set := AnnotationSet{Items: make([]int, 0, n)}
	for i := uint32(0); i < n && p.err == nil; i++ {
		set.Items = append(set.Items, p.annotationItem(c.u32()))
	}
	set.Span = Span{Offset: off, Size: uint32(c.pos) - off}

	p.m.AnnotationSets = append(p.m.AnnotationSets, set)
	idx := len(p.m.AnnotationSets) - 1
	p.sets[off] = idx
	return idx
}

func (p *parser) annotationRefList(off uint32) int {
	if off == 0 {
		return -1
	}
	if idx, ok := p.refLists[off]; ok {
		return idx
	}

	c := newCursor(p.data, off, "annotation_set_ref_list")
	n := c.u32()
	if !c.need(int(n) * 4) {
		p.setErr(c.err)
		return -1
	}
	list := AnnotationSetRefList{Sets: make([]int, 0, n)}
	for i := uint32(0); i < n && p.err == nil; i++ {
		list.Sets = append(list.Sets, p.annotationSet(c.u32()))
	}
	list.Span = Span{Offset: off, Size: uint32(c.pos) - off}

	p.m.AnnotationLists = append(p.m.AnnotationLists, list)
	idx := len(p.m.AnnotationLists) - 1
	p.refLists[off] = idx
	return idx
}

func (p *parser) annotationItem(off uint32) int {
	if idx, ok := p.items[off]; ok {
		return idx
	}

	c := newCursor(p.data, off, "annotation_item")
	item := AnnotationItem{Visibility: c.u8()}
	c.encodedAnnotation(&item.Refs, 0)
	if c.err != nil {
		p.setErr(c.err)
		return -1
	}
	item.Span = Span{Offset: off, Size: uint32(c.pos) - off}
	p.checkRefs("annotation", &item.Refs)

	p.m.AnnotationItems = append(p.m.AnnotationItems, item)
	idx := len(p.m.AnnotationItems) - 1
	p.items[off] = idx
	return idx
}
