package ir

// GEPStep describes how one index in a getelementptr index sequence
// advances the running pointer, mirroring lr_gep_analyze_step in
// original_source/src/ir.c. ISel backends call AnalyzeGEPStep once per
// index while walking a gep instruction's operand list (spec.md §4.5).
type GEPStep struct {
	IsConst         bool
	ConstByteOffset int64
	RuntimeElemSize uint64
	SignextBytes    uint8 // width of idx's value if it must be widened to 64 bits
	NextType        *Type
}

// GEPIndexSignextBytes returns the number of bytes a runtime GEP index
// operand's value occupies if narrower than 64 bits, or 0 if the index
// is already 64-bit (or not typed). Immediates and undef never need
// this — they are canonicalized to i64 at parse time (spec.md §4.2).
func GEPIndexSignextBytes(idx Operand) uint8 {
	if idx.Type == nil {
		return 0
	}
	switch idx.Type.Kind {
	case KindI1, KindI8:
		return 1
	case KindI16:
		return 2
	case KindI32:
		return 4
	default:
		return 0
	}
}

// AnalyzeGEPStep computes how a single GEP index advances a pointer of
// type curTy (spec.md §4.5: "the first index strides by pointee size,
// subsequent indices descend into structs ... or arrays").
func AnalyzeGEPStep(curTy *Type, firstIndex bool, idx Operand) (GEPStep, bool) {
	if curTy == nil {
		return GEPStep{}, false
	}
	var out GEPStep
	out.NextType = curTy

	if firstIndex {
		elemSize := curTy.Size()
		if idx.Kind == ValImmI64 {
			out.IsConst = true
			out.ConstByteOffset = idx.ImmI64 * int64(elemSize)
		} else {
			out.RuntimeElemSize = elemSize
			out.SignextBytes = GEPIndexSignextBytes(idx)
		}
		return out, true
	}

	switch curTy.Kind {
	case KindStruct:
		var field uint32
		if idx.Kind == ValImmI64 {
			field = uint32(idx.ImmI64)
		} else {
			field = uint32(idx.VReg)
		}
		out.IsConst = true
		out.ConstByteOffset = int64(curTy.FieldOffset(field))
		if int(field) < len(curTy.Fields) {
			out.NextType = curTy.Fields[field]
		}
		return out, true
	case KindArray:
		elemSize := curTy.Elem.Size()
		out.NextType = curTy.Elem
		if idx.Kind == ValImmI64 {
			out.IsConst = true
			out.ConstByteOffset = idx.ImmI64 * int64(elemSize)
		} else {
			out.RuntimeElemSize = elemSize
			out.SignextBytes = GEPIndexSignextBytes(idx)
		}
		return out, true
	default:
		return GEPStep{}, false
	}
}

// AggregateIndexPath walks a constant index list (extractvalue /
// insertvalue) and returns the byte offset and leaf type it selects
// within base, or ok=false if the path is invalid.
func AggregateIndexPath(base *Type, indices []uint32) (offset uint64, leaf *Type, ok bool) {
	cur := base
	for _, idx := range indices {
		switch cur.Kind {
		case KindStruct:
			if int(idx) >= len(cur.Fields) {
				return 0, nil, false
			}
			offset += cur.FieldOffset(idx)
			cur = cur.Fields[idx]
		case KindArray:
			offset += uint64(idx) * cur.Elem.Size()
			cur = cur.Elem
		default:
			return 0, nil, false
		}
	}
	return offset, cur, true
}

// CanonicalizeGEPIndex applies the parse-time GEP index canonicalization
// rule (spec.md §4.2): any non-immediate, non-undef integer index
// narrower than 64 bits is widened to i64 via a sext appended to b;
// immediate and undef indices are simply retyped to i64. This is
// re-applied by the session facade's emit helpers (spec.md §4.11) so
// it holds regardless of whether a GEP was built by the parser or by
// direct session calls.
func CanonicalizeGEPIndex(m *Module, b *Block, f *Function, idx Operand) Operand {
	if idx.Kind == ValImmI64 || idx.Kind == ValUndef {
		idx.Type = m.TypeI64
		return idx
	}
	if idx.Type == nil || idx.Type.Kind == KindI64 {
		return idx
	}
	if idx.Kind != ValVReg || b == nil || f == nil {
		return idx
	}
	switch idx.Type.Kind {
	case KindI1, KindI8, KindI16, KindI32:
		dest := f.NewVReg()
		cast := &Inst{Op: OpSExt, Type: m.TypeI64, Dest: dest, Ops: []Operand{idx}}
		b.Append(cast)
		f.MarkDirty()
		return OpVReg(dest, m.TypeI64)
	default:
		return idx
	}
}
