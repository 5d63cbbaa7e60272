package objhdr

// ObjectFlags is the per-object bitset from spec.md §3.2, plus the 4-bit
// special-type sub-field and the alignment-shift sub-field packed into the
// high bits, grounded on the teacher's bitfield package
// (iansmith-mazarin/src/bitfield) for the pack/unpack discipline, applied
// here by hand for hot-path speed rather than through reflection.
type ObjectFlags uint32

const (
	FlagReturnBuffer ObjectFlags = 1 << 0 // not GC-visible; assertions only
	FlagSpecial      ObjectFlags = 1 << 1
	FlagGlobal       ObjectFlags = 1 << 2
	FlagGlobalAux    ObjectFlags = 1 << 3
	FlagMMap         ObjectFlags = 1 << 4
	FlagReadonly     ObjectFlags = 1 << 5
	FlagSysVShm      ObjectFlags = 1 << 6
	flagPinned       ObjectFlags = 1 << 7

	specialTypeShift = 8
	specialTypeBits  = 4
	specialTypeMask  = ObjectFlags((1<<specialTypeBits)-1) << specialTypeShift

	alignShift = 12
	alignBits  = 6
	alignMask  = ObjectFlags((1<<alignBits)-1) << alignShift
)

// SpecialType enumerates the runtime-managed handle kinds from spec.md
// §3.2 ("special objects"), supplemented from original_source's
// FILC_WORD_TYPE_* constants (filc_runtime.h) per SPEC_FULL.md.
type SpecialType uint8

const (
	SpecialNone SpecialType = iota
	SpecialThread
	SpecialJmpBuf
	SpecialPtrTable
	SpecialDLHandle
	SpecialFunction
	SpecialSignalHandler
)

func (s SpecialType) String() string {
	switch s {
	case SpecialNone:
		return "none"
	case SpecialThread:
		return "thread"
	case SpecialJmpBuf:
		return "jmp_buf"
	case SpecialPtrTable:
		return "ptr_table"
	case SpecialDLHandle:
		return "dl_handle"
	case SpecialFunction:
		return "function"
	case SpecialSignalHandler:
		return "signal_handler"
	default:
		return "unknown_special"
	}
}

// WithSpecialType returns a copy of f with its special-type sub-field set.
func (f ObjectFlags) WithSpecialType(t SpecialType) ObjectFlags {
	return (f &^ specialTypeMask) | (ObjectFlags(t)<<specialTypeShift)&specialTypeMask
}

// SpecialType extracts the special-type sub-field.
func (f ObjectFlags) SpecialType() SpecialType {
	return SpecialType((f & specialTypeMask) >> specialTypeShift)
}

// WithAlignmentShift returns a copy of f with its alignment sub-field set to
// log2(alignment). Alignment <= WordSize is implicit and needs no bits.
func (f ObjectFlags) WithAlignmentShift(shift uint) ObjectFlags {
	return (f &^ alignMask) | (ObjectFlags(shift)<<alignShift)&alignMask
}

// AlignmentShift extracts the alignment sub-field.
func (f ObjectFlags) AlignmentShift() uint {
	return uint((f & alignMask) >> alignShift)
}

func (f ObjectFlags) Has(bit ObjectFlags) bool { return f&bit != 0 }
