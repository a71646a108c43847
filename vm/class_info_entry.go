package vm

import "fmt"

// ClassInfoEntry is the packed per-class summary stored in the class info
// cache. It fits in one 32-bit word so a slot is read or written in a
// single atomic access.
//
//	bits 0-2  kind
//	bit  3    instance layout info carried inline
//	bit  4    boot-loaded
//
// All other bits of a valid entry are zero, which keeps every valid
// encoding disjoint from InvalidClassInfoEntry.
type ClassInfoEntry uint32

const (
	entryKindBits            = 3
	entryKindMask     uint32 = 1<<entryKindBits - 1
	entryCarriesInfo  uint32 = 1 << 3
	entryBootLoaded   uint32 = 1 << 4
	entryUsedBitsMask uint32 = entryKindMask | entryCarriesInfo | entryBootLoaded
)

// InvalidClassInfoEntry marks an unregistered slot.
const InvalidClassInfoEntry ClassInfoEntry = 0xFFFFFFFF

// The kind field must hold every kind.
var _ [1<<entryKindBits - NumClassKinds]struct{}

// NewClassInfoEntry packs a summary. carriesInfo is only kept for instance
// kinds.
func NewClassInfoEntry(kind ClassKind, carriesInfo, bootLoaded bool) ClassInfoEntry {
	assertf(kind.IsValid(), "NewClassInfoEntry: invalid class kind %d", kind)
	v := uint32(kind) & entryKindMask
	if carriesInfo && kind.IsInstance() {
		v |= entryCarriesInfo
	}
	if bootLoaded {
		v |= entryBootLoaded
	}
	return ClassInfoEntry(v)
}

// ClassInfoEntryFor summarizes k.
func ClassInfoEntryFor(k ClassMetadata) ClassInfoEntry {
	return NewClassInfoEntry(k.Kind(), k.HasExtendedLayoutInfo(), k.BootLoaded())
}

// IsValid reports whether e is a registered summary.
func (e ClassInfoEntry) IsValid() bool {
	return e != InvalidClassInfoEntry
}

// isWellFormed reports whether e only uses the summary bits and names a
// known kind.
func (e ClassInfoEntry) isWellFormed() bool {
	return uint32(e)&^entryUsedBitsMask == 0 && ClassKind(uint32(e)&entryKindMask).IsValid()
}

// Kind returns the class kind.
func (e ClassInfoEntry) Kind() ClassKind {
	assertf(e.IsValid(), "ClassInfoEntry.Kind: invalid entry")
	return ClassKind(uint32(e) & entryKindMask)
}

// IsInstance reports whether e describes an instance class.
func (e ClassInfoEntry) IsInstance() bool {
	return e.Kind().IsInstance()
}

// IsArray reports whether e describes an array class.
func (e ClassInfoEntry) IsArray() bool {
	return e.Kind().IsArray()
}

// CarriesInfo reports whether instance layout info is carried inline. Always
// false for arrays.
func (e ClassInfoEntry) CarriesInfo() bool {
	assertf(e.IsValid(), "ClassInfoEntry.CarriesInfo: invalid entry")
	return uint32(e)&entryCarriesInfo != 0
}

// BootLoaded reports whether the class was defined by the bootstrap loader.
func (e ClassInfoEntry) BootLoaded() bool {
	assertf(e.IsValid(), "ClassInfoEntry.BootLoaded: invalid entry")
	return uint32(e)&entryBootLoaded != 0
}

// VerifyAgainst checks e against the authoritative metadata of k.
func (e ClassInfoEntry) VerifyAgainst(k ClassMetadata) error {
	if !e.IsValid() {
		return fmt.Errorf("entry for class at %#x is invalid", uint64(k.Address()))
	}
	if !e.isWellFormed() {
		return fmt.Errorf("entry %#x for class at %#x is malformed", uint32(e), uint64(k.Address()))
	}
	if e.Kind() != k.Kind() {
		return fmt.Errorf("entry kind %s, class kind %s", e.Kind(), k.Kind())
	}
	if e.BootLoaded() != k.BootLoaded() {
		return fmt.Errorf("entry boot-loaded %t, class boot-loaded %t", e.BootLoaded(), k.BootLoaded())
	}
	if want := k.Kind().IsInstance() && k.HasExtendedLayoutInfo(); e.CarriesInfo() != want {
		return fmt.Errorf("entry carries-info %t, want %t", e.CarriesInfo(), want)
	}
	return nil
}

func (e ClassInfoEntry) String() string {
	if !e.IsValid() {
		return "invalid"
	}
	return fmt.Sprintf("%s info=%t boot=%t", e.Kind().ShortName(), e.CarriesInfo(), e.BootLoaded())
}
