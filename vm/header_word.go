package vm

import "fmt"

// HeaderWord is the first word of every heap object.
//
// A HeaderWord is an immutable value: every transformer returns a new word
// and leaves the receiver untouched, so transformers can be used inside a
// load/compute/compare-and-swap loop. The word carries the HeaderFormat it
// was built with; mode-specific operations check it instead of reading a
// global flag.
type HeaderWord struct {
	value  uint64
	format HeaderFormat
}

// Value returns the raw 64-bit word.
func (w HeaderWord) Value() uint64 { return w.value }

// Value32 returns the low 32 bits of the word.
func (w HeaderWord) Value32() uint32 { return uint32(w.value) }

// Format returns the layout the word was built with.
func (w HeaderWord) Format() HeaderFormat { return w.format }

func (w HeaderWord) with(v uint64) HeaderWord {
	return HeaderWord{value: v, format: w.format}
}

// ---------------------------------------------------------------------------
// Lock state
// ---------------------------------------------------------------------------

// State classifies the word. The all-zero word is always LockInflating;
// marked and self-forwarded patterns take precedence over the lock bits.
func (w HeaderWord) State() LockState {
	if w.IsBeingInflated() {
		return LockInflating
	}
	if w.IsMarked() {
		return LockMarked
	}
	switch w.value & lockMaskInPlace {
	case lockedValue:
		return LockLocked
	case monitorValue:
		return LockMonitor
	default:
		return LockUnlocked
	}
}

// IsLocked returns true unless the lock bits hold the unlocked pattern.
func (w HeaderWord) IsLocked() bool {
	return w.value&lockMaskInPlace != unlockedValue
}

// IsUnlocked returns true if the lock bits hold the unlocked pattern.
func (w HeaderWord) IsUnlocked() bool {
	return w.value&lockMaskInPlace == unlockedValue
}

// IsNeutral returns true for the clean state: not locked and not marked.
func (w HeaderWord) IsNeutral() bool {
	return w.value&lockMaskInPlace == unlockedValue
}

// IsMarked returns true for the forwarded (011) and self-forwarded (1xx)
// patterns.
func (w HeaderWord) IsMarked() bool {
	return w.value&(selfFwdMaskInPlace|lockMaskInPlace) > monitorValue
}

// IsForwarded returns true for the forwarded (011) and self-forwarded (1xx)
// patterns.
func (w HeaderWord) IsForwarded() bool {
	return w.value&(selfFwdMaskInPlace|lockMaskInPlace) >= markedValue
}

// IsBeingInflated returns true only for the all-zero word.
func (w HeaderWord) IsBeingInflated() bool {
	return w.value == 0
}

// MustBePreserved reports whether a collector has to save this header
// before overwriting it with a forwarding pointer. Classic headers are also
// kept once an identity hash has been installed.
func (w HeaderWord) MustBePreserved() bool {
	if w.format.Compact {
		return !w.IsUnlocked()
	}
	return !w.IsUnlocked() || !w.HasNoHash()
}

// SetUnlocked replaces the lock bits with the unlocked pattern.
func (w HeaderWord) SetUnlocked() HeaderWord {
	return w.with(w.value&^lockMaskInPlace | unlockedValue)
}

// HasLocker reports whether the word points at a stack lock.
// Legacy stack locking only.
func (w HeaderWord) HasLocker() bool {
	assertf(w.format.Locking == LockingLegacy, "HasLocker: requires legacy stack locking, have %s", w.format.Locking)
	return w.value&lockMaskInPlace == lockedValue
}

// Locker returns the stack lock address held in a stack-locked word.
func (w HeaderWord) Locker() Address {
	assertf(w.HasLocker(), "Locker: header %#x is not stack-locked", w.value)
	return Address(w.value)
}

// IsFastLocked reports whether the word is lightweight-locked.
// Lightweight locking only.
func (w HeaderWord) IsFastLocked() bool {
	assertf(w.format.Locking.IsLightweight(), "IsFastLocked: requires lightweight locking, have %s", w.format.Locking)
	return w.value&lockMaskInPlace == lockedValue
}

// SetFastLocked clears the lock bits, leaving every other field in place.
func (w HeaderWord) SetFastLocked() HeaderWord {
	return w.with(w.value &^ lockMaskInPlace)
}

// HasMonitor reports whether the lock bits hold the monitor pattern.
func (w HeaderWord) HasMonitor() bool {
	return w.value&lockMaskInPlace == monitorValue
}

// Monitor returns the monitor address held in a monitor word. Not valid
// when monitors are kept in a side table.
func (w HeaderWord) Monitor() Address {
	assertf(w.HasMonitor(), "Monitor: header %#x has no monitor", w.value)
	assertf(!w.format.Locking.UsesMonitorTable(), "Monitor: monitors live in a table, not in the header")
	// xor rather than and-not: a wrong tag shows up as a misaligned address.
	return Address(w.value ^ monitorValue)
}

// SetHasMonitor replaces the lock bits with the monitor pattern.
func (w HeaderWord) SetHasMonitor() HeaderWord {
	return w.with(w.value&^lockMaskInPlace | monitorValue)
}

// HasDisplacedMarkHelper reports whether the original header has been moved
// out of the object (into a stack lock or a monitor).
func (w HeaderWord) HasDisplacedMarkHelper() bool {
	lockbits := w.value & lockMaskInPlace
	if w.format.Locking.IsLightweight() {
		return !w.format.Locking.UsesMonitorTable() && lockbits == monitorValue
	}
	// monitor (0b10) or stack-locked (0b00)
	return lockbits&unlockedValue == 0
}

// ---------------------------------------------------------------------------
// Marking and forwarding
// ---------------------------------------------------------------------------

// SetMarked replaces the lock bits with the marked pattern.
func (w HeaderWord) SetMarked() HeaderWord {
	return w.with(w.value&^lockMaskInPlace | markedValue)
}

// SetUnmarked replaces the lock bits with the unlocked pattern.
func (w HeaderWord) SetUnmarked() HeaderWord {
	return w.with(w.value&^lockMaskInPlace | unlockedValue)
}

// ClearLockBits clears the lock and self-forward bits.
func (w HeaderWord) ClearLockBits() HeaderWord {
	return w.with(w.value &^ (lockMaskInPlace | selfFwdMaskInPlace))
}

// DecodePointer recovers the address stored by EncodePointerAsMark.
func (w HeaderWord) DecodePointer() Address {
	return Address(w.ClearLockBits().value)
}

// Forwardee returns the forwarding address of a forwarded word.
func (w HeaderWord) Forwardee() Address {
	return w.DecodePointer()
}

// IsSelfForwarded matches 100, 101 and 110 but not 111, which is the
// forward-expanded marker.
func (w HeaderWord) IsSelfForwarded() bool {
	return (w.value+1)&(lockMaskInPlace|selfFwdMaskInPlace) > 4
}

// SetSelfForwarded sets the self-forward bit.
func (w HeaderWord) SetSelfForwarded() HeaderWord {
	return w.with(w.value | selfFwdMaskInPlace)
}

// UnsetSelfForwarded clears the self-forward bit.
func (w HeaderWord) UnsetSelfForwarded() HeaderWord {
	return w.with(w.value &^ selfFwdMaskInPlace)
}

// SetForwardExpanded flags a forwarded word whose forwarding slot also
// carries a relocated identity hash. The word must be plainly forwarded.
func (w HeaderWord) SetForwardExpanded() HeaderWord {
	assertf(w.value&(lockMaskInPlace|selfFwdMaskInPlace) == markedValue,
		"SetForwardExpanded: header %#x must be normal-forwarded", w.value)
	return w.with(w.value | forwardExpandedValue)
}

// IsForwardExpanded reports whether the forward-expanded marker is set.
func (w HeaderWord) IsForwardExpanded() bool {
	return w.value&(lockMaskInPlace|selfFwdMaskInPlace) == forwardExpandedValue
}

// ---------------------------------------------------------------------------
// Age
// ---------------------------------------------------------------------------

// Age returns the tenuring age.
func (w HeaderWord) Age() uint {
	return uint((w.value >> ageShift) & ageMask)
}

// SetAge replaces the age field. The age must not exceed MaxAge.
func (w HeaderWord) SetAge(age uint) HeaderWord {
	assertf(uint64(age)&^ageMask == 0, "SetAge: age %d overflows the age field", age)
	return w.with(w.value&^ageMaskInPlace | (uint64(age)&ageMask)<<ageShift)
}

// IncrAge increments the age, saturating at MaxAge.
func (w HeaderWord) IncrAge() HeaderWord {
	if w.Age() == MaxAge {
		return w
	}
	return w.SetAge(w.Age() + 1)
}

// ---------------------------------------------------------------------------
// Identity hash (classic layout)
// ---------------------------------------------------------------------------

// Hash returns the inline identity hash; 0 means no hash has been assigned.
func (w HeaderWord) Hash() uint64 {
	assertf(!w.format.Compact, "Hash: not available with compact headers")
	return (w.value >> hashShift) & hashMask
}

// CopySetHash replaces the hash field with hash truncated to
// IdentityHashBits.
func (w HeaderWord) CopySetHash(hash uint64) HeaderWord {
	assertf(!w.format.Compact, "CopySetHash: not available with compact headers")
	return w.with(w.value&^hashMaskInPlace | (hash&hashMask)<<hashShift)
}

// HasNoHash reports whether no identity hash has been requested yet.
func (w HeaderWord) HasNoHash() bool {
	if w.format.Compact {
		return !w.IsHashed()
	}
	return w.Hash() == noHash
}

// ---------------------------------------------------------------------------
// Hash control (compact layout)
//
//	00 never hashed
//	01 hashed, not expanded: the hash is recomputed until the collector
//	   moves the object and installs it in a side field
//	10 not hashed, expanded: archive scratch objects only
//	11 hashed and expanded: the hash lives in a side field
// ---------------------------------------------------------------------------

func (w HeaderWord) assertCompact(op string) {
	assertf(w.format.Compact, "%s: only available with compact headers", op)
}

func (w HeaderWord) withHashCtrl(bits uint64) HeaderWord {
	return w.with(w.value&^hashCtrlMaskInPlace | bits)
}

// IsHashedNotExpanded reports hash-control state 01.
func (w HeaderWord) IsHashedNotExpanded() bool {
	w.assertCompact("IsHashedNotExpanded")
	return w.value&hashCtrlMaskInPlace == hashCtrlHashedMaskInPlace
}

// SetHashedNotExpanded sets hash-control state 01.
func (w HeaderWord) SetHashedNotExpanded() HeaderWord {
	w.assertCompact("SetHashedNotExpanded")
	return w.withHashCtrl(hashCtrlHashedMaskInPlace)
}

// IsHashedExpanded reports hash-control state 11.
func (w HeaderWord) IsHashedExpanded() bool {
	w.assertCompact("IsHashedExpanded")
	return w.value&hashCtrlMaskInPlace == hashCtrlHashedMaskInPlace|hashCtrlExpandedMaskInPlace
}

// SetHashedExpanded sets hash-control state 11.
func (w HeaderWord) SetHashedExpanded() HeaderWord {
	w.assertCompact("SetHashedExpanded")
	return w.withHashCtrl(hashCtrlHashedMaskInPlace | hashCtrlExpandedMaskInPlace)
}

// IsNotHashedExpanded reports hash-control state 10.
func (w HeaderWord) IsNotHashedExpanded() bool {
	w.assertCompact("IsNotHashedExpanded")
	return w.value&hashCtrlMaskInPlace == hashCtrlExpandedMaskInPlace
}

// SetNotHashedExpanded sets hash-control state 10. Only archive scratch
// objects are allocated in this state.
func (w HeaderWord) SetNotHashedExpanded() HeaderWord {
	w.assertCompact("SetNotHashedExpanded")
	return w.withHashCtrl(hashCtrlExpandedMaskInPlace)
}

// IsExpanded reports states 10 and 11.
func (w HeaderWord) IsExpanded() bool {
	w.assertCompact("IsExpanded")
	return w.value&hashCtrlExpandedMaskInPlace != 0
}

// IsHashed reports states 01 and 11.
func (w HeaderWord) IsHashed() bool {
	w.assertCompact("IsHashed")
	return w.value&hashCtrlHashedMaskInPlace != 0
}

// HashCtrl returns the raw two hash-control bits.
func (w HeaderWord) HashCtrl() uint8 {
	w.assertCompact("HashCtrl")
	return uint8((w.value & hashCtrlMaskInPlace) >> hashCtrlShift)
}

// CopyHashCtrlFrom transplants the hash-control bits of m into w. With the
// classic layout there are no hash-control bits and w is returned as is.
func (w HeaderWord) CopyHashCtrlFrom(m HeaderWord) HeaderWord {
	if !w.format.Compact {
		return w
	}
	return w.withHashCtrl(m.value & hashCtrlMaskInPlace)
}

// ---------------------------------------------------------------------------
// Embedded class (compact layout)
// ---------------------------------------------------------------------------

// NarrowClass returns the embedded narrow class id; 0 means none is set.
func (w HeaderWord) NarrowClass() NarrowClass {
	w.assertCompact("NarrowClass")
	return NarrowClass((w.value & klassMaskInPlace) >> klassShift)
}

// SetNarrowClass replaces the embedded narrow class id.
func (w HeaderWord) SetNarrowClass(nk NarrowClass) HeaderWord {
	w.assertCompact("SetNarrowClass")
	assertf(uint64(nk)&^klassMask == 0, "SetNarrowClass: narrow class %d does not fit in %d bits", nk, klassBits)
	return w.with(w.value&^klassMaskInPlace | (uint64(nk)&klassMask)<<klassShift)
}

// Class decodes the embedded narrow class id with codec.
func (w HeaderWord) Class(codec *ClassPointerCodec) Address {
	return codec.Decode(w.NarrowClass())
}

// ArrayLength returns the array length kept in the upper half of a compact
// array header.
func (w HeaderWord) ArrayLength() int32 {
	w.assertCompact("ArrayLength")
	return int32(w.value >> arrayLenShift)
}

// ---------------------------------------------------------------------------
// Debugging
// ---------------------------------------------------------------------------

// String renders the word the way a heap dump prints it.
func (w HeaderWord) String() string {
	switch w.State() {
	case LockInflating:
		return "header(is_being_inflated)"
	case LockMarked:
		switch {
		case w.IsForwardExpanded():
			return fmt.Sprintf("header(is_forward_expanded forwardee=%#x)", uint64(w.Forwardee()))
		case w.IsSelfForwarded():
			return fmt.Sprintf("header(is_self_forwarded value=%#x)", w.value)
		default:
			return fmt.Sprintf("header(is_marked forwardee=%#x)", uint64(w.Forwardee()))
		}
	case LockLocked:
		return fmt.Sprintf("header(is_locked value=%#x)", w.value)
	case LockMonitor:
		return fmt.Sprintf("header(has_monitor value=%#x)", w.value)
	}
	if w.format.Compact {
		return fmt.Sprintf("header(is_unlocked hashctrl=%02b narrow_class=%d age=%d)",
			w.HashCtrl(), w.NarrowClass(), w.Age())
	}
	if w.HasNoHash() {
		return fmt.Sprintf("header(is_unlocked no_hash age=%d)", w.Age())
	}
	return fmt.Sprintf("header(is_unlocked hash=%#x age=%d)", w.Hash(), w.Age())
}
