package vm

import "fmt"

// Header word layout (least significant bit first):
//
//	classic: lock:2 self-fwd:1 age:4 unused_gap:4 hash:31 unused:22
//	compact: lock:2 self-fwd:1 age:4 unused_gap:4 hashctrl:2 class:19 array_length:32
//
// The lock bits encode:
//
//	[ptr             | 00]  locked     ptr to a stack lock (legacy) or lightweight-locked header
//	[header          | 01]  unlocked   regular header
//	[ptr             | 10]  monitor    ptr to a monitor, or header when a monitor table is used
//	[ptr             | 11]  marked     forwarding
//	[0 ............ 0| 00]  inflating  inflation in progress (legacy stack locking)
//
// Stack and monitor pointers are assumed to have the low two bits clear.
const (
	lockBits      = 2
	selfFwdBits   = 1
	ageBits       = 4
	unusedGapBits = 4
	maxHashBits   = 64 - ageBits - lockBits - selfFwdBits
	hashBits      = 31
	hashCtrlBits  = 2
	klassBits     = 19
	arrayLenBits  = 32

	lockShift     = 0
	selfFwdShift  = lockShift + lockBits
	ageShift      = selfFwdShift + selfFwdBits
	unusedShift   = ageShift + ageBits
	hashShift     = ageShift + ageBits + unusedGapBits
	hashCtrlShift = ageShift + ageBits + unusedGapBits
	klassShift    = hashCtrlShift + hashCtrlBits
	arrayLenShift = 32
)

const (
	lockMask             uint64 = 1<<lockBits - 1
	lockMaskInPlace      uint64 = lockMask << lockShift
	selfFwdMask          uint64 = 1<<selfFwdBits - 1
	selfFwdMaskInPlace   uint64 = selfFwdMask << selfFwdShift
	ageMask              uint64 = 1<<ageBits - 1
	ageMaskInPlace       uint64 = ageMask << ageShift
	unusedGapMaskInPlace uint64 = (1<<unusedGapBits - 1) << unusedShift
	hashMask             uint64 = 1<<hashBits - 1
	hashMaskInPlace      uint64 = hashMask << hashShift
	hashCtrlMask         uint64 = 1<<hashCtrlBits - 1
	hashCtrlMaskInPlace  uint64 = hashCtrlMask << hashCtrlShift
	klassMask            uint64 = 1<<klassBits - 1
	klassMaskInPlace     uint64 = klassMask << klassShift
	arrayLenMaskInPlace  uint64 = (1<<arrayLenBits - 1) << arrayLenShift

	hashCtrlHashedMaskInPlace   uint64 = 1 << hashCtrlShift
	hashCtrlExpandedMaskInPlace uint64 = 2 << hashCtrlShift

	lockedValue          uint64 = 0
	unlockedValue        uint64 = 1
	monitorValue         uint64 = 2
	markedValue          uint64 = 3
	forwardExpandedValue uint64 = 0b111

	noHash        uint64 = 0
	noHashInPlace uint64 = noHash << hashShift
	noLockInPlace uint64 = unlockedValue
)

// Exported field limits.
const (
	// MaxAge is the largest value the age field can hold.
	MaxAge = uint(ageMask)

	// IdentityHashBits is the width of the inline hash in the classic layout.
	IdentityHashBits = hashBits

	// HeaderClassBits is the width of the narrow class id embedded in a
	// compact header.
	HeaderClassBits = klassBits
)

const (
	classicOverlap = lockMaskInPlace&selfFwdMaskInPlace | lockMaskInPlace&ageMaskInPlace |
		lockMaskInPlace&unusedGapMaskInPlace | lockMaskInPlace&hashMaskInPlace |
		selfFwdMaskInPlace&ageMaskInPlace | selfFwdMaskInPlace&unusedGapMaskInPlace |
		selfFwdMaskInPlace&hashMaskInPlace | ageMaskInPlace&unusedGapMaskInPlace |
		ageMaskInPlace&hashMaskInPlace | unusedGapMaskInPlace&hashMaskInPlace

	compactOverlap = lockMaskInPlace&selfFwdMaskInPlace | lockMaskInPlace&ageMaskInPlace |
		lockMaskInPlace&unusedGapMaskInPlace | lockMaskInPlace&hashCtrlMaskInPlace |
		lockMaskInPlace&klassMaskInPlace | lockMaskInPlace&arrayLenMaskInPlace |
		selfFwdMaskInPlace&ageMaskInPlace | selfFwdMaskInPlace&unusedGapMaskInPlace |
		selfFwdMaskInPlace&hashCtrlMaskInPlace | selfFwdMaskInPlace&klassMaskInPlace |
		selfFwdMaskInPlace&arrayLenMaskInPlace | ageMaskInPlace&unusedGapMaskInPlace |
		ageMaskInPlace&hashCtrlMaskInPlace | ageMaskInPlace&klassMaskInPlace |
		ageMaskInPlace&arrayLenMaskInPlace | unusedGapMaskInPlace&hashCtrlMaskInPlace |
		unusedGapMaskInPlace&klassMaskInPlace | unusedGapMaskInPlace&arrayLenMaskInPlace |
		hashCtrlMaskInPlace&klassMaskInPlace | hashCtrlMaskInPlace&arrayLenMaskInPlace |
		klassMaskInPlace&arrayLenMaskInPlace
)

// Layout checks. Each array length must be a non-negative constant, and the
// overlap arrays must be empty, or the package does not compile.
var (
	_ [0]struct{} = [classicOverlap]struct{}{}
	_ [0]struct{} = [compactOverlap]struct{}{}
	_ [64 - hashShift - hashBits]struct{}
	_ [maxHashBits - hashBits]struct{}
	_ [arrayLenShift - klassShift - klassBits]struct{}
	_ [64 - arrayLenShift - arrayLenBits]struct{}
)

// LockingMode selects the locking discipline, which decides how the locked
// and monitor patterns are interpreted.
type LockingMode uint8

const (
	LockingLegacy                 LockingMode = iota // stack locks, displaced headers
	LockingLightweight                               // lock-stack, header stays in place
	LockingLightweightMonitorTable                   // lightweight, monitors kept in a side table
)

// String returns the configuration name of the locking mode.
func (m LockingMode) String() string {
	switch m {
	case LockingLegacy:
		return "legacy"
	case LockingLightweight:
		return "lightweight"
	case LockingLightweightMonitorTable:
		return "lightweight-table"
	default:
		return fmt.Sprintf("LockingMode(%d)", uint8(m))
	}
}

// IsLightweight reports whether the header stays in place while locked.
func (m LockingMode) IsLightweight() bool {
	return m == LockingLightweight || m == LockingLightweightMonitorTable
}

// UsesMonitorTable reports whether monitors live in a side table instead of
// being pointed to by the header.
func (m LockingMode) UsesMonitorTable() bool {
	return m == LockingLightweightMonitorTable
}

// ParseLockingMode parses a configuration name produced by String.
func ParseLockingMode(s string) (LockingMode, error) {
	switch s {
	case "legacy":
		return LockingLegacy, nil
	case "lightweight", "":
		return LockingLightweight, nil
	case "lightweight-table":
		return LockingLightweightMonitorTable, nil
	default:
		return 0, fmt.Errorf("unknown locking mode %q", s)
	}
}

// LockState is the lock dimension of a header word.
type LockState uint8

const (
	LockInflating LockState = iota
	LockLocked
	LockUnlocked
	LockMonitor
	LockMarked
)

func (s LockState) String() string {
	switch s {
	case LockInflating:
		return "inflating"
	case LockLocked:
		return "locked"
	case LockUnlocked:
		return "unlocked"
	case LockMonitor:
		return "monitor"
	case LockMarked:
		return "marked"
	default:
		return fmt.Sprintf("LockState(%d)", uint8(s))
	}
}

// HeaderFormat describes how header words are laid out. It is fixed at
// startup and carried by every HeaderWord built from it.
type HeaderFormat struct {
	Compact bool
	Locking LockingMode
}

// ClassicFormat returns the classic layout with the given locking mode.
func ClassicFormat(locking LockingMode) HeaderFormat {
	return HeaderFormat{Locking: locking}
}

// CompactFormat returns the compact layout with the given locking mode.
func CompactFormat(locking LockingMode) HeaderFormat {
	return HeaderFormat{Compact: true, Locking: locking}
}

// Word wraps a raw header value.
func (f HeaderFormat) Word(raw uint64) HeaderWord {
	return HeaderWord{value: raw, format: f}
}

// Zero returns the all-zero word.
func (f HeaderFormat) Zero() HeaderWord {
	return f.Word(0)
}

// Inflating returns the distinguished busy word used while a stack lock is
// inflated into a monitor. Code that reads a header outside a lock must
// never treat it as a lock state; it must wait and read again.
func (f HeaderFormat) Inflating() HeaderWord {
	return f.Zero()
}

// Prototype returns the header of a freshly allocated object: unlocked,
// age zero, and (classic) no hash. The compact class id is set separately.
func (f HeaderFormat) Prototype() HeaderWord {
	if f.Compact {
		return f.Word(noLockInPlace)
	}
	return f.Word(noHashInPlace | noLockInPlace)
}

// UnusedMark is stored into a stack lock to flag that the lock uses a
// heavyweight monitor.
func (f HeaderFormat) UnusedMark() HeaderWord {
	return f.Word(markedValue)
}

// EncodeLocker builds a stack-locked header pointing at a stack lock.
func (f HeaderFormat) EncodeLocker(lock Address) HeaderWord {
	assertf(f.Locking == LockingLegacy, "EncodeLocker: requires legacy stack locking, have %s", f.Locking)
	assertf(uint64(lock)&lockMaskInPlace == 0, "EncodeLocker: stack lock %#x is not aligned", uint64(lock))
	return f.Word(uint64(lock))
}

// EncodeMonitor builds a monitor header pointing at an inflated monitor.
func (f HeaderFormat) EncodeMonitor(monitor Address) HeaderWord {
	assertf(!f.Locking.UsesMonitorTable(), "EncodeMonitor: monitors live in a table, not in the header")
	assertf(uint64(monitor)&lockMaskInPlace == 0, "EncodeMonitor: monitor %#x is not aligned", uint64(monitor))
	return f.Word(uint64(monitor) | monitorValue)
}

// EncodePointerAsMark encodes a forwarding address as a marked word.
// The address must leave the lock and self-forward bits clear.
func (f HeaderFormat) EncodePointerAsMark(p Address) HeaderWord {
	assertf(uint64(p)&(lockMaskInPlace|selfFwdMaskInPlace) == 0,
		"EncodePointerAsMark: address %#x is not aligned", uint64(p))
	return f.Word(uint64(p)).SetMarked()
}

func (f HeaderFormat) String() string {
	layout := "classic"
	if f.Compact {
		layout = "compact"
	}
	return layout + "/" + f.Locking.String()
}
