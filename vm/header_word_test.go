package vm

import (
	"strings"
	"testing"
)

var (
	classicFmt = ClassicFormat(LockingLightweight)
	compactFmt = CompactFormat(LockingLightweight)
	bothFmts   = []HeaderFormat{classicFmt, compactFmt}
)

func expectPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	if !assertionsEnabled {
		t.Skip("assertions compiled out")
	}
	defer func() {
		if r := recover(); r == nil {
			t.Errorf("%s: expected panic", name)
		}
	}()
	fn()
}

// ---------------------------------------------------------------------------
// Lock bits
// ---------------------------------------------------------------------------

func TestLockPatterns(t *testing.T) {
	tests := []struct {
		raw      uint64
		state    LockState
		locked   bool
		marked   bool
		fwd      bool
		selfFwd  bool
		expanded bool
	}{
		{0b1000_000, LockLocked, true, false, false, false, false},
		{0b1000_001, LockUnlocked, false, false, false, false, false},
		{0b1000_010, LockMonitor, true, false, false, false, false},
		{0b1000_011, LockMarked, true, true, true, false, false},
		{0b1000_100, LockMarked, true, true, true, true, false},
		{0b1000_101, LockMarked, false, true, true, true, false},
		{0b1000_110, LockMarked, true, true, true, true, false},
		{0b1000_111, LockMarked, true, true, true, false, true},
	}

	for _, f := range bothFmts {
		for _, tt := range tests {
			w := f.Word(tt.raw)
			if got := w.State(); got != tt.state {
				t.Errorf("%s %#b: State() = %s, want %s", f, tt.raw, got, tt.state)
			}
			if got := w.IsLocked(); got != tt.locked {
				t.Errorf("%s %#b: IsLocked() = %v, want %v", f, tt.raw, got, tt.locked)
			}
			if got := w.IsMarked(); got != tt.marked {
				t.Errorf("%s %#b: IsMarked() = %v, want %v", f, tt.raw, got, tt.marked)
			}
			if got := w.IsForwarded(); got != tt.fwd {
				t.Errorf("%s %#b: IsForwarded() = %v, want %v", f, tt.raw, got, tt.fwd)
			}
			if got := w.IsSelfForwarded(); got != tt.selfFwd {
				t.Errorf("%s %#b: IsSelfForwarded() = %v, want %v", f, tt.raw, got, tt.selfFwd)
			}
			if got := w.IsForwardExpanded(); got != tt.expanded {
				t.Errorf("%s %#b: IsForwardExpanded() = %v, want %v", f, tt.raw, got, tt.expanded)
			}
		}
	}
}

func TestLockedXorUnlocked(t *testing.T) {
	raws := []uint64{1, 2, 3, 4, 0x55, 0xFFFF_FFFF_FFFF_FFFF, 0x8000_0000_0000_0000, 0x1234_5678_9ABC_DEF0}
	for _, f := range bothFmts {
		for _, raw := range raws {
			w := f.Word(raw)
			if w.IsLocked() == w.IsUnlocked() {
				t.Errorf("%s %#x: IsLocked() = IsUnlocked() = %v", f, raw, w.IsLocked())
			}
			if w.IsNeutral() != w.IsUnlocked() {
				t.Errorf("%s %#x: IsNeutral() = %v, IsUnlocked() = %v", f, raw, w.IsNeutral(), w.IsUnlocked())
			}
		}
	}
}

func TestIsMarkedExhaustive(t *testing.T) {
	for pattern := uint64(0); pattern < 8; pattern++ {
		w := compactFmt.Word(0xAB00 | pattern)
		want := pattern > monitorValue
		if got := w.IsMarked(); got != want {
			t.Errorf("pattern %03b: IsMarked() = %v, want %v", pattern, got, want)
		}
	}
}

func TestInflating(t *testing.T) {
	for _, f := range bothFmts {
		w := f.Inflating()
		if w.Value() != 0 {
			t.Errorf("%s: Inflating().Value() = %#x, want 0", f, w.Value())
		}
		if !w.IsBeingInflated() {
			t.Errorf("%s: Inflating().IsBeingInflated() = false", f)
		}
		if w.State() != LockInflating {
			t.Errorf("%s: Inflating().State() = %s", f, w.State())
		}
		for _, raw := range []uint64{1, 2, 3, 4, 1 << 63, 0xFFFF_FFFF_FFFF_FFFF} {
			if f.Word(raw).IsBeingInflated() {
				t.Errorf("%s %#x: IsBeingInflated() = true", f, raw)
			}
			if f.Word(raw).State() == LockInflating {
				t.Errorf("%s %#x: State() = inflating", f, raw)
			}
		}
	}
}

func TestLockTransformersPreserveFields(t *testing.T) {
	base := compactFmt.Prototype().SetAge(9).SetNarrowClass(0x4_5678).SetHashedExpanded()
	rest := base.Value() &^ lockMaskInPlace

	tests := []struct {
		name string
		w    HeaderWord
		lock uint64
	}{
		{"SetFastLocked", base.SetFastLocked(), lockedValue},
		{"SetHasMonitor", base.SetHasMonitor(), monitorValue},
		{"SetMarked", base.SetMarked(), markedValue},
		{"SetUnmarked", base.SetMarked().SetUnmarked(), unlockedValue},
		{"SetUnlocked", base.SetHasMonitor().SetUnlocked(), unlockedValue},
	}
	for _, tt := range tests {
		if got := tt.w.Value() & lockMaskInPlace; got != tt.lock {
			t.Errorf("%s: lock bits = %02b, want %02b", tt.name, got, tt.lock)
		}
		if got := tt.w.Value() &^ lockMaskInPlace; got != rest {
			t.Errorf("%s: other bits = %#x, want %#x", tt.name, got, rest)
		}
	}
}

func TestMustBePreserved(t *testing.T) {
	proto := classicFmt.Prototype()
	if proto.MustBePreserved() {
		t.Error("classic prototype must not need preserving")
	}
	if !proto.CopySetHash(0x1234).MustBePreserved() {
		t.Error("classic hashed header must be preserved")
	}
	if !proto.SetFastLocked().MustBePreserved() {
		t.Error("classic locked header must be preserved")
	}

	cproto := compactFmt.Prototype()
	if cproto.MustBePreserved() {
		t.Error("compact prototype must not need preserving")
	}
	if cproto.SetHashedNotExpanded().MustBePreserved() {
		t.Error("compact hashed unlocked header does not need preserving")
	}
	if !cproto.SetHasMonitor().MustBePreserved() {
		t.Error("compact monitor header must be preserved")
	}
}

func TestLockerAndMonitor(t *testing.T) {
	legacy := ClassicFormat(LockingLegacy)
	w := legacy.EncodeLocker(0x7fff_0000_1230)
	if !w.HasLocker() {
		t.Fatal("HasLocker() = false")
	}
	if w.Locker() != 0x7fff_0000_1230 {
		t.Errorf("Locker() = %#x", uint64(w.Locker()))
	}
	if !w.HasDisplacedMarkHelper() {
		t.Error("stack-locked legacy header should have a displaced header")
	}

	m := legacy.EncodeMonitor(0x5000_0040)
	if !m.HasMonitor() || m.Monitor() != 0x5000_0040 {
		t.Errorf("Monitor() = %#x, HasMonitor() = %v", uint64(m.Monitor()), m.HasMonitor())
	}
	if !m.HasDisplacedMarkHelper() {
		t.Error("monitor header should have a displaced header")
	}

	lw := ClassicFormat(LockingLightweight).Prototype().SetFastLocked()
	if !lw.IsFastLocked() {
		t.Error("IsFastLocked() = false")
	}
	if lw.HasDisplacedMarkHelper() {
		t.Error("lightweight-locked header keeps its content")
	}
	table := ClassicFormat(LockingLightweightMonitorTable).Prototype().SetHasMonitor()
	if table.HasDisplacedMarkHelper() {
		t.Error("monitor table header keeps its content")
	}
}

func TestLockingModePreconditions(t *testing.T) {
	t.Run("HasLocker", func(t *testing.T) {
		expectPanic(t, "HasLocker", func() { ClassicFormat(LockingLightweight).Prototype().HasLocker() })
	})
	t.Run("IsFastLocked", func(t *testing.T) {
		expectPanic(t, "IsFastLocked", func() { ClassicFormat(LockingLegacy).Prototype().IsFastLocked() })
	})
	t.Run("Monitor", func(t *testing.T) {
		expectPanic(t, "Monitor", func() {
			ClassicFormat(LockingLightweightMonitorTable).Prototype().SetHasMonitor().Monitor()
		})
	})
	t.Run("EncodeMonitor", func(t *testing.T) {
		expectPanic(t, "EncodeMonitor", func() { ClassicFormat(LockingLightweightMonitorTable).EncodeMonitor(0x1000) })
	})
}

// ---------------------------------------------------------------------------
// Forwarding
// ---------------------------------------------------------------------------

func TestEncodePointerAsMark(t *testing.T) {
	for _, f := range bothFmts {
		for _, p := range []Address{0x8, 0x1000, 0x7fff_ffff_fff8, 0xdead_beef_0000} {
			w := f.EncodePointerAsMark(p)
			if !w.IsMarked() || !w.IsForwarded() {
				t.Errorf("%s %#x: not marked/forwarded", f, uint64(p))
			}
			if w.IsSelfForwarded() {
				t.Errorf("%s %#x: plain forwarding reported as self-forwarded", f, uint64(p))
			}
			if got := w.DecodePointer(); got != p {
				t.Errorf("%s: DecodePointer() = %#x, want %#x", f, uint64(got), uint64(p))
			}
			if got := w.SetForwardExpanded().Forwardee(); got != p {
				t.Errorf("%s: expanded Forwardee() = %#x, want %#x", f, uint64(got), uint64(p))
			}
		}
	}
}

func TestSelfForwarding(t *testing.T) {
	for _, f := range bothFmts {
		w := f.Prototype().SetAge(3)
		sf := w.SetSelfForwarded()
		if !sf.IsSelfForwarded() || !sf.IsForwarded() || !sf.IsMarked() {
			t.Errorf("%s: SetSelfForwarded() = %s", f, sf)
		}
		if sf.Age() != 3 {
			t.Errorf("%s: self-forwarding changed age to %d", f, sf.Age())
		}
		if back := sf.UnsetSelfForwarded(); back != w {
			t.Errorf("%s: UnsetSelfForwarded() = %#x, want %#x", f, back.Value(), w.Value())
		}
	}
}

func TestSetForwardExpanded(t *testing.T) {
	w := compactFmt.EncodePointerAsMark(0x4000).SetForwardExpanded()
	if !w.IsForwardExpanded() {
		t.Error("IsForwardExpanded() = false")
	}
	if w.IsSelfForwarded() {
		t.Error("forward-expanded word reported as self-forwarded")
	}
	if !w.IsForwarded() {
		t.Error("forward-expanded word must still be forwarded")
	}

	expectPanic(t, "SetForwardExpanded on unlocked", func() { compactFmt.Prototype().SetForwardExpanded() })
}

// ---------------------------------------------------------------------------
// Age
// ---------------------------------------------------------------------------

func TestAgeRoundTrip(t *testing.T) {
	for _, f := range bothFmts {
		base := f.Word(0xFFFF_FFFF_FFFF_FF81)
		for a := uint(0); a <= MaxAge; a++ {
			w := base.SetAge(a)
			if w.Age() != a {
				t.Errorf("%s: SetAge(%d).Age() = %d", f, a, w.Age())
			}
			if w.Value()&^ageMaskInPlace != base.Value()&^ageMaskInPlace {
				t.Errorf("%s: SetAge(%d) changed other fields", f, a)
			}
		}
	}
}

func TestIncrAgeSaturates(t *testing.T) {
	w := compactFmt.Prototype().SetNarrowClass(77).SetHashedNotExpanded()
	for i := uint(1); i <= MaxAge; i++ {
		w = w.IncrAge()
		if w.Age() != i {
			t.Fatalf("after %d increments Age() = %d", i, w.Age())
		}
	}
	top := w
	for i := 0; i < 5; i++ {
		w = w.IncrAge()
	}
	if w != top {
		t.Errorf("IncrAge() at max = %#x, want %#x", w.Value(), top.Value())
	}
	if w.NarrowClass() != 77 || !w.IsHashedNotExpanded() || !w.IsUnlocked() {
		t.Errorf("IncrAge() disturbed other fields: %s", w)
	}
}

func TestSetAgeOverflow(t *testing.T) {
	expectPanic(t, "SetAge(MaxAge+1)", func() { classicFmt.Prototype().SetAge(MaxAge + 1) })
}

// ---------------------------------------------------------------------------
// Identity hash (classic)
// ---------------------------------------------------------------------------

func TestCopySetHash(t *testing.T) {
	base := classicFmt.Prototype().SetAge(5).SetFastLocked().SetSelfForwarded()
	for _, h := range []uint64{1, 0x1234_5678, hashMask, hashMask + 1, 0xFFFF_FFFF_FFFF_FFFF} {
		w := base.CopySetHash(h)
		if got := w.Hash(); got != h&hashMask {
			t.Errorf("CopySetHash(%#x).Hash() = %#x, want %#x", h, got, h&hashMask)
		}
		if w.Age() != 5 {
			t.Errorf("CopySetHash(%#x) changed age to %d", h, w.Age())
		}
		if w.Value()&(lockMaskInPlace|selfFwdMaskInPlace) != base.Value()&(lockMaskInPlace|selfFwdMaskInPlace) {
			t.Errorf("CopySetHash(%#x) changed lock bits", h)
		}
	}
	if !base.HasNoHash() {
		t.Error("HasNoHash() = false before hashing")
	}
	if base.CopySetHash(42).HasNoHash() {
		t.Error("HasNoHash() = true after hashing")
	}
}

func TestHashRequiresClassic(t *testing.T) {
	expectPanic(t, "Hash", func() { compactFmt.Prototype().Hash() })
	expectPanic(t, "CopySetHash", func() { compactFmt.Prototype().CopySetHash(1) })
}

// ---------------------------------------------------------------------------
// Hash control (compact)
// ---------------------------------------------------------------------------

func TestHashCtrlStates(t *testing.T) {
	p := compactFmt.Prototype()
	if p.IsHashed() || p.IsExpanded() || !p.HasNoHash() {
		t.Errorf("prototype hashctrl = %02b", p.HashCtrl())
	}

	hne := p.SetHashedNotExpanded()
	if !hne.IsHashedNotExpanded() || !hne.IsHashed() || hne.IsExpanded() || hne.HasNoHash() {
		t.Errorf("hashed-not-expanded: %02b", hne.HashCtrl())
	}

	he := hne.SetHashedExpanded()
	if !he.IsHashedExpanded() || !he.IsHashed() || !he.IsExpanded() {
		t.Errorf("hashed-expanded: %02b", he.HashCtrl())
	}

	nhe := p.SetNotHashedExpanded()
	if !nhe.IsNotHashedExpanded() || nhe.IsHashed() || !nhe.IsExpanded() {
		t.Errorf("not-hashed-expanded: %02b", nhe.HashCtrl())
	}
	if got := nhe.SetHashedExpanded(); !got.IsHashedExpanded() {
		t.Errorf("10 -> 11 transition: %02b", got.HashCtrl())
	}
}

func TestCopyHashCtrlFrom(t *testing.T) {
	src := compactFmt.Prototype().SetHashedExpanded().SetAge(1).SetNarrowClass(3)
	dst := compactFmt.Prototype().SetAge(12).SetNarrowClass(0x7_FFFF).SetFastLocked()

	got := dst.CopyHashCtrlFrom(src)
	if !got.IsHashedExpanded() {
		t.Errorf("hashctrl = %02b, want 11", got.HashCtrl())
	}
	if got.Value()&^hashCtrlMaskInPlace != dst.Value()&^hashCtrlMaskInPlace {
		t.Errorf("CopyHashCtrlFrom changed other bits: %#x vs %#x", got.Value(), dst.Value())
	}
	if got.Age() != 12 || got.NarrowClass() != 0x7_FFFF || !got.IsLocked() {
		t.Errorf("CopyHashCtrlFrom disturbed fields: %s", got)
	}

	classic := classicFmt.Prototype().CopySetHash(99)
	if classic.CopyHashCtrlFrom(classicFmt.Prototype()) != classic {
		t.Error("classic CopyHashCtrlFrom must be a no-op")
	}
}

func TestHashCtrlRequiresCompact(t *testing.T) {
	w := classicFmt.Prototype()
	ops := map[string]func(){
		"IsHashedNotExpanded":  func() { w.IsHashedNotExpanded() },
		"SetHashedNotExpanded": func() { w.SetHashedNotExpanded() },
		"IsHashedExpanded":     func() { w.IsHashedExpanded() },
		"SetHashedExpanded":    func() { w.SetHashedExpanded() },
		"IsNotHashedExpanded":  func() { w.IsNotHashedExpanded() },
		"SetNotHashedExpanded": func() { w.SetNotHashedExpanded() },
		"IsExpanded":           func() { w.IsExpanded() },
		"IsHashed":             func() { w.IsHashed() },
		"NarrowClass":          func() { w.NarrowClass() },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) { expectPanic(t, name, op) })
	}
}

// ---------------------------------------------------------------------------
// Prototype and embedded class
// ---------------------------------------------------------------------------

func TestPrototype(t *testing.T) {
	for _, locking := range []LockingMode{LockingLegacy, LockingLightweight, LockingLightweightMonitorTable} {
		c := ClassicFormat(locking).Prototype()
		if !c.IsUnlocked() || !c.HasNoHash() || c.Age() != 0 {
			t.Errorf("classic/%s prototype = %s", locking, c)
		}
		if c.MustBePreserved() {
			t.Errorf("classic/%s prototype must not need preserving", locking)
		}

		k := CompactFormat(locking).Prototype()
		if !k.IsUnlocked() || k.NarrowClass() != 0 || k.Age() != 0 || k.IsHashed() {
			t.Errorf("compact/%s prototype = %s", locking, k)
		}
	}
}

func TestNarrowClassRoundTrip(t *testing.T) {
	base := compactFmt.Prototype().SetAge(7).SetHashedNotExpanded().SetSelfForwarded()
	for _, nk := range []NarrowClass{1, 2, 0x100, 0x4_0000, NarrowClass(klassMask)} {
		w := base.SetNarrowClass(nk)
		if w.NarrowClass() != nk {
			t.Errorf("SetNarrowClass(%d).NarrowClass() = %d", nk, w.NarrowClass())
		}
		if w.Value()&^klassMaskInPlace != base.Value() {
			t.Errorf("SetNarrowClass(%d) changed other bits", nk)
		}
	}
	expectPanic(t, "SetNarrowClass overflow", func() { base.SetNarrowClass(NarrowClass(klassMask + 1)) })
}

func TestHeaderClassDecodes(t *testing.T) {
	codec := MustClassPointerCodec(0x8_0000_0000, 10, 19)
	addr := codec.Base() + 42<<10
	w := compactFmt.Prototype().SetNarrowClass(codec.Encode(addr))
	if got := w.Class(codec); got != addr {
		t.Errorf("Class() = %#x, want %#x", uint64(got), uint64(addr))
	}
}

func TestArrayLength(t *testing.T) {
	w := compactFmt.Word(uint64(1234)<<32 | compactFmt.Prototype().SetNarrowClass(9).Value())
	if w.ArrayLength() != 1234 {
		t.Errorf("ArrayLength() = %d, want 1234", w.ArrayLength())
	}
	if w.NarrowClass() != 9 {
		t.Errorf("NarrowClass() = %d, want 9", w.NarrowClass())
	}
}

func TestHeaderString(t *testing.T) {
	tests := []struct {
		w    HeaderWord
		want string
	}{
		{classicFmt.Inflating(), "is_being_inflated"},
		{classicFmt.Prototype(), "is_unlocked no_hash age=0"},
		{classicFmt.Prototype().CopySetHash(0xab).SetAge(2), "hash=0xab age=2"},
		{compactFmt.Prototype().SetNarrowClass(5), "narrow_class=5"},
		{compactFmt.EncodePointerAsMark(0x1000), "is_marked forwardee=0x1000"},
		{compactFmt.Prototype().SetSelfForwarded(), "is_self_forwarded"},
		{compactFmt.Prototype().SetHasMonitor(), "has_monitor"},
	}
	for _, tt := range tests {
		if got := tt.w.String(); !strings.Contains(got, tt.want) {
			t.Errorf("String() = %q, want it to contain %q", got, tt.want)
		}
	}
}

func TestParseLockingMode(t *testing.T) {
	for _, m := range []LockingMode{LockingLegacy, LockingLightweight, LockingLightweightMonitorTable} {
		got, err := ParseLockingMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseLockingMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseLockingMode("biased"); err == nil {
		t.Error("ParseLockingMode(biased) should fail")
	}
}
