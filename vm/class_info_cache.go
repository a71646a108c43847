package vm

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// MaxClassInfoCacheBits bounds the narrow class id width the cache accepts
// (4M slots, 16 MiB).
const MaxClassInfoCacheBits = 22

// ErrCacheTooLarge is returned when the codec's narrow ids are too wide to
// back with a flat table.
var ErrCacheTooLarge = errors.New("narrow class id space too large for the class info cache")

// ClassInfoCache maps narrow class ids to ClassInfoEntry summaries so hot
// paths can answer "what kind of class is this" without touching the class
// metadata.
//
// Contract:
//   - construction (NewClassInfoCache) happens before any other call;
//   - Register may run concurrently for distinct classes, which always map
//     to distinct slots; registering two classes with the same narrow id is
//     the caller's bug;
//   - Lookup may race with Register on the same slot and then sees either
//     InvalidClassInfoEntry or the complete entry, never a mix.
//
// The cache is never the only source of truth: a caller seeing
// InvalidClassInfoEntry must fall back to the class metadata, and an entry
// may only select a faster path, never skip a required check.
type ClassInfoCache interface {
	// Register stores the summary of k at k's narrow class id.
	Register(k ClassMetadata)

	// Lookup returns the summary for nk, or InvalidClassInfoEntry if nk is
	// out of range or was never registered. It never blocks.
	Lookup(nk NarrowClass) ClassInfoEntry

	// Len returns the number of slots.
	Len() int

	// Close releases the table. The cache must not be used afterwards.
	Close()
}

// CacheOptions selects the decorations wrapped around the bare table.
type CacheOptions struct {
	// Statistics counts registrations per class kind.
	Statistics bool

	// ExpensiveStatistics also counts lookups (hits per kind, hits
	// without inline info, hits of boot-loaded classes). Implies
	// Statistics.
	ExpensiveStatistics bool
}

// NewClassInfoCache allocates a table with one slot per narrow class id of
// codec, all set to InvalidClassInfoEntry.
//
// With assertions compiled in, every registration is read back and checked
// against the class metadata. With statistics enabled the returned cache
// also implements StatisticsReporter.
func NewClassInfoCache(codec *ClassPointerCodec, opts CacheOptions) (ClassInfoCache, error) {
	if codec.Bits() > MaxClassInfoCacheBits {
		return nil, fmt.Errorf("%w: %d bits (max %d)", ErrCacheTooLarge, codec.Bits(), MaxClassInfoCacheBits)
	}

	var cache ClassInfoCache = newClassInfoTable(codec)
	if assertionsEnabled {
		cache = &verifyingClassInfoCache{inner: cache, codec: codec}
	}
	if opts.Statistics || opts.ExpensiveStatistics {
		cache = newStatisticsClassInfoCache(cache, opts.ExpensiveStatistics)
	}

	klutLog.Infof("class info cache initialized: %d entries (%s, statistics=%t, expensive=%t)",
		cache.Len(), codec, opts.Statistics || opts.ExpensiveStatistics, opts.ExpensiveStatistics)
	return cache, nil
}

// ---------------------------------------------------------------------------
// classInfoTable: the bare table
// ---------------------------------------------------------------------------

type classInfoTable struct {
	codec   *ClassPointerCodec
	entries []atomic.Uint32
}

func newClassInfoTable(codec *ClassPointerCodec) *classInfoTable {
	t := &classInfoTable{
		codec:   codec,
		entries: make([]atomic.Uint32, uint64(1)<<codec.Bits()),
	}
	for i := range t.entries {
		t.entries[i].Store(uint32(InvalidClassInfoEntry))
	}
	return t
}

func (t *classInfoTable) Register(k ClassMetadata) {
	nk := t.codec.EncodeClass(k)
	assertf(nk != 0, "Register: class has no narrow class id")
	assertf(uint64(nk) < uint64(len(t.entries)), "Register: narrow class %d out of bounds", nk)
	e := ClassInfoEntryFor(k)
	t.entries[nk].Store(uint32(e))
	if klutLog.AllowLevel(commonlog.Debug) {
		klutLog.Debugf("registered narrow class %d: %s", nk, e)
	}
}

func (t *classInfoTable) Lookup(nk NarrowClass) ClassInfoEntry {
	if uint64(nk) >= uint64(len(t.entries)) {
		return InvalidClassInfoEntry
	}
	return ClassInfoEntry(t.entries[nk].Load())
}

func (t *classInfoTable) Len() int {
	return len(t.entries)
}

func (t *classInfoTable) Close() {
	t.entries = nil
}

// ---------------------------------------------------------------------------
// verifyingClassInfoCache: read-after-write checks
// ---------------------------------------------------------------------------

type verifyingClassInfoCache struct {
	inner ClassInfoCache
	codec *ClassPointerCodec
}

func (v *verifyingClassInfoCache) Register(k ClassMetadata) {
	v.inner.Register(k)

	nk := v.codec.EncodeClass(k)
	want := ClassInfoEntryFor(k)
	got := v.inner.Lookup(nk)
	assertf(got == want, "Register: slot %d holds %#x after storing %#x", nk, uint32(got), uint32(want))
	if err := got.VerifyAgainst(k); err != nil {
		assertf(false, "Register: slot %d: %v", nk, err)
	}
}

func (v *verifyingClassInfoCache) Lookup(nk NarrowClass) ClassInfoEntry {
	return v.inner.Lookup(nk)
}

func (v *verifyingClassInfoCache) Len() int { return v.inner.Len() }

func (v *verifyingClassInfoCache) Close() { v.inner.Close() }
