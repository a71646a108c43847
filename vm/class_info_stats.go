package vm

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

// StatisticsReporter is implemented by caches created with statistics
// enabled. Reporting is observational and never changes lookup results.
type StatisticsReporter interface {
	Statistics() CacheStatistics
	PrintStatistics(w io.Writer) error
}

// CacheStatistics is a snapshot of the cache counters. Counters are
// best-effort and may wrap on very long runs.
type CacheStatistics struct {
	Registered     [NumClassKinds]uint64 `cbor:"1,keyasint" json:"registered"`
	Hits           [NumClassKinds]uint64 `cbor:"2,keyasint" json:"hits"`
	NoInfoMirror   uint64                `cbor:"3,keyasint" json:"noinfo_imk"`
	NoInfoLoader   uint64                `cbor:"4,keyasint" json:"noinfo_iclk"`
	NoInfoOther    uint64                `cbor:"5,keyasint" json:"noinfo_ik_other"`
	HitsBootLoaded uint64                `cbor:"6,keyasint" json:"hits_bootloaded"`
	Misses         uint64                `cbor:"7,keyasint" json:"misses"`
	LookupsCounted bool                  `cbor:"8,keyasint" json:"lookups_counted"`
}

// TotalRegistered returns the number of registrations.
func (s CacheStatistics) TotalRegistered() uint64 {
	var n uint64
	for _, c := range s.Registered {
		n += c
	}
	return n
}

// TotalHits returns the number of lookups that found an entry.
func (s CacheStatistics) TotalHits() uint64 {
	var n uint64
	for _, c := range s.Hits {
		n += c
	}
	return n
}

// ArrayHits returns hits on array classes.
func (s CacheStatistics) ArrayHits() uint64 {
	return s.Hits[TypeArrayClassKind] + s.Hits[ObjArrayClassKind]
}

// InstanceHits returns hits on instance classes.
func (s CacheStatistics) InstanceHits() uint64 {
	return s.TotalHits() - s.ArrayHits()
}

// NoInfoHits returns instance hits whose entry carried no layout info.
func (s CacheStatistics) NoInfoHits() uint64 {
	return s.NoInfoMirror + s.NoInfoLoader + s.NoInfoOther
}

// InstancePercent returns instance hits as a percentage of all hits.
func (s CacheStatistics) InstancePercent() float64 {
	return percentageOf(s.InstanceHits(), s.TotalHits())
}

// ArrayPercent returns array hits as a percentage of all hits.
func (s CacheStatistics) ArrayPercent() float64 {
	return percentageOf(s.ArrayHits(), s.TotalHits())
}

// NoInfoPercent returns no-info hits as a percentage of instance hits.
func (s CacheStatistics) NoInfoPercent() float64 {
	return percentageOf(s.NoInfoHits(), s.InstanceHits())
}

// BootLoadedPercent returns boot-loaded hits as a percentage of all hits.
func (s CacheStatistics) BootLoadedPercent() float64 {
	return percentageOf(s.HitsBootLoaded, s.TotalHits())
}

func percentageOf(x, x100 uint64) float64 {
	if x100 == 0 {
		return 0
	}
	return float64(x) * 100 / float64(x100)
}

// Print writes the report in a fixed-column text layout.
func (s CacheStatistics) Print(w io.Writer) error {
	var b strings.Builder
	field := func(name string, v uint64) {
		fmt.Fprintf(&b, "   %-19s%d\n", name+":", v)
	}

	b.WriteString("Class info cache statistics:\n")
	for i := 0; i < NumClassKinds; i++ {
		field("registered_"+ClassKind(i).ShortName(), s.Registered[i])
	}
	if !s.LookupsCounted {
		b.WriteString("   (lookup statistics disabled)\n")
		_, err := io.WriteString(w, b.String())
		return err
	}
	for i := 0; i < NumClassKinds; i++ {
		field("hits_"+ClassKind(i).ShortName(), s.Hits[i])
	}
	field("noinfo_IMK", s.NoInfoMirror)
	field("noinfo_ICLK", s.NoInfoLoader)
	field("noinfo_IK_other", s.NoInfoOther)
	field("hits_bootloaded", s.HitsBootLoaded)
	field("misses", s.Misses)

	ikHits := s.InstanceHits()
	fmt.Fprintf(&b, "   %-19s%d\n", "Hits total:", s.TotalHits())
	fmt.Fprintf(&b, "   %-19s%d (%.1f%%)\n", "IK hits total:", ikHits, s.InstancePercent())
	fmt.Fprintf(&b, "   %-19s%d (%.1f%%)\n", "AK hits total:", s.ArrayHits(), s.ArrayPercent())
	fmt.Fprintf(&b, "   IK details missing in %.2f%% of all IK hits (IMK: %.2f%%, ICLK: %.2f%%, other: %.2f%%)\n",
		s.NoInfoPercent(),
		percentageOf(s.NoInfoMirror, ikHits),
		percentageOf(s.NoInfoLoader, ikHits),
		percentageOf(s.NoInfoOther, ikHits))
	fmt.Fprintf(&b, "   Hits of boot-loaded classes: %d (%.1f%%)\n", s.HitsBootLoaded, s.BootLoadedPercent())

	_, err := io.WriteString(w, b.String())
	return err
}

// ---------------------------------------------------------------------------
// statisticsClassInfoCache: counting decorator
// ---------------------------------------------------------------------------

type classInfoCounters struct {
	registered     [NumClassKinds]atomic.Uint64
	hits           [NumClassKinds]atomic.Uint64
	noInfoMirror   atomic.Uint64
	noInfoLoader   atomic.Uint64
	noInfoOther    atomic.Uint64
	hitsBootLoaded atomic.Uint64
	misses         atomic.Uint64
}

type statisticsClassInfoCache struct {
	inner        ClassInfoCache
	countLookups bool
	counters     classInfoCounters
}

func newStatisticsClassInfoCache(inner ClassInfoCache, countLookups bool) *statisticsClassInfoCache {
	return &statisticsClassInfoCache{inner: inner, countLookups: countLookups}
}

func (s *statisticsClassInfoCache) Register(k ClassMetadata) {
	s.inner.Register(k)
	kind := k.Kind()
	assertf(kind.IsValid(), "Register: invalid class kind %d", kind)
	s.counters.registered[kind].Add(1)
}

func (s *statisticsClassInfoCache) Lookup(nk NarrowClass) ClassInfoEntry {
	e := s.inner.Lookup(nk)
	if s.countLookups {
		s.updateHitStats(e)
	}
	return e
}

func (s *statisticsClassInfoCache) updateHitStats(e ClassInfoEntry) {
	if !e.IsValid() {
		s.counters.misses.Add(1)
		return
	}
	kind := e.Kind()
	s.counters.hits[kind].Add(1)
	if kind.IsInstance() && !e.CarriesInfo() {
		switch kind {
		case InstanceClassLoaderClassKind:
			s.counters.noInfoLoader.Add(1)
		case InstanceMirrorClassKind:
			s.counters.noInfoMirror.Add(1)
		default:
			s.counters.noInfoOther.Add(1)
		}
	}
	if e.BootLoaded() {
		s.counters.hitsBootLoaded.Add(1)
	}
}

func (s *statisticsClassInfoCache) Len() int { return s.inner.Len() }

func (s *statisticsClassInfoCache) Close() { s.inner.Close() }

// Statistics returns a snapshot of the counters. Counters are read one at a
// time, so a snapshot taken under load is not a consistent cut.
func (s *statisticsClassInfoCache) Statistics() CacheStatistics {
	st := CacheStatistics{LookupsCounted: s.countLookups}
	for i := 0; i < NumClassKinds; i++ {
		st.Registered[i] = s.counters.registered[i].Load()
		st.Hits[i] = s.counters.hits[i].Load()
	}
	st.NoInfoMirror = s.counters.noInfoMirror.Load()
	st.NoInfoLoader = s.counters.noInfoLoader.Load()
	st.NoInfoOther = s.counters.noInfoOther.Load()
	st.HitsBootLoaded = s.counters.hitsBootLoaded.Load()
	st.Misses = s.counters.misses.Load()
	return st
}

// PrintStatistics writes the statistics report to w.
func (s *statisticsClassInfoCache) PrintStatistics(w io.Writer) error {
	return s.Statistics().Print(w)
}
