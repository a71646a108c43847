package dist

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/objmodel/vm"
)

func newSpace(t *testing.T) (*vm.ClassPointerCodec, *vm.ClassSpace) {
	t.Helper()
	codec, err := vm.NewClassPointerCodec(0x8_0000_0000, 10, 19)
	require.NoError(t, err)
	return codec, vm.NewClassSpace(codec)
}

func populate(t *testing.T, space *vm.ClassSpace) []*vm.ClassDescriptor {
	t.Helper()
	defs := []struct {
		name       string
		kind       vm.ClassKind
		boot, info bool
	}{
		{"java/lang/Object", vm.InstanceClassKind, true, true},
		{"java/lang/Class", vm.InstanceMirrorClassKind, true, false},
		{"java/lang/ref/WeakReference", vm.InstanceRefClassKind, true, true},
		{"[I", vm.TypeArrayClassKind, true, false},
		{"[Ljava/lang/String;", vm.ObjArrayClassKind, false, false},
		{"com/example/Loader", vm.InstanceClassLoaderClassKind, false, false},
	}
	var out []*vm.ClassDescriptor
	for _, d := range defs {
		c, err := space.Define(d.name, d.kind, d.boot, d.info)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func TestSnapshot_CBORRoundTrip(t *testing.T) {
	_, space := newSpace(t)
	populate(t, space)

	snap := TakeSnapshot(space)
	require.Len(t, snap.Classes, 6)
	assert.NotEqual(t, uuid.Nil, snap.ID)

	data, err := MarshalSnapshot(snap)
	require.NoError(t, err)

	got, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	assert.Equal(t, snap.ID, got.ID)
	assert.True(t, snap.Created.Equal(got.Created), "Created: got %v, want %v", got.Created, snap.Created)
	assert.Equal(t, snap.Codec, got.Codec)
	assert.Equal(t, snap.Classes, got.Classes)
}

func TestSnapshot_CanonicalEncoding(t *testing.T) {
	_, space := newSpace(t)
	populate(t, space)
	snap := TakeSnapshot(space)

	a, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	b, err := MarshalSnapshot(snap)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	d1, err := SnapshotDigest(snap)
	require.NoError(t, err)
	snap.Classes[0].Name = "java/lang/Other"
	d2, err := SnapshotDigest(snap)
	require.NoError(t, err)
	assert.NotEqual(t, d1, d2)
}

func TestUnmarshalSnapshot_Errors(t *testing.T) {
	_, err := UnmarshalSnapshot([]byte{0xff, 0x00})
	assert.Error(t, err)

	data, err := MarshalSnapshot(&Snapshot{Version: SnapshotVersion + 1})
	require.NoError(t, err)
	_, err = UnmarshalSnapshot(data)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestRestore(t *testing.T) {
	_, src := newSpace(t)
	orig := populate(t, src)
	data, err := MarshalSnapshot(TakeSnapshot(src))
	require.NoError(t, err)

	snap, err := UnmarshalSnapshot(data)
	require.NoError(t, err)

	codec, dst := newSpace(t)
	cache, err := vm.NewClassInfoCache(codec, vm.CacheOptions{Statistics: true})
	require.NoError(t, err)
	defer cache.Close()

	n, err := Restore(dst, cache, snap)
	require.NoError(t, err)
	assert.Equal(t, len(orig), n)
	assert.Equal(t, len(orig), dst.Len())

	for _, c := range orig {
		nk := codec.EncodeClass(c)
		restored, ok := dst.Resolve(nk)
		require.True(t, ok, "class %s not restored", c.Name)
		assert.Equal(t, c.Name, restored.Name)
		assert.Equal(t, c.Address(), restored.Address())

		e := cache.Lookup(nk)
		require.True(t, e.IsValid(), "class %s not registered", c.Name)
		assert.NoError(t, e.VerifyAgainst(c))
	}

	stats := cache.(vm.StatisticsReporter).Statistics()
	assert.Equal(t, uint64(len(orig)), stats.TotalRegistered())

	// New definitions continue past the restored classes.
	fresh, err := dst.Define("Fresh", vm.InstanceClassKind, false, false)
	require.NoError(t, err)
	for _, c := range orig {
		assert.NotEqual(t, c.Address(), fresh.Address())
	}
}

func TestRestore_NilCache(t *testing.T) {
	_, src := newSpace(t)
	populate(t, src)
	_, dst := newSpace(t)

	n, err := Restore(dst, nil, TakeSnapshot(src))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRestore_CodecMismatch(t *testing.T) {
	_, src := newSpace(t)
	populate(t, src)
	snap := TakeSnapshot(src)

	other, err := vm.NewClassPointerCodec(0x8_0000_0000, 9, 19)
	require.NoError(t, err)
	n, err := Restore(vm.NewClassSpace(other), nil, snap)
	assert.ErrorIs(t, err, ErrCodecMismatch)
	assert.Zero(t, n)
}

func TestRestore_AddressTaken(t *testing.T) {
	_, src := newSpace(t)
	populate(t, src)
	snap := TakeSnapshot(src)

	_, dst := newSpace(t)
	_, err := dst.Define("Squatter", vm.InstanceClassKind, false, false)
	require.NoError(t, err)

	n, err := Restore(dst, nil, snap)
	assert.ErrorIs(t, err, vm.ErrClassAddressTaken)
	assert.Zero(t, n)
}

func TestRestore_InvalidKind(t *testing.T) {
	codec, dst := newSpace(t)
	snap := &Snapshot{
		Version: SnapshotVersion,
		Codec:   CodecConfigOf(codec),
		Classes: []ClassRecord{{Name: "Bad", Kind: vm.ClassKind(vm.NumClassKinds), Address: uint64(codec.Base()) + 1024}},
	}
	_, err := Restore(dst, nil, snap)
	assert.ErrorContains(t, err, "invalid kind")
}

func TestStatistics_CBORRoundTrip(t *testing.T) {
	var s vm.CacheStatistics
	s.Registered[vm.InstanceClassKind] = 4
	s.Hits[vm.ObjArrayClassKind] = 8
	s.Hits[vm.InstanceClassKind] = 2
	s.NoInfoOther = 2
	s.HitsBootLoaded = 5
	s.Misses = 1
	s.LookupsCounted = true

	data, err := MarshalStatistics(s)
	require.NoError(t, err)
	got, err := UnmarshalStatistics(data)
	require.NoError(t, err)
	assert.Equal(t, s, got)
	assert.InDelta(t, 80.0, got.ArrayPercent(), 1e-9)

	_, err = UnmarshalStatistics([]byte{0xa1})
	assert.Error(t, err)
}
