// Package dist moves class metadata between processes. A Snapshot records
// the classes placed in a class space together with the class pointer
// encoding they were placed under, so another process using the same
// encoding can re-place them at the same addresses and rebuild its class
// info cache. Snapshots travel as canonical CBOR.
package dist

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/objmodel/vm"
)

var log = commonlog.GetLogger("objmodel.dist")

// SnapshotVersion is the current snapshot wire version.
const SnapshotVersion byte = 1

// ErrCodecMismatch is returned when restoring a snapshot taken under a
// different class pointer encoding.
var ErrCodecMismatch = errors.New("class pointer encoding mismatch")

// CodecConfig is the (base, shift, bits) triple of a class pointer codec.
type CodecConfig struct {
	Base  uint64 `cbor:"1,keyasint"`
	Shift uint   `cbor:"2,keyasint"`
	Bits  uint   `cbor:"3,keyasint"`
}

// CodecConfigOf returns the configuration of codec.
func CodecConfigOf(codec *vm.ClassPointerCodec) CodecConfig {
	return CodecConfig{Base: uint64(codec.Base()), Shift: codec.Shift(), Bits: codec.Bits()}
}

func (c CodecConfig) String() string {
	return fmt.Sprintf("base=%#x shift=%d bits=%d", c.Base, c.Shift, c.Bits)
}

// ClassRecord is one placed class.
type ClassRecord struct {
	Name           string       `cbor:"1,keyasint"`
	Kind           vm.ClassKind `cbor:"2,keyasint"`
	Address        uint64       `cbor:"3,keyasint"`
	BootLoaded     bool         `cbor:"4,keyasint,omitempty"`
	ExtendedLayout bool         `cbor:"5,keyasint,omitempty"`
}

// Snapshot is the class list of one class space.
type Snapshot struct {
	Version byte          `cbor:"1,keyasint"`
	ID      uuid.UUID     `cbor:"2,keyasint"`
	Created time.Time     `cbor:"3,keyasint"`
	Codec   CodecConfig   `cbor:"4,keyasint"`
	Classes []ClassRecord `cbor:"5,keyasint"`
}

// TakeSnapshot records every class placed in space, ordered by address.
func TakeSnapshot(space *vm.ClassSpace) *Snapshot {
	classes := space.Classes()
	s := &Snapshot{
		Version: SnapshotVersion,
		ID:      uuid.New(),
		Created: time.Now().UTC().Truncate(time.Second),
		Codec:   CodecConfigOf(space.Codec()),
		Classes: make([]ClassRecord, 0, len(classes)),
	}
	for _, c := range classes {
		s.Classes = append(s.Classes, ClassRecord{
			Name:           c.Name,
			Kind:           c.ClassKind,
			Address:        uint64(c.Address()),
			BootLoaded:     c.Bootstrap,
			ExtendedLayout: c.ExtendedLayout,
		})
	}
	return s
}

// Restore places every class of snap into space at its recorded address and
// registers it with cache. cache may be nil. It stops at the first class
// that cannot be placed and returns the number of classes restored so far.
func Restore(space *vm.ClassSpace, cache vm.ClassInfoCache, snap *Snapshot) (int, error) {
	if snap.Version != SnapshotVersion {
		return 0, fmt.Errorf("dist: restore %s: unsupported snapshot version %d", snap.ID, snap.Version)
	}
	if have := CodecConfigOf(space.Codec()); have != snap.Codec {
		return 0, fmt.Errorf("dist: restore %s: %w: snapshot has %s, space has %s", snap.ID, ErrCodecMismatch, snap.Codec, have)
	}

	for i, rec := range snap.Classes {
		if !rec.Kind.IsValid() {
			return i, fmt.Errorf("dist: restore %s: class %s has invalid kind %d", snap.ID, rec.Name, rec.Kind)
		}
		c := &vm.ClassDescriptor{
			Name:           rec.Name,
			ClassKind:      rec.Kind,
			Bootstrap:      rec.BootLoaded,
			ExtendedLayout: rec.ExtendedLayout,
		}
		if err := space.PlaceAt(c, vm.Address(rec.Address)); err != nil {
			return i, fmt.Errorf("dist: restore %s: %w", snap.ID, err)
		}
		if cache != nil {
			cache.Register(c)
		}
	}

	log.Noticef("restored %d classes from snapshot %s (%s)", len(snap.Classes), snap.ID, snap.Codec)
	return len(snap.Classes), nil
}
