package dist

import (
	"crypto/sha256"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/objmodel/vm"
)

// cborEncMode uses canonical mode so equal snapshots encode to equal bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dist: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalSnapshot serializes a Snapshot to CBOR bytes.
func MarshalSnapshot(s *Snapshot) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalSnapshot deserializes a Snapshot from CBOR bytes.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("dist: unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("dist: unmarshal snapshot: unsupported version %d", s.Version)
	}
	return &s, nil
}

// SnapshotDigest returns the SHA-256 of the snapshot's canonical encoding.
func SnapshotDigest(s *Snapshot) ([32]byte, error) {
	data, err := MarshalSnapshot(s)
	if err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(data), nil
}

// MarshalStatistics serializes class info cache statistics to CBOR bytes.
func MarshalStatistics(s vm.CacheStatistics) ([]byte, error) {
	return cborEncMode.Marshal(s)
}

// UnmarshalStatistics deserializes class info cache statistics.
func UnmarshalStatistics(data []byte) (vm.CacheStatistics, error) {
	var s vm.CacheStatistics
	if err := cbor.Unmarshal(data, &s); err != nil {
		return vm.CacheStatistics{}, fmt.Errorf("dist: unmarshal statistics: %w", err)
	}
	return s, nil
}
