package vm

import "fmt"

// ClassKind is the structural category of a class.
type ClassKind uint8

const (
	InstanceClassKind            ClassKind = iota // plain instances
	InstanceRefClassKind                          // reference objects (soft, weak, phantom)
	InstanceMirrorClassKind                       // class mirrors
	InstanceClassLoaderClassKind                  // class loader instances
	InstanceStackChunkClassKind                   // continuation stack chunks
	TypeArrayClassKind                            // primitive arrays
	ObjArrayClassKind                             // object arrays

	NumClassKinds = int(ObjArrayClassKind) + 1
)

var classKindShortNames = [NumClassKinds]string{
	InstanceClassKind:            "IK",
	InstanceRefClassKind:         "IRK",
	InstanceMirrorClassKind:      "IMK",
	InstanceClassLoaderClassKind: "ICLK",
	InstanceStackChunkClassKind:  "ISCK",
	TypeArrayClassKind:           "TAK",
	ObjArrayClassKind:            "OAK",
}

var classKindNames = [NumClassKinds]string{
	InstanceClassKind:            "instance",
	InstanceRefClassKind:         "reference instance",
	InstanceMirrorClassKind:      "mirror instance",
	InstanceClassLoaderClassKind: "class loader instance",
	InstanceStackChunkClassKind:  "stack chunk instance",
	TypeArrayClassKind:           "primitive array",
	ObjArrayClassKind:            "object array",
}

// IsValid reports whether k is one of the known kinds.
func (k ClassKind) IsValid() bool {
	return int(k) < NumClassKinds
}

// IsInstance reports whether k describes instances (not arrays).
func (k ClassKind) IsInstance() bool {
	return k <= InstanceStackChunkClassKind
}

// IsArray reports whether k describes arrays.
func (k ClassKind) IsArray() bool {
	return k == TypeArrayClassKind || k == ObjArrayClassKind
}

// ShortName returns the abbreviation used in statistics output.
func (k ClassKind) ShortName() string {
	if !k.IsValid() {
		return fmt.Sprintf("K%d", uint8(k))
	}
	return classKindShortNames[k]
}

func (k ClassKind) String() string {
	if !k.IsValid() {
		return fmt.Sprintf("ClassKind(%d)", uint8(k))
	}
	return classKindNames[k]
}

// ParseClassKind accepts either the short name or the long name of a kind.
func ParseClassKind(s string) (ClassKind, error) {
	for i := 0; i < NumClassKinds; i++ {
		if s == classKindShortNames[i] || s == classKindNames[i] {
			return ClassKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown class kind %q", s)
}

// ClassMetadata is the authoritative view of a class that the cache
// summarizes.
type ClassMetadata interface {
	// Address is where the metadata lives; it must be encodable by the
	// codec in use.
	Address() Address
	Kind() ClassKind
	// BootLoaded reports whether the bootstrap loader defined the class.
	BootLoaded() bool
	// HasExtendedLayoutInfo reports whether per-instance layout details
	// fit inline in a cache entry.
	HasExtendedLayoutInfo() bool
}
