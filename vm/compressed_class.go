package vm

import (
	"errors"
	"fmt"
)

// Address is the address of a class metadata record (or of any other
// word-aligned VM structure kept in a header word).
type Address uint64

// NullAddress is the null metadata address.
const NullAddress Address = 0

// NarrowClass is a compressed class pointer. 0 is the null class.
type NarrowClass uint32

// Codec limits.
const (
	MaxClassPointerBits  = 32
	MaxClassPointerShift = 10

	// minClassAlignmentLog is the log2 of the minimum class alignment
	// (always at least 64-bit aligned).
	minClassAlignmentLog = 3
)

// ErrInvalidCodecConfig is returned for a codec configuration that can never
// encode a class.
var ErrInvalidCodecConfig = errors.New("invalid class pointer codec configuration")

// ClassPointerCodec converts between class metadata addresses and narrow
// class ids:
//
//	narrow  = (address - base) >> shift
//	address = base + narrow << shift
//
// The configuration is fixed at construction; a codec may be shared between
// goroutines without synchronization.
type ClassPointerCodec struct {
	base  Address
	shift uint
	bits  uint
}

// NewClassPointerCodec validates and returns a codec.
func NewClassPointerCodec(base Address, shift, bits uint) (*ClassPointerCodec, error) {
	if bits == 0 || bits > MaxClassPointerBits {
		return nil, fmt.Errorf("%w: bits %d not in [1, %d]", ErrInvalidCodecConfig, bits, MaxClassPointerBits)
	}
	if shift > MaxClassPointerShift {
		return nil, fmt.Errorf("%w: shift %d exceeds %d", ErrInvalidCodecConfig, shift, MaxClassPointerShift)
	}
	c := &ClassPointerCodec{base: base, shift: shift, bits: bits}
	if uint64(base)%c.Alignment() != 0 {
		return nil, fmt.Errorf("%w: base %#x not aligned to %d", ErrInvalidCodecConfig, uint64(base), c.Alignment())
	}
	if uint64(base)+c.EncodingRange() < uint64(base) {
		return nil, fmt.Errorf("%w: encoding range at base %#x overflows the address space", ErrInvalidCodecConfig, uint64(base))
	}
	return c, nil
}

// MustClassPointerCodec is like NewClassPointerCodec but panics on error.
func MustClassPointerCodec(base Address, shift, bits uint) *ClassPointerCodec {
	c, err := NewClassPointerCodec(base, shift, bits)
	if err != nil {
		panic(err)
	}
	return c
}

// Base returns the encoding base.
func (c *ClassPointerCodec) Base() Address { return c.base }

// Shift returns the encoding shift.
func (c *ClassPointerCodec) Shift() uint { return c.shift }

// Bits returns the width of a narrow class id.
func (c *ClassPointerCodec) Bits() uint { return c.bits }

// EncodingRange returns the number of bytes addressable from the base.
func (c *ClassPointerCodec) EncodingRange() uint64 {
	return uint64(1) << (c.bits + c.shift)
}

// End returns the first address past the encoding range.
func (c *ClassPointerCodec) End() Address {
	return c.base + Address(c.EncodingRange())
}

// Alignment returns the required alignment of a class address,
// max(8, 2^shift).
func (c *ClassPointerCodec) Alignment() uint64 {
	return uint64(1) << max(uint(minClassAlignmentLog), c.shift)
}

// MaxNarrowClass returns the largest narrow class id.
func (c *ClassPointerCodec) MaxNarrowClass() NarrowClass {
	return NarrowClass(uint64(1)<<c.bits - 1)
}

// IsValidAddress reports whether addr is aligned and inside the encoding
// range.
func (c *ClassPointerCodec) IsValidAddress(addr Address) bool {
	return addr >= c.base && addr < c.End() && uint64(addr)%c.Alignment() == 0
}

// Encode compresses addr. The null address encodes to 0.
func (c *ClassPointerCodec) Encode(addr Address) NarrowClass {
	if addr == NullAddress {
		return 0
	}
	c.checkValidAddress(addr)
	nk := NarrowClass((addr - c.base) >> c.shift)
	assertf(nk != 0, "Encode: class address %#x encodes to the null class", uint64(addr))
	assertf(c.Decode(nk) == addr, "Encode: class address %#x does not round-trip", uint64(addr))
	return nk
}

// EncodeClass compresses the address of k. A nil class encodes to 0.
func (c *ClassPointerCodec) EncodeClass(k ClassMetadata) NarrowClass {
	if k == nil {
		return 0
	}
	return c.Encode(k.Address())
}

// Decode expands nk. The null class decodes to the null address.
func (c *ClassPointerCodec) Decode(nk NarrowClass) Address {
	if nk == 0 {
		return NullAddress
	}
	assertf(uint64(nk)>>c.bits == 0, "Decode: narrow class %d spills over %d bits", nk, c.bits)
	return c.base + Address(nk)<<c.shift
}

func (c *ClassPointerCodec) checkValidAddress(addr Address) {
	if !assertionsEnabled {
		return
	}
	assertf(uint64(addr)%c.Alignment() == 0,
		"class address %#x not properly aligned to %d", uint64(addr), c.Alignment())
	assertf(addr >= c.base && addr < c.End(),
		"class address %#x falls outside of the valid encoding range [%#x-%#x)",
		uint64(addr), uint64(c.base), uint64(c.End()))
}

func (c *ClassPointerCodec) String() string {
	return fmt.Sprintf("base=%#x shift=%d bits=%d", uint64(c.base), c.shift, c.bits)
}
