package vm

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrClassSpaceExhausted is returned when every narrow class id is taken.
// Running out of class space is fatal for the VM.
var ErrClassSpaceExhausted = errors.New("class space exhausted")

// ErrClassAddressTaken is returned when placing a class at an address that
// already holds one.
var ErrClassAddressTaken = errors.New("class address already in use")

// ClassDescriptor is the class metadata record placed in a ClassSpace.
type ClassDescriptor struct {
	Name           string
	ClassKind      ClassKind
	Bootstrap      bool
	ExtendedLayout bool

	addr Address
}

// Address returns where the class was placed; NullAddress until placed.
func (c *ClassDescriptor) Address() Address { return c.addr }

// Kind returns the class kind.
func (c *ClassDescriptor) Kind() ClassKind { return c.ClassKind }

// BootLoaded reports whether the bootstrap loader defined the class.
func (c *ClassDescriptor) BootLoaded() bool { return c.Bootstrap }

// HasExtendedLayoutInfo reports whether instance layout details fit inline.
func (c *ClassDescriptor) HasExtendedLayoutInfo() bool { return c.ExtendedLayout }

func (c *ClassDescriptor) String() string {
	return fmt.Sprintf("%s (%s) @%#x", c.Name, c.ClassKind.ShortName(), uint64(c.addr))
}

// ClassSpace places class metadata records inside the encoding range of a
// codec, one codec granule per class, so every placed class has a distinct
// non-zero narrow class id. The first granule is never used: a class at the
// base would encode to the null class.
//
// Classes are never removed.
type ClassSpace struct {
	codec *ClassPointerCodec

	mu      sync.Mutex
	top     Address
	classes map[Address]*ClassDescriptor
}

// NewClassSpace creates an empty class space over codec's encoding range.
func NewClassSpace(codec *ClassPointerCodec) *ClassSpace {
	return &ClassSpace{
		codec:   codec,
		top:     codec.Base() + Address(codec.Alignment()),
		classes: make(map[Address]*ClassDescriptor),
	}
}

// Codec returns the codec the space was built for.
func (s *ClassSpace) Codec() *ClassPointerCodec { return s.codec }

// Capacity returns the number of classes the space can hold.
func (s *ClassSpace) Capacity() int {
	n := s.codec.EncodingRange() / s.granule()
	if n == 0 {
		return 0
	}
	return int(n) - 1
}

// Len returns the number of placed classes.
func (s *ClassSpace) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.classes)
}

// granule is the space taken by one class: one codec alignment unit, which
// is at least one narrow id step.
func (s *ClassSpace) granule() uint64 {
	return s.codec.Alignment()
}

// Define places a new class at the next free address.
func (s *ClassSpace) Define(name string, kind ClassKind, bootLoaded, extendedLayout bool) (*ClassDescriptor, error) {
	if !kind.IsValid() {
		return nil, fmt.Errorf("define %s: invalid class kind %d", name, kind)
	}
	c := &ClassDescriptor{Name: name, ClassKind: kind, Bootstrap: bootLoaded, ExtendedLayout: extendedLayout}

	s.mu.Lock()
	defer s.mu.Unlock()

	for s.top < s.codec.End() {
		addr := s.top
		s.top += Address(s.granule())
		if _, taken := s.classes[addr]; taken {
			continue
		}
		c.addr = addr
		s.classes[addr] = c
		spaceLog.Debugf("defined %s", c)
		return c, nil
	}
	spaceLog.Criticalf("class space exhausted after %d classes (%s)", len(s.classes), s.codec)
	return nil, fmt.Errorf("define %s: %w (%d classes)", name, ErrClassSpaceExhausted, len(s.classes))
}

// PlaceAt places c at addr, which must be a free, valid class address.
// Used when restoring classes from a snapshot.
func (s *ClassSpace) PlaceAt(c *ClassDescriptor, addr Address) error {
	if !s.codec.IsValidAddress(addr) || addr == s.codec.Base() {
		return fmt.Errorf("place %s: address %#x is not a valid class address (%s)", c.Name, uint64(addr), s.codec)
	}
	if !c.ClassKind.IsValid() {
		return fmt.Errorf("place %s: invalid class kind %d", c.Name, c.ClassKind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, taken := s.classes[addr]; taken {
		return fmt.Errorf("place %s at %#x: %w by %s", c.Name, uint64(addr), ErrClassAddressTaken, prev.Name)
	}
	c.addr = addr
	s.classes[addr] = c
	return nil
}

// ClassAt returns the class placed at addr.
func (s *ClassSpace) ClassAt(addr Address) (*ClassDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[addr]
	return c, ok
}

// Resolve decodes nk and returns the class placed there.
func (s *ClassSpace) Resolve(nk NarrowClass) (*ClassDescriptor, bool) {
	if nk == 0 {
		return nil, false
	}
	return s.ClassAt(s.codec.Decode(nk))
}

// Classes returns all placed classes ordered by address.
func (s *ClassSpace) Classes() []*ClassDescriptor {
	s.mu.Lock()
	out := make([]*ClassDescriptor, 0, len(s.classes))
	for _, c := range s.classes {
		out = append(out, c)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].addr < out[j].addr })
	return out
}
