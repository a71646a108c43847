package vm

import (
	"errors"
	"sync/atomic"
)

// ErrInflating is returned by ObjectHeader.Update when the header holds the
// inflating word. The caller must come back later; it must not retry
// through the busy word.
var ErrInflating = errors.New("header is being inflated")

// ObjectHeader is the header slot of one object. Words are published with
// atomic stores and compare-and-swap so header transformers can be applied
// concurrently.
type ObjectHeader struct {
	format HeaderFormat
	word   atomic.Uint64
}

// NewObjectHeader returns a header slot holding format's prototype word.
func NewObjectHeader(format HeaderFormat) *ObjectHeader {
	h := &ObjectHeader{format: format}
	h.word.Store(format.Prototype().Value())
	return h
}

// NewObjectHeaderWithClass returns a compact header slot holding the
// prototype word with nk embedded.
func NewObjectHeaderWithClass(format HeaderFormat, nk NarrowClass) *ObjectHeader {
	h := &ObjectHeader{format: format}
	h.word.Store(format.Prototype().SetNarrowClass(nk).Value())
	return h
}

// Format returns the header layout.
func (h *ObjectHeader) Format() HeaderFormat { return h.format }

// Load reads the current word.
func (h *ObjectHeader) Load() HeaderWord {
	return h.format.Word(h.word.Load())
}

// Install unconditionally stores w.
func (h *ObjectHeader) Install(w HeaderWord) {
	assertf(w.Format() == h.format, "Install: word format %s, header format %s", w.Format(), h.format)
	h.word.Store(w.Value())
}

// CompareAndSwap installs next if the header still holds old.
func (h *ObjectHeader) CompareAndSwap(old, next HeaderWord) bool {
	assertf(next.Format() == h.format, "CompareAndSwap: word format %s, header format %s", next.Format(), h.format)
	return h.word.CompareAndSwap(old.Value(), next.Value())
}

// Update applies fn to the current word and installs the result, retrying
// while other writers win the race. It returns the installed word. If the
// header holds the inflating word, Update returns ErrInflating without
// calling fn.
func (h *ObjectHeader) Update(fn func(HeaderWord) HeaderWord) (HeaderWord, error) {
	for {
		cur := h.Load()
		if cur.IsBeingInflated() {
			return cur, ErrInflating
		}
		next := fn(cur)
		if h.CompareAndSwap(cur, next) {
			return next, nil
		}
	}
}
