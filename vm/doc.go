// Package vm implements the object header layer of the object model.
//
// This package contains:
//   - Header word layout and transformers (classic and compact layouts)
//   - Compressed class pointer encoding
//   - The class info cache indexed by narrow class id
//   - A class space that hands out encodable class addresses
//
// Header transformers are pure: they return a new HeaderWord and never touch
// the object. Publishing a new word is the caller's job (see ObjectHeader).
//
// Precondition checks are compiled in by default and panic on violation.
// Building with the objmodel_release tag removes them; a violated
// precondition is then undefined behavior.
package vm
