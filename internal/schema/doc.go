// Package schema holds the worker's mirrored schema state.
//
// DatabaseState and ClientSchema are immutable value records. Databases and
// Cache are persistent maps built on github.com/benbjohnson/immutable: every
// Set or Delete returns a new map and leaves the receiver untouched, so a
// sync can build a complete replacement value before anyone observes it and
// untouched entries are shared between the old and new value.
//
// Nothing in this package performs I/O or locking. The owning worker is the
// only writer.
package schema
