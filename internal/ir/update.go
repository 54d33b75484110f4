package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// UpdateKind is the instruction carried by an Update.
type UpdateKind uint8

const (
	// Unchanged leaves the current value in place. It is the zero value, so
	// a field missing from the wire decodes to Unchanged.
	Unchanged UpdateKind = iota
	// Removed asks for the current value to be dropped.
	Removed
	// Replaced carries a new value.
	Replaced
)

// String returns the lower-case name of the kind.
func (k UpdateKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Removed:
		return "removed"
	case Replaced:
		return "replaced"
	default:
		return fmt.Sprintf("UpdateKind(%d)", uint8(k))
	}
}

// Update is a tri-state field instruction: Unchanged, Removed or Replaced(v).
//
// On the wire an absent key is Unchanged, an explicit JSON null is Removed
// and any other value is Replaced. Fields of type Update must be tagged
// `omitzero` so that Unchanged round-trips as an absent key.
type Update[T any] struct {
	kind  UpdateKind
	value T
}

// Keep returns an Unchanged update.
func Keep[T any]() Update[T] {
	return Update[T]{}
}

// Remove returns a Removed update.
func Remove[T any]() Update[T] {
	return Update[T]{kind: Removed}
}

// Replace returns a Replaced update carrying v.
func Replace[T any](v T) Update[T] {
	return Update[T]{kind: Replaced, value: v}
}

// Kind returns the instruction.
func (u Update[T]) Kind() UpdateKind {
	return u.kind
}

// Value returns the carried value and true for Replaced updates.
func (u Update[T]) Value() (T, bool) {
	if u.kind != Replaced {
		var zero T
		return zero, false
	}
	return u.value, true
}

// IsZero reports whether u is Unchanged. Used by encoding/json for omitzero.
func (u Update[T]) IsZero() bool {
	return u.kind == Unchanged
}

// MarshalJSON encodes Removed as null and Replaced as the value.
// Unchanged should be omitted by the enclosing struct; if it is not, it
// is encoded as null as well, which is the closest lossy form.
func (u Update[T]) MarshalJSON() ([]byte, error) {
	if u.kind != Replaced {
		return []byte("null"), nil
	}
	return json.Marshal(u.value)
}

// UnmarshalJSON decodes null as Removed and anything else as Replaced.
func (u *Update[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*u = Remove[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*u = Replace(v)
	return nil
}

// String renders the update for logs.
func (u Update[T]) String() string {
	if u.kind == Replaced {
		return fmt.Sprintf("replaced(%v)", u.value)
	}
	return u.kind.String()
}
