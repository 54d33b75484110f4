package engine

import "github.com/google/uuid"

// UUIDv7Generator generates time-sortable run ids, so journal runs list in
// start order.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (g UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
