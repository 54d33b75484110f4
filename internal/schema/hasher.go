package schema

import (
	"encoding/binary"

	"github.com/cespare/xxhash"

	"github.com/roach88/cpool/internal/ir"
)

// fold reduces a 64-bit hash to the 32 bits the immutable map uses.
func fold(h uint64) uint32 {
	return uint32(h ^ h>>32)
}

// dbNameHasher implements immutable.Hasher for database names.
type dbNameHasher struct{}

// Hash returns a hash for key.
func (h *dbNameHasher) Hash(key interface{}) uint32 {
	return fold(xxhash.Sum64String(key.(string)))
}

// Equal returns true if a is equal to b.
func (h *dbNameHasher) Equal(a, b interface{}) bool {
	return a.(string) == b.(string)
}

// clientIDHasher implements immutable.Hasher for client ids.
type clientIDHasher struct{}

// Hash returns a hash for key.
func (h *clientIDHasher) Hash(key interface{}) uint32 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key.(ir.ClientID)))
	return fold(xxhash.Sum64(buf[:]))
}

// Equal returns true if a is equal to b.
func (h *clientIDHasher) Equal(a, b interface{}) bool {
	return a.(ir.ClientID) == b.(ir.ClientID)
}
