package schema

import (
	"encoding/binary"

	"github.com/cespare/xxhash"

	"github.com/roach88/cpool/internal/ir"
)

// DatabaseState is one database's mirrored schema and configuration.
// All three payloads are opaque blobs owned by the compiler engine.
type DatabaseState struct {
	Name            string
	UserSchema      ir.Blob
	ReflectionCache ir.Blob
	DatabaseConfig  ir.Blob
}

// NewDatabaseState builds a complete database record.
func NewDatabaseState(name string, userSchema, reflectionCache, databaseConfig ir.Blob) DatabaseState {
	return DatabaseState{
		Name:            name,
		UserSchema:      userSchema,
		ReflectionCache: reflectionCache,
		DatabaseConfig:  databaseConfig,
	}
}

// Equal reports value equality of two records.
func (s DatabaseState) Equal(other DatabaseState) bool {
	return s.Name == other.Name &&
		s.UserSchema.Equal(other.UserSchema) &&
		s.ReflectionCache.Equal(other.ReflectionCache) &&
		s.DatabaseConfig.Equal(other.DatabaseConfig)
}

// Fingerprint is a cheap 64-bit summary of the record, used in logs and
// journal entries to tell database versions apart without printing payloads.
// Each field is length-prefixed so that moving bytes between fields changes
// the result.
func (s DatabaseState) Fingerprint() uint64 {
	d := xxhash.New()
	var n [8]byte
	for _, part := range [][]byte{[]byte(s.Name), s.UserSchema, s.ReflectionCache, s.DatabaseConfig} {
		binary.LittleEndian.PutUint64(n[:], uint64(len(part)))
		d.Write(n[:])
		d.Write(part)
	}
	return d.Sum64()
}

// ClientSchema is everything the worker mirrors for one client.
type ClientSchema struct {
	DBs            Databases
	GlobalSchema   ir.Blob
	InstanceConfig ir.Blob
}

// Database returns the named database's state.
func (c ClientSchema) Database(name string) (DatabaseState, bool) {
	return c.DBs.Get(name)
}

// Equal reports value equality, comparing databases by content.
func (c ClientSchema) Equal(other ClientSchema) bool {
	return c.GlobalSchema.Equal(other.GlobalSchema) &&
		c.InstanceConfig.Equal(other.InstanceConfig) &&
		c.DBs.Equal(other.DBs)
}
