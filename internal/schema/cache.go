package schema

import (
	"sort"

	"github.com/benbjohnson/immutable"

	"github.com/roach88/cpool/internal/ir"
)

// Cache is the worker's schema cache: client id to ClientSchema.
//
// Cache is a persistent value. Put and Delete return a new Cache; the
// receiver keeps describing the state before the change. The zero value is
// an empty cache.
type Cache struct {
	m *immutable.Map
}

// Get returns the schema cached for id.
func (c Cache) Get(id ir.ClientID) (ClientSchema, bool) {
	if c.m == nil {
		return ClientSchema{}, false
	}
	v, ok := c.m.Get(id)
	if !ok {
		return ClientSchema{}, false
	}
	return v.(ClientSchema), true
}

// Put returns a cache with schema installed for id, replacing any
// previous entry wholesale.
func (c Cache) Put(id ir.ClientID, schema ClientSchema) Cache {
	m := c.m
	if m == nil {
		m = immutable.NewMap(&clientIDHasher{})
	}
	return Cache{m: m.Set(id, schema)}
}

// Delete returns a cache without an entry for id. Deleting an absent id
// returns the receiver unchanged.
func (c Cache) Delete(id ir.ClientID) Cache {
	if _, ok := c.Get(id); !ok {
		return c
	}
	return Cache{m: c.m.Delete(id)}
}

// Len returns the number of cached clients.
func (c Cache) Len() int {
	if c.m == nil {
		return 0
	}
	return c.m.Len()
}

// ClientIDs returns the cached client ids in ascending order.
func (c Cache) ClientIDs() []ir.ClientID {
	ids := make([]ir.ClientID, 0, c.Len())
	if c.m == nil {
		return ids
	}
	itr := c.m.Iterator()
	for !itr.Done() {
		k, _ := itr.Next()
		ids = append(ids, k.(ir.ClientID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
