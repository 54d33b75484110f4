package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cpool/internal/ir"
)

func testClientSchema() ClientSchema {
	return ClientSchema{
		DBs:            NewDatabases(shopState()),
		GlobalSchema:   ir.Blob("G"),
		InstanceConfig: ir.Blob("I"),
	}
}

func TestCacheZeroValue(t *testing.T) {
	var c Cache
	assert.Equal(t, 0, c.Len())
	assert.Empty(t, c.ClientIDs())
	_, ok := c.Get(7)
	assert.False(t, ok)
}

func TestCachePutGet(t *testing.T) {
	var c Cache
	c2 := c.Put(7, testClientSchema())

	assert.Equal(t, 0, c.Len(), "receiver must be unchanged")
	require.Equal(t, 1, c2.Len())

	got, ok := c2.Get(7)
	require.True(t, ok)
	assert.True(t, got.Equal(testClientSchema()))
}

func TestCachePutReplacesWholesale(t *testing.T) {
	c := Cache{}.Put(7, testClientSchema())

	replacement := ClientSchema{GlobalSchema: ir.Blob("G2"), InstanceConfig: ir.Blob("I2")}
	c = c.Put(7, replacement)

	got, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, 0, got.DBs.Len())
	assert.Equal(t, ir.Blob("G2"), got.GlobalSchema)
}

func TestCacheDeleteIdempotent(t *testing.T) {
	c := Cache{}.Put(7, testClientSchema()).Put(3, testClientSchema())

	c = c.Delete(7)
	assert.Equal(t, []ir.ClientID{3}, c.ClientIDs())

	again := c.Delete(7)
	assert.Equal(t, []ir.ClientID{3}, again.ClientIDs())

	never := again.Delete(99)
	assert.Equal(t, []ir.ClientID{3}, never.ClientIDs())
}

func TestCacheClientIDsSorted(t *testing.T) {
	var c Cache
	for _, id := range []ir.ClientID{42, -1, 7, 3} {
		c = c.Put(id, testClientSchema())
	}
	assert.Equal(t, []ir.ClientID{-1, 3, 7, 42}, c.ClientIDs())
}
