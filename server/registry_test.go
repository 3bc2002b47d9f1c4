package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryInsertLookupRemove(t *testing.T) {
	r := newRegistry()
	c1 := &Connection{handle: 1}
	c2 := &Connection{handle: 2}

	r.insert(c1)
	r.insert(c2)
	assert.Equal(t, 2, r.size())

	got := r.lookup(1)
	require.NotNil(t, got)
	assert.Same(t, c1, got)

	r.remove(1)
	assert.Equal(t, 1, r.size())
	assert.Nil(t, r.lookup(1))

	// Idempotent remove.
	r.remove(1)
	assert.Equal(t, 1, r.size())
}

func TestRegistryInsertReplacesSameHandle(t *testing.T) {
	r := newRegistry()
	c1 := &Connection{handle: 5}
	c2 := &Connection{handle: 5}

	r.insert(c1)
	r.insert(c2)
	assert.Equal(t, 1, r.size())
	assert.Same(t, c2, r.lookup(5))
}

func TestRegistryCollisionChain(t *testing.T) {
	r := newRegistry()
	// Force two handles into the same bucket by finding a collision;
	// with 1024 buckets a brute scan always finds one quickly.
	b0 := registryBucket(1)
	var other int
	for h := 2; h < 100000; h++ {
		if registryBucket(h) == b0 {
			other = h
			break
		}
	}
	require.NotZero(t, other)

	c1 := &Connection{handle: 1}
	c2 := &Connection{handle: other}
	r.insert(c1)
	r.insert(c2)

	assert.Same(t, c1, r.lookup(1))
	assert.Same(t, c2, r.lookup(other))

	r.remove(1)
	assert.Nil(t, r.lookup(1))
	assert.Same(t, c2, r.lookup(other))
}

func TestRegistryRangeConns(t *testing.T) {
	r := newRegistry()
	for h := 1; h <= 5; h++ {
		r.insert(&Connection{handle: h})
	}
	seen := make(map[int]bool)
	r.rangeConns(func(c *Connection) {
		seen[c.handle] = true
	})
	assert.Len(t, seen, 5)
}
