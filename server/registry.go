package server

import (
	"encoding/binary"
	"sync"

	"github.com/minio/highwayhash"
)

const registryBuckets = 1024

// registryHashKey is a fixed, process-wide HighwayHash key. It only needs
// to distribute handles across buckets well; it is not a security
// boundary, so a static key (unlike a MAC use of HighwayHash) is fine.
var registryHashKey = [32]byte{
	0x0f, 0x1a, 0x2b, 0x3c, 0x4d, 0x5e, 0x6f, 0x70,
	0x81, 0x92, 0xa3, 0xb4, 0xc5, 0xd6, 0xe7, 0xf8,
	0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
	0x99, 0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00,
}

type registryNode struct {
	handle int
	conn   *Connection
	next   *registryNode
}

// registry is the Connection Registry of spec.md section 4.3: a
// fixed-bucket hash table indexed by a HighwayHash of the handle,
// collision chain per bucket, insert at head.
type registry struct {
	mu      sync.RWMutex
	buckets [registryBuckets]*registryNode
	count   int
}

func newRegistry() *registry {
	return &registry{}
}

func registryBucket(handle int) int {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(handle))
	sum := highwayhash.Sum64(b[:], registryHashKey[:])
	return int(sum % registryBuckets)
}

// insert adds conn under its handle. The Connection Registry never
// contains two entries with the same handle (spec.md section 3
// invariant); inserting an existing handle replaces it.
func (r *registry) insert(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := registryBucket(conn.handle)
	for n := r.buckets[b]; n != nil; n = n.next {
		if n.handle == conn.handle {
			n.conn = conn
			return
		}
	}
	r.buckets[b] = &registryNode{handle: conn.handle, conn: conn, next: r.buckets[b]}
	r.count++
}

func (r *registry) lookup(handle int) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b := registryBucket(handle)
	for n := r.buckets[b]; n != nil; n = n.next {
		if n.handle == handle {
			return n.conn
		}
	}
	return nil
}

// remove is idempotent: removing an already-absent handle is a no-op,
// matching the Reactor's idempotent-remove contract (spec.md section 4.1).
func (r *registry) remove(handle int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := registryBucket(handle)
	var prev *registryNode
	for n := r.buckets[b]; n != nil; n = n.next {
		if n.handle == handle {
			if prev == nil {
				r.buckets[b] = n.next
			} else {
				prev.next = n.next
			}
			r.count--
			return
		}
		prev = n
	}
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// rangeConns calls fn for every registered Connection. Used for orderly
// shutdown, grounded on the teacher's walk of its client maps on
// server shutdown.
func (r *registry) rangeConns(fn func(*Connection)) {
	r.mu.RLock()
	conns := make([]*Connection, 0, r.count)
	for _, b := range r.buckets {
		for n := b; n != nil; n = n.next {
			conns = append(conns, n.conn)
		}
	}
	r.mu.RUnlock()
	for _, c := range conns {
		fn(c)
	}
}
