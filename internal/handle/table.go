// Package handle maps the 32-bit ids carried inside encoded records to the
// Go objects they stand for.
//
// Records are plain bytes, so they cannot hold pointers that the garbage
// collector would track. Every object a record refers to is stored in a
// Table first and the record carries the id instead. The producer inserts,
// the executor looks up and removes, so the table is internally locked;
// keys are spread over shards to keep the two sides off each other's mutex.
package handle

import (
	"errors"
	"sync"
	"sync/atomic"
)

const (
	// ShardCount is the number of shards. Must be a power of 2.
	ShardCount = 16

	shardMask = ShardCount - 1

	// DefaultLimit is the default maximum number of live entries.
	DefaultLimit = 1 << 16
)

// ErrTableFull is returned when the table already tracks its maximum number
// of live entries.
var ErrTableFull = errors.New("handle: too many live objects")

// None is the reserved id meaning "no object". Insert never returns it.
const None uint32 = 0

// Table is a thread-safe sharded map from id to object.
type Table[V any] struct {
	shards [ShardCount]*shard[V]
	next   atomic.Uint32
	live   atomic.Int64
	limit  int64

	// Statistics.
	inserts atomic.Uint64
	removes atomic.Uint64
	misses  atomic.Uint64
}

type shard[V any] struct {
	mu      sync.RWMutex
	entries map[uint32]V
}

// Stats is a snapshot of table counters.
type Stats struct {
	Live    int64
	Inserts uint64
	Removes uint64
	Misses  uint64
}

// New creates a table that holds at most limit live entries.
// If limit <= 0, DefaultLimit is used.
func New[V any](limit int) *Table[V] {
	if limit <= 0 {
		limit = DefaultLimit
	}
	t := &Table[V]{limit: int64(limit)}
	for i := range t.shards {
		t.shards[i] = &shard[V]{entries: make(map[uint32]V)}
	}
	return t
}

func (t *Table[V]) shard(id uint32) *shard[V] {
	return t.shards[id&shardMask]
}

// Insert stores v under a fresh id.
func (t *Table[V]) Insert(v V) (uint32, error) {
	id, err := t.Allocate()
	if err != nil {
		return None, err
	}
	t.Store(id, v)
	return id, nil
}

// Allocate reserves a fresh id and counts it as live. The caller must
// follow up with Store, or Cancel if the object could not be built.
func (t *Table[V]) Allocate() (uint32, error) {
	if t.live.Add(1) > t.limit {
		t.live.Add(-1)
		return None, ErrTableFull
	}
	id := t.next.Add(1)
	for id == None {
		id = t.next.Add(1)
	}
	return id, nil
}

// Cancel returns an id obtained from Allocate that was never stored.
func (t *Table[V]) Cancel(uint32) {
	t.live.Add(-1)
}

// Store sets the object for an id obtained from Allocate.
func (t *Table[V]) Store(id uint32, v V) {
	s := t.shard(id)
	s.mu.Lock()
	s.entries[id] = v
	s.mu.Unlock()
	t.inserts.Add(1)
}

// Get returns the object stored under id.
func (t *Table[V]) Get(id uint32) (V, bool) {
	s := t.shard(id)
	s.mu.RLock()
	v, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		t.misses.Add(1)
	}
	return v, ok
}

// Remove deletes id and returns the object that was stored under it.
func (t *Table[V]) Remove(id uint32) (V, bool) {
	s := t.shard(id)
	s.mu.Lock()
	v, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	s.mu.Unlock()
	if !ok {
		t.misses.Add(1)
		return v, false
	}
	t.live.Add(-1)
	t.removes.Add(1)
	return v, true
}

// Len returns the number of live entries.
func (t *Table[V]) Len() int {
	return int(t.live.Load())
}

// Range calls fn for every entry until fn returns false. Entries inserted or
// removed concurrently may or may not be visited.
func (t *Table[V]) Range(fn func(id uint32, v V) bool) {
	for _, s := range t.shards {
		s.mu.RLock()
		ids := make([]uint32, 0, len(s.entries))
		vals := make([]V, 0, len(s.entries))
		for id, v := range s.entries {
			ids = append(ids, id)
			vals = append(vals, v)
		}
		s.mu.RUnlock()
		for i := range ids {
			if !fn(ids[i], vals[i]) {
				return
			}
		}
	}
}

// Stats returns a snapshot of the table counters.
func (t *Table[V]) Stats() Stats {
	return Stats{
		Live:    t.live.Load(),
		Inserts: t.inserts.Load(),
		Removes: t.removes.Load(),
		Misses:  t.misses.Load(),
	}
}
