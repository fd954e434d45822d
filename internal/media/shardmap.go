package media

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// ShardedMap is a concurrent string-keyed map split across a fixed number of
// shards, each guarded by its own RWMutex. It is the Go substitute for the
// concurrent-map-with-per-key-locking primitive this codebase's reference
// stack gets from a DashMap. The Room Manager's room registry holds one; the
// Transcription Engine and the WS Fanout registry use a plain map behind a
// single mutex instead.
type ShardedMap[V any] struct {
	shards [shardCount]shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// NewShardedMap creates an empty ShardedMap.
func NewShardedMap[V any]() *ShardedMap[V] {
	sm := &ShardedMap[V]{}
	for i := range sm.shards {
		sm.shards[i].m = make(map[string]V)
	}
	return sm
}

func (sm *ShardedMap[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &sm.shards[h.Sum32()%shardCount]
}

// Get returns the value for key and whether it was present.
func (sm *ShardedMap[V]) Get(key string) (V, bool) {
	s := sm.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value for key, overwriting any existing entry.
func (sm *ShardedMap[V]) Set(key string, value V) {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// SetIfAbsent stores value for key only if key is not already present.
// Returns false if key was already present (value left unchanged).
func (sm *ShardedMap[V]) SetIfAbsent(key string, value V) bool {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[key]; ok {
		return false
	}
	s.m[key] = value
	return true
}

// Delete removes key, returning the removed value and whether it existed.
func (sm *ShardedMap[V]) Delete(key string) (V, bool) {
	s := sm.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.m[key]
	if ok {
		delete(s.m, key)
	}
	return v, ok
}

// Len returns the total number of entries across all shards.
func (sm *ShardedMap[V]) Len() int {
	total := 0
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		total += len(sm.shards[i].m)
		sm.shards[i].mu.RUnlock()
	}
	return total
}

// Keys returns a snapshot of all keys across all shards.
func (sm *ShardedMap[V]) Keys() []string {
	var keys []string
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		for k := range sm.shards[i].m {
			keys = append(keys, k)
		}
		sm.shards[i].mu.RUnlock()
	}
	return keys
}

// Range calls fn for every entry. fn must not call back into the map.
func (sm *ShardedMap[V]) Range(fn func(key string, value V)) {
	for i := range sm.shards {
		sm.shards[i].mu.RLock()
		for k, v := range sm.shards[i].m {
			fn(k, v)
		}
		sm.shards[i].mu.RUnlock()
	}
}
