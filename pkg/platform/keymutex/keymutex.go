// Package keymutex provides per-key locking over a fixed set of shards.
// It serializes read-modify-write sequences on storage keys without a
// global lock: keys hash to one of N mutexes, so operations on different
// keys almost never contend while operations on the same key always do.
package keymutex

import "sync"

const shardCount = 64

// KeyMutex distributes locks across shardCount mutexes keyed by a string.
type KeyMutex struct {
	shards [shardCount]sync.Mutex
}

// New creates a KeyMutex.
func New() *KeyMutex {
	return &KeyMutex{}
}

// Lock acquires the lock guarding key's shard.
func (m *KeyMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock guarding key's shard.
func (m *KeyMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

func (m *KeyMutex) shardFor(key string) int {
	return int(fnv32(key) % uint32(shardCount))
}

// fnv32 is the FNV-1a hash, inlined to keep the hot path allocation-free.
func fnv32(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}
