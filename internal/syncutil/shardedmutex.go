// Package syncutil provides concurrency helpers shared across the service.
package syncutil

import "sync"

// ShardedMutex provides a fixed-size pool of mutexes keyed by customer id.
// Unlike a map of per-id locks, this uses bounded memory regardless of how
// many customers are seen, at the cost of occasional false sharing between
// ids that land in the same shard.
type ShardedMutex struct {
	shards [256]sync.Mutex
}

// Lock acquires the mutex for the given customer id and returns an unlock
// function.
func (s *ShardedMutex) Lock(customerID int64) func() {
	mu := &s.shards[uint64(customerID)%uint64(len(s.shards))]
	mu.Lock()
	return mu.Unlock
}
