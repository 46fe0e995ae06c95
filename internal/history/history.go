// Package history maintains bounded per-customer transaction history for
// sliding-window feature derivation.
//
// Records are kept in arrival order, not timestamp order: a backfilled
// transaction lands at the end of the log and window filters compare
// timestamps against the scoring transaction's timestamp. Pruning runs on
// every write and keeps the 60 most recent days relative to the appended
// record, so an inactive customer's stale entries persist until their next
// transaction.
package history

import (
	"sync"
	"sync/atomic"
	"time"
)

// RetentionWindow bounds how far back per-customer history is kept.
const RetentionWindow = 60 * 24 * time.Hour

// Record is a single past transaction. Immutable once appended; only
// removed by pruning.
type Record struct {
	Timestamp time.Time
	Amount    float64
	Direction string
}

// Store owns all per-customer transaction logs. All access goes through
// Get/Append; the underlying maps are never exposed.
type Store struct {
	logs      sync.Map // map[int64]*customerLog
	customers atomic.Int64
}

type customerLog struct {
	mu      sync.Mutex
	records []Record
}

// NewStore creates an empty history store.
func NewStore() *Store {
	return &Store{}
}

// Seed warm-starts the store from a pre-built history mapping, typically
// shipped inside the model bundle. Replaces any existing log per customer.
func (s *Store) Seed(histories map[int64][]Record) {
	for id, records := range histories {
		log := s.getLog(id)
		log.mu.Lock()
		log.records = append([]Record(nil), records...)
		log.mu.Unlock()
	}
}

// Get returns a copy of the customer's transaction log in arrival order.
// Unknown customers get an empty slice; Get never fails.
func (s *Store) Get(customerID int64) []Record {
	v, ok := s.logs.Load(customerID)
	if !ok {
		return nil
	}
	log := v.(*customerLog)
	log.mu.Lock()
	defer log.mu.Unlock()
	return append([]Record(nil), log.records...)
}

// Append adds a record to the customer's log, then prunes everything older
// than the new record's timestamp minus the retention window. Always
// succeeds, including for a brand-new customer.
func (s *Store) Append(customerID int64, rec Record) {
	log := s.getLog(customerID)
	log.mu.Lock()
	defer log.mu.Unlock()

	log.records = append(log.records, rec)

	// Filter the whole log rather than trimming a prefix: arrival order can
	// diverge from timestamp order, so old entries are not necessarily first.
	cutoff := rec.Timestamp.Add(-RetentionWindow)
	kept := log.records[:0]
	for _, r := range log.records {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	log.records = kept
}

// Customers returns the number of customers with a history log.
func (s *Store) Customers() int {
	return int(s.customers.Load())
}

func (s *Store) getLog(customerID int64) *customerLog {
	v, loaded := s.logs.LoadOrStore(customerID, &customerLog{})
	if !loaded {
		s.customers.Add(1)
	}
	return v.(*customerLog)
}
