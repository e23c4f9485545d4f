package flow

import (
	"sort"
	"sync"

	uuid "github.com/satori/go.uuid"
	"github.com/samber/lo"
	"go.uber.org/atomic"
)

// DefaultMaxFlows is the soft cap used when a Store is built with M <= 0.
const DefaultMaxFlows = 10_000

// Store is a bounded, queryable in-memory flow recorder. All operations
// serialize under a single mutex; at this scale read-heavy usage is
// acceptable without finer-grained locking.
type Store struct {
	mu    sync.Mutex
	max   int
	flows map[uuid.UUID]*Flow
	size  atomic.Int64
}

// NewStore builds a Store capped at max flows (DefaultMaxFlows if max <= 0).
func NewStore(max int) *Store {
	if max <= 0 {
		max = DefaultMaxFlows
	}
	return &Store{
		max:   max,
		flows: make(map[uuid.UUID]*Flow),
	}
}

// Store records flow, evicting the oldest entries by Timestamp if the
// store now exceeds its soft cap. The stored copy is independent of the
// caller's flow.
func (s *Store) Store(f *Flow) {
	if f == nil {
		return
	}
	stored := f.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.flows[stored.ID] = stored
	s.size.Store(int64(len(s.flows)))

	if over := len(s.flows) - s.max; over > 0 {
		s.evictOldestLocked(over)
		s.size.Store(int64(len(s.flows)))
	}
}

// evictOldestLocked removes the n oldest entries by Timestamp. Callers
// must hold s.mu.
func (s *Store) evictOldestLocked(n int) {
	if n <= 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(s.flows))
	for id := range s.flows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.flows[ids[i]].Timestamp.Before(s.flows[ids[j]].Timestamp)
	})
	for _, id := range ids[:n] {
		delete(s.flows, id)
	}
}

// Get returns the flow with the given id, if present.
func (s *Store) Get(id uuid.UUID) (*Flow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.flows[id]
	if !ok {
		return nil, false
	}
	return f.Clone(), true
}

// Query returns flows matching pred, newest first, capped at limit
// entries. limit <= 0 means unlimited.
func (s *Store) Query(pred func(*Flow) bool, limit int) []*Flow {
	s.mu.Lock()
	all := make([]*Flow, 0, len(s.flows))
	for _, f := range s.flows {
		all = append(all, f)
	}
	s.mu.Unlock()

	if pred != nil {
		all = lo.Filter(all, func(f *Flow, _ int) bool { return pred(f) })
	}

	sort.Slice(all, func(i, j int) bool {
		return all[i].Timestamp.After(all[j].Timestamp)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	return lo.Map(all, func(f *Flow, _ int) *Flow { return f.Clone() })
}

// Len returns the current number of stored flows.
func (s *Store) Len() int {
	return int(s.size.Load())
}
