// Package poolstate implements the in-memory Pool State Store (spec
// section 4.7): the most recent reserves per AMM pool, updated only
// forward in slot order, guarded by a single short-held mutex per the
// locking discipline in spec section 5.
package poolstate

import (
	"sync"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// State is one pool's latest known reserves.
type State struct {
	PoolAddress string
	Mint        string
	Slot        uint64
	Reserves    wire.ReservesSnapshot
	PoolOpen    bool
}

// Store is the single owner of pool reserve state; other components hold
// only pool addresses and call Get, never mutate directly (spec section 5
// resource table: "Pool State Store | single task").
type Store struct {
	mu     sync.Mutex
	states map[string]State
}

func New() *Store {
	return &Store{states: make(map[string]State)}
}

// Upsert applies a new observation. It is a no-op if slot is not strictly
// greater than the cached slot for this pool (spec section 4.7:
// "never overwrite with a lower slot"; testable property 3: slots for a
// given pool_address strictly increase).
func (s *Store) Upsert(next State) (applied bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.states[next.PoolAddress]
	if ok && next.Slot <= cur.Slot {
		return false
	}
	s.states[next.PoolAddress] = next
	return true
}

// Get returns a consistent-slot snapshot for a pool, used for synchronous
// price recovery of AMM trades whose event carries no reserves (spec
// section 4.7).
func (s *Store) Get(poolAddress string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[poolAddress]
	return st, ok
}

// PoolCount reports how many distinct pools are currently cached, for
// the operator stats box (internal/metrics.PoolCountFunc).
func (s *Store) PoolCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}
