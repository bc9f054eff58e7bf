// Package dag maintains the in-memory graph of units: arena storage,
// ancestor sets, incremental cumulative weights, tip tracking and finality
// transitions. All mutation is serialized behind a single writer lock;
// consensus rounds read copy-on-read snapshots instead of holding the lock.
package dag

import (
	"fmt"
	"sync"

	"qdag/errors"
	"qdag/logx"
	"qdag/types"
	"qdag/unit"
)

type node struct {
	unit *unit.Unit
	// ancestors is the transitive parent closure, excluding the node itself.
	// Cycle detection is a membership test here, never a graph walk.
	ancestors map[string]struct{}
	children  []string
	// weight is 1 + the number of distinct known descendants. Mutable until
	// the node is finalized.
	weight uint64
	state  types.FinalityState
}

// Store is the arena of units indexed by id.
type Store struct {
	mu         sync.RWMutex
	nodes      map[string]*node
	tips       map[string]struct{}
	genesisID  string
	maxParents int
}

// NewStore creates a DAG seeded with the deterministic genesis unit, which
// starts out finalized so the first real units have a valid parent.
func NewStore(genesis *unit.Unit, maxParents int) *Store {
	if maxParents <= 0 {
		maxParents = 2
	}
	s := &Store{
		nodes:      make(map[string]*node),
		tips:       make(map[string]struct{}),
		genesisID:  genesis.ID,
		maxParents: maxParents,
	}
	s.nodes[genesis.ID] = &node{
		unit:      genesis,
		ancestors: make(map[string]struct{}),
		weight:    1,
		state:     types.FinalityFinalized,
	}
	s.tips[genesis.ID] = struct{}{}
	return s
}

// GenesisID returns the id of the shared root unit.
func (s *Store) GenesisID() string {
	return s.genesisID
}

// MaxParents returns the parent fan-in limit for new units.
func (s *Store) MaxParents() int {
	return s.maxParents
}

// AddUnit inserts a verified unit. It fails with UnknownParent, DuplicateUnit
// or CycleDetected; the cycle check runs against ancestor sets inside the
// writer lock, before any state is touched.
func (s *Store) AddUnit(u *unit.Unit) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.nodes[u.ID]; exists {
		return "", errors.NewError(errors.ErrCodeDuplicateUnit, fmt.Sprintf("unit %s already in DAG", u.ID))
	}

	ancestors := make(map[string]struct{})
	for _, pid := range u.ParentIDs {
		parent, ok := s.nodes[pid]
		if !ok {
			return "", errors.NewError(errors.ErrCodeUnknownParent, fmt.Sprintf("parent %s not in DAG", pid))
		}
		if parent.state == types.FinalityRejected {
			return "", errors.NewError(errors.ErrCodeUnknownParent, fmt.Sprintf("parent %s was rejected", pid))
		}
		ancestors[pid] = struct{}{}
		for aid := range parent.ancestors {
			ancestors[aid] = struct{}{}
		}
	}
	if _, cyclic := ancestors[u.ID]; cyclic {
		return "", errors.NewError(errors.ErrCodeCycleDetected, fmt.Sprintf("unit %s is its own ancestor", u.ID))
	}

	n := &node{
		unit:      u,
		ancestors: ancestors,
		weight:    1,
		state:     types.FinalityPending,
	}
	s.nodes[u.ID] = n

	// Incremental backward weight propagation: the new unit is one fresh
	// descendant of every ancestor. Finalized weights are frozen.
	for aid := range ancestors {
		anc := s.nodes[aid]
		if anc.state != types.FinalityFinalized {
			anc.weight++
		}
	}
	for _, pid := range u.ParentIDs {
		s.nodes[pid].children = append(s.nodes[pid].children, u.ID)
		delete(s.tips, pid)
	}
	s.tips[u.ID] = struct{}{}

	return u.ID, nil
}

// Has reports whether the unit is known.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Unit returns the immutable unit by id.
func (s *Store) Unit(id string) (*unit.Unit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}
	return n.unit, true
}

// Status returns the finality state of a unit. Unknown ids report Rejected
// so callers never treat an unknown unit as live.
func (s *Store) Status(id string) (types.FinalityState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return types.FinalityRejected, false
	}
	return n.state, true
}

// Weight returns the current cumulative weight of a unit.
func (s *Store) Weight(id string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return 0
	}
	return n.weight
}

// Ancestors returns a copy of the transitive ancestor set of id.
func (s *Store) Ancestors(id string) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, errors.NewError(errors.ErrCodeUnknownParent, fmt.Sprintf("unit %s not in DAG", id))
	}
	out := make(map[string]struct{}, len(n.ancestors))
	for aid := range n.ancestors {
		out[aid] = struct{}{}
	}
	return out, nil
}

// MarkOrdered moves Pending units into Ordered after candidate placement.
// Terminal states are untouched.
func (s *Store) MarkOrdered(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if n, ok := s.nodes[id]; ok && n.state == types.FinalityPending {
			n.state = types.FinalityOrdered
		}
	}
}

// MarkFinalized transitions a unit into Finalized, freezing its weight.
// Finalizing a rejected unit is refused: Rejected is terminal.
func (s *Store) MarkFinalized(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return errors.NewError(errors.ErrCodeUnknownParent, fmt.Sprintf("unit %s not in DAG", id))
	}
	switch n.state {
	case types.FinalityFinalized:
		return nil
	case types.FinalityRejected:
		return errors.NewError(errors.ErrCodeUnitFinalized, fmt.Sprintf("unit %s is rejected, cannot finalize", id))
	}
	n.state = types.FinalityFinalized
	return nil
}

// MarkRejected transitions a unit into Rejected. Finalized units are
// immutable and never demoted.
func (s *Store) MarkRejected(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return errors.NewError(errors.ErrCodeUnknownParent, fmt.Sprintf("unit %s not in DAG", id))
	}
	switch n.state {
	case types.FinalityRejected:
		return nil
	case types.FinalityFinalized:
		return errors.NewError(errors.ErrCodeUnitFinalized, fmt.Sprintf("unit %s is finalized, cannot reject", id))
	}
	n.state = types.FinalityRejected
	logx.Info("DAG", "Unit rejected: ", n.unit.ID)
	return nil
}

// PendingCount returns the number of non-terminal units.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, n := range s.nodes {
		if !n.state.Terminal() {
			count++
		}
	}
	return count
}

// TipCount returns the current number of tips.
func (s *Store) TipCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tips)
}

// Size returns the total number of stored units including genesis.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}
