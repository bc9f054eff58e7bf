package dag

import (
	"qdag/types"
	"qdag/unit"
)

// Snapshot is an immutable copy of the non-terminal portion of the DAG taken
// at round start. Round computation works entirely on the snapshot so it is
// never blocked by concurrent ingestion.
type Snapshot struct {
	units   map[string]*unit.Unit
	weights map[string]uint64
	// known contains every id present in the full DAG at snapshot time,
	// terminal units included, so parent references can be resolved.
	known map[string]struct{}
}

// Snapshot copies the pending and ordered units together with their weights.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		units:   make(map[string]*unit.Unit),
		weights: make(map[string]uint64),
		known:   make(map[string]struct{}, len(s.nodes)),
	}
	for id, n := range s.nodes {
		snap.known[id] = struct{}{}
		if n.state == types.FinalityPending || n.state == types.FinalityOrdered {
			snap.units[id] = n.unit
			snap.weights[id] = n.weight
		}
	}
	return snap
}

// Units returns the snapshot's unconfirmed units keyed by id.
func (snap *Snapshot) Units() map[string]*unit.Unit {
	return snap.units
}

// Weight returns the frozen weight of a snapshot unit.
func (snap *Snapshot) Weight(id string) uint64 {
	return snap.weights[id]
}

// Contains reports whether id was unconfirmed at snapshot time.
func (snap *Snapshot) Contains(id string) bool {
	_, ok := snap.units[id]
	return ok
}

// Resolved reports whether a parent reference is satisfied: either the
// parent is part of the snapshot or it was already terminal then.
func (snap *Snapshot) Resolved(id string) bool {
	_, ok := snap.known[id]
	return ok
}

// Len returns the number of unconfirmed units in the snapshot.
func (snap *Snapshot) Len() int {
	return len(snap.units)
}
