package dag

import (
	"sort"

	"qdag/types"
)

// SelectParents picks up to k parent candidates for a new unit. Preference:
// higher cumulative weight, then younger creation timestamp, then
// lexicographic id. The ranking uses only replicated state, so every replay
// over the same DAG picks the same parents.
func (s *Store) SelectParents(k int) []string {
	if k <= 0 || k > s.maxParents {
		k = s.maxParents
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates := make([]string, 0, len(s.tips))
	for id := range s.tips {
		if s.nodes[id].state == types.FinalityRejected {
			continue
		}
		candidates = append(candidates, id)
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := s.nodes[candidates[i]], s.nodes[candidates[j]]
		if a.weight != b.weight {
			return a.weight > b.weight
		}
		if a.unit.Timestamp != b.unit.Timestamp {
			return a.unit.Timestamp > b.unit.Timestamp
		}
		return candidates[i] < candidates[j]
	})

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
