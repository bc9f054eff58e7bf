// Package ordering computes the deterministic candidate order consensus
// rounds vote on, and resolves double-spend conflicts between concurrently
// created units.
package ordering

import (
	"sort"

	"qdag/dag"
)

// Engine turns a DAG snapshot into a total order. It holds no state: the
// same snapshot always yields the byte-identical sequence on every honest
// validator.
type Engine struct{}

func NewEngine() *Engine {
	return &Engine{}
}

// ComputeCandidateOrder runs a topological sort over the snapshot's
// unconfirmed units. Among units whose parents are all placed, the next pick
// is the one with the highest weight, breaking ties by ascending timestamp
// and then ascending id.
func (e *Engine) ComputeCandidateOrder(snap *dag.Snapshot) []string {
	units := snap.Units()
	if len(units) == 0 {
		return nil
	}

	// indegree counts only parents that are themselves unconfirmed; parents
	// outside the snapshot are already terminal and thus satisfied.
	indegree := make(map[string]int, len(units))
	dependents := make(map[string][]string, len(units))
	for id, u := range units {
		deg := 0
		for _, pid := range u.ParentIDs {
			if snap.Contains(pid) {
				deg++
				dependents[pid] = append(dependents[pid], id)
			}
		}
		indegree[id] = deg
	}

	ready := make([]string, 0, len(units))
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	less := func(a, b string) bool {
		wa, wb := snap.Weight(a), snap.Weight(b)
		if wa != wb {
			return wa > wb
		}
		ta, tb := units[a].Timestamp, units[b].Timestamp
		if ta != tb {
			return ta < tb
		}
		return a < b
	}

	order := make([]string, 0, len(units))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, child := range dependents[next] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}

	// Units left over reference unconfirmed parents that never became ready;
	// with acyclicity enforced on insert this cannot happen, but a truncated
	// order is preferable to a wedged round.
	return order
}
