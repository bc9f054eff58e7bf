package ordering

import (
	"math/rand"
	"testing"

	"github.com/holiman/uint256"

	"qdag/dag"
	"qdag/types"
	"qdag/unit"
)

func rawUnit(id, sender string, nonce, ts uint64, parents ...string) *unit.Unit {
	return &unit.Unit{
		ID:        id,
		ParentIDs: parents,
		Creator:   "validator-1",
		Timestamp: ts,
		Tx: &types.Transaction{
			Type:      types.TxTypeTransfer,
			Sender:    sender,
			Recipient: "recipient",
			Amount:    uint256.NewInt(1),
			Nonce:     nonce,
		},
	}
}

func TestCandidateOrderRespectsParents(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	addAll(t, s,
		rawUnit("a", "s1", 1, 1, genesis.ID),
		rawUnit("b", "s2", 1, 2, "a"),
		rawUnit("c", "s3", 1, 3, "b"),
	)

	order := NewEngine().ComputeCandidateOrder(s.Snapshot())
	pos := position(order)
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Fatalf("order violates ancestry: %v", order)
	}
}

// The same snapshot must yield the byte-identical sequence no matter which
// insertion history produced it.
func TestCandidateOrderDeterministic(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	build := func(perm []int) []string {
		s := dag.NewStore(genesis, 4)
		units := []*unit.Unit{
			rawUnit("u1", "s1", 1, 10, genesis.ID),
			rawUnit("u2", "s2", 1, 11, genesis.ID),
			rawUnit("u3", "s3", 1, 12, "u1"),
			rawUnit("u4", "s4", 1, 13, "u1", "u2"),
			rawUnit("u5", "s5", 1, 14, "u3", "u4"),
		}
		// insertion must stay parents-first, so only reorder independent ones
		addAll(t, s, units[0], units[1])
		if perm[0] == 0 {
			addAll(t, s, units[2], units[3])
		} else {
			addAll(t, s, units[3], units[2])
		}
		addAll(t, s, units[4])
		return NewEngine().ComputeCandidateOrder(s.Snapshot())
	}

	first := build([]int{0})
	second := build([]int{1})
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %v vs %v", first, second)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("insertion history leaked into order:\n%v\n%v", first, second)
		}
	}
}

func TestCandidateOrderPrefersWeight(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	// heavy gets two descendants, light none; both directly under genesis
	addAll(t, s,
		rawUnit("heavy", "s1", 1, 10, genesis.ID),
		rawUnit("light", "s2", 1, 5, genesis.ID),
		rawUnit("child1", "s3", 1, 11, "heavy"),
		rawUnit("child2", "s4", 1, 12, "heavy"),
	)

	order := NewEngine().ComputeCandidateOrder(s.Snapshot())
	pos := position(order)
	if pos["heavy"] > pos["light"] {
		t.Fatalf("heavier unit ordered later: %v", order)
	}
}

func TestCandidateOrderCoversSnapshot(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 4)
	rng := rand.New(rand.NewSource(42))
	ids := []string{}
	prev := genesis.ID
	for i := 0; i < 20; i++ {
		id := idFor(i)
		addAll(t, s, rawUnit(id, "s"+id, uint64(i), uint64(i), prev))
		ids = append(ids, id)
		if rng.Intn(2) == 0 {
			prev = id
		}
	}

	order := NewEngine().ComputeCandidateOrder(s.Snapshot())
	if len(order) != len(ids) {
		t.Fatalf("order covers %d of %d units", len(order), len(ids))
	}
}

func TestCandidateOrderEmptySnapshot(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	if order := NewEngine().ComputeCandidateOrder(s.Snapshot()); len(order) != 0 {
		t.Fatalf("empty DAG produced order %v", order)
	}
}

func idFor(i int) string {
	return "unit-" + string(rune('a'+i/10)) + string(rune('0'+i%10))
}

func position(order []string) map[string]int {
	pos := make(map[string]int, len(order))
	for i, id := range order {
		pos[id] = i
	}
	return pos
}

func addAll(t *testing.T, s *dag.Store, units ...*unit.Unit) {
	t.Helper()
	for _, u := range units {
		if _, err := s.AddUnit(u); err != nil {
			t.Fatalf("AddUnit(%s): %v", u.ID, err)
		}
	}
}
