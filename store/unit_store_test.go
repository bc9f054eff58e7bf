package store

import (
	"fmt"
	"testing"

	"github.com/holiman/uint256"

	"qdag/db"
	"qdag/types"
	"qdag/unit"
)

func storedUnit(id string) *unit.Unit {
	return &unit.Unit{
		ID:        id,
		ParentIDs: []string{"parent-1"},
		Creator:   "validator-1",
		Timestamp: 1724800000000,
		Tx: &types.Transaction{
			Type:      types.TxTypeTransfer,
			Sender:    "sender-" + id,
			Recipient: "recipient",
			Amount:    uint256.NewInt(5),
			Nonce:     1,
		},
	}
}

func TestPutGetUnit(t *testing.T) {
	s, err := NewUnitStore(db.NewMemoryProvider())
	if err != nil {
		t.Fatal(err)
	}

	u := storedUnit("u1")
	if err := s.PutUnit(u, types.FinalityPending); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetUnit("u1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != u.ID || got.Tx.Sender != u.Tx.Sender {
		t.Fatalf("got = %+v", got)
	}

	if ok, _ := s.Has("u1"); !ok {
		t.Fatal("Has(u1) = false")
	}
	if missing, err := s.GetUnit("u2"); err != nil || missing != nil {
		t.Fatalf("absent unit = %+v, err %v", missing, err)
	}
}

func TestStateTransitions(t *testing.T) {
	s, err := NewUnitStore(db.NewMemoryProvider())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.PutUnit(storedUnit("u1"), types.FinalityPending); err != nil {
		t.Fatal(err)
	}

	state, found, err := s.GetState("u1")
	if err != nil || !found || state != types.FinalityPending {
		t.Fatalf("state = (%v, %t, %v)", state, found, err)
	}

	if err := s.PutState("u1", types.FinalityFinalized); err != nil {
		t.Fatal(err)
	}
	state, found, err = s.GetState("u1")
	if err != nil || !found || state != types.FinalityFinalized {
		t.Fatalf("state after update = (%v, %t, %v)", state, found, err)
	}

	if _, found, _ := s.GetState("u2"); found {
		t.Fatal("state found for unknown unit")
	}
}

func TestIterateUnits(t *testing.T) {
	s, err := NewUnitStore(db.NewMemoryProvider())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("u%d", i)
		state := types.FinalityPending
		if i%2 == 0 {
			state = types.FinalityFinalized
		}
		if err := s.PutUnit(storedUnit(id), state); err != nil {
			t.Fatal(err)
		}
	}

	seen := map[string]types.FinalityState{}
	if err := s.IterateUnits(func(u *unit.Unit, state types.FinalityState) bool {
		seen[u.ID] = state
		return true
	}); err != nil {
		t.Fatal(err)
	}
	if len(seen) != 5 {
		t.Fatalf("visited %d units", len(seen))
	}
	if seen["u0"] != types.FinalityFinalized || seen["u1"] != types.FinalityPending {
		t.Fatalf("states = %v", seen)
	}
}

func TestIterateStopsEarly(t *testing.T) {
	s, err := NewUnitStore(db.NewMemoryProvider())
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		if err := s.PutUnit(storedUnit(fmt.Sprintf("u%d", i)), types.FinalityPending); err != nil {
			t.Fatal(err)
		}
	}

	visited := 0
	s.IterateUnits(func(u *unit.Unit, state types.FinalityState) bool {
		visited++
		return visited < 2
	})
	if visited != 2 {
		t.Fatalf("visited = %d, want 2", visited)
	}
}
