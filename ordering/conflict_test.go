package ordering

import (
	"testing"

	"qdag/dag"
	"qdag/types"
	"qdag/unit"
)

// conflictPair builds two units spending the same (sender, nonce) to
// different recipients, both attached directly under genesis.
func conflictPair(t *testing.T, s *dag.Store, genesisID string) (*unit.Unit, *unit.Unit) {
	t.Helper()
	a := rawUnit("spend-a", "double-spender", 9, 10, genesisID)
	b := rawUnit("spend-b", "double-spender", 9, 11, genesisID)
	b.Tx.Recipient = "other-recipient"
	addAll(t, s, a, b)
	return a, b
}

func TestTrackDetectsConflict(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)

	if st := r.Track(a); st.Conflicts {
		t.Fatalf("first spend flagged against %s", st.With)
	}
	st := r.Track(b)
	if !st.Conflicts || st.With != a.ID {
		t.Fatalf("second spend status = %+v, want conflict with %s", st, a.ID)
	}

	// both siblings stay live until one wins a consensus round
	for _, id := range []string{a.ID, b.ID} {
		if state, _ := s.Status(id); state != types.FinalityPending {
			t.Fatalf("state(%s) = %v, want Pending", id, state)
		}
	}
}

func TestTrackIgnoresIdenticalPayload(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)

	a := rawUnit("dup-a", "sender", 3, 10, genesis.ID)
	b := rawUnit("dup-b", "sender", 3, 11, genesis.ID)
	addAll(t, s, a, b)

	r.Track(a)
	if st := r.Track(b); st.Conflicts {
		t.Fatal("identical payload in two units reported as double spend")
	}
}

// Two spends of one slot that agree on everything except the timestamp are
// still rivals: only one of them may ever finalize.
func TestTrackDetectsTimestampOnlyConflict(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)

	a := rawUnit("ts-a", "double-spender", 7, 10, genesis.ID)
	b := rawUnit("ts-b", "double-spender", 7, 11, genesis.ID)
	a.Tx.Timestamp = 1000
	b.Tx.Timestamp = 2000
	addAll(t, s, a, b)

	r.Track(a)
	st := r.Track(b)
	if !st.Conflicts || st.With != a.ID {
		t.Fatalf("status = %+v, want conflict with %s", st, a.ID)
	}

	if err := s.MarkFinalized(a.ID); err != nil {
		t.Fatal(err)
	}
	rejected := r.OnFinalized(a)
	if len(rejected) != 1 || rejected[0] != b.ID {
		t.Fatalf("rejected = %v, want [%s]", rejected, b.ID)
	}
	if winner, lost := r.LostToFinalized(b); !lost || winner != a.ID {
		t.Fatalf("settlement = (%s, %t), want (%s, true)", winner, lost, a.ID)
	}
}

func TestLosersDoesNotMutate(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)
	r.Track(a)
	r.Track(b)

	losers := r.Losers(a)
	if len(losers) != 1 || losers[0] != b.ID {
		t.Fatalf("Losers = %v, want [%s]", losers, b.ID)
	}
	if state, _ := s.Status(b.ID); state != types.FinalityPending {
		t.Fatalf("Losers mutated state of %s to %v", b.ID, state)
	}
}

func TestOnFinalizedRejectsLoser(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)
	r.Track(a)
	r.Track(b)

	if err := s.MarkFinalized(a.ID); err != nil {
		t.Fatal(err)
	}
	rejected := r.OnFinalized(a)
	if len(rejected) != 1 || rejected[0] != b.ID {
		t.Fatalf("rejected = %v, want [%s]", rejected, b.ID)
	}
	if state, _ := s.Status(b.ID); state != types.FinalityRejected {
		t.Fatalf("loser state = %v, want Rejected", state)
	}

	// settling is idempotent once the loser is terminal
	if again := r.OnFinalized(a); len(again) != 0 {
		t.Fatalf("second settle rejected %v", again)
	}
}

func TestCheckAfterLoserRejected(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)
	r.Track(a)
	r.Track(b)

	if err := s.MarkFinalized(a.ID); err != nil {
		t.Fatal(err)
	}
	r.OnFinalized(a)

	// a third spend of the same slot conflicts with the finalized winner,
	// not the rejected loser
	c := rawUnit("spend-c", "double-spender", 9, 12, genesis.ID)
	c.Tx.Recipient = "third-recipient"
	addAll(t, s, c)
	st := r.Check(c)
	if !st.Conflicts || st.With != a.ID {
		t.Fatalf("status = %+v, want conflict with winner %s", st, a.ID)
	}
}

// A double spend arriving after its rival already won a round is settled
// immediately; the winner stays indexed after finalization to make that
// possible.
func TestLostToFinalized(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)
	r.Track(a)
	r.Track(b)

	if _, lost := r.LostToFinalized(b); lost {
		t.Fatal("pending rivalry reported as settled")
	}

	if err := s.MarkFinalized(a.ID); err != nil {
		t.Fatal(err)
	}
	r.OnFinalized(a)
	if lb, ok := s.Status(b.ID); !ok || lb != types.FinalityRejected {
		t.Fatalf("loser state = %v", lb)
	}

	c := rawUnit("spend-c", "double-spender", 9, 12, genesis.ID)
	c.Tx.Recipient = "third-recipient"
	addAll(t, s, c)
	r.Track(c)
	winner, lost := r.LostToFinalized(c)
	if !lost || winner != a.ID {
		t.Fatalf("late sibling settlement = (%s, %t), want (%s, true)", winner, lost, a.ID)
	}

	// the winner itself is never its own loser
	if _, lost := r.LostToFinalized(a); lost {
		t.Fatal("winner reported as having lost")
	}
}

func TestForgetDropsIndexEntry(t *testing.T) {
	genesis := unit.Genesis("qdag-test")
	s := dag.NewStore(genesis, 2)
	r := NewResolver(s)
	a, b := conflictPair(t, s, genesis.ID)
	r.Track(a)
	r.Track(b)

	if err := s.MarkFinalized(a.ID); err != nil {
		t.Fatal(err)
	}
	r.OnFinalized(a)
	r.Forget(a)
	r.Forget(b)

	c := rawUnit("spend-c", "double-spender", 9, 12, genesis.ID)
	c.Tx.Recipient = "third-recipient"
	addAll(t, s, c)
	if st := r.Check(c); st.Conflicts {
		t.Fatalf("forgotten slot still reports conflict with %s", st.With)
	}
}
