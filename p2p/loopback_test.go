package p2p

import (
	"context"
	"testing"

	"qdag/consensus"
	"qdag/unit"
)

func TestLoopbackExcludesSender(t *testing.T) {
	bus := NewLoopback()
	got := make(map[string][]string)

	peers := map[string]*LoopbackPeer{}
	for _, id := range []string{"a", "b", "c"} {
		id := id
		p := bus.Join(id)
		p.SetCallbacks(
			func(u *unit.Unit) { got[id] = append(got[id], "unit:"+u.ID) },
			func(prop *consensus.Proposal) { got[id] = append(got[id], "proposal") },
			func(v *consensus.Vote) { got[id] = append(got[id], "vote") },
		)
		peers[id] = p
	}

	ctx := context.Background()
	if err := peers["a"].BroadcastUnit(ctx, &unit.Unit{ID: "u1"}); err != nil {
		t.Fatal(err)
	}

	if len(got["a"]) != 0 {
		t.Fatalf("sender received its own broadcast: %v", got["a"])
	}
	for _, id := range []string{"b", "c"} {
		if len(got[id]) != 1 || got[id][0] != "unit:u1" {
			t.Fatalf("peer %s received %v", id, got[id])
		}
	}
}

func TestLoopbackAllKinds(t *testing.T) {
	bus := NewLoopback()
	sender := bus.Join("sender")

	var kinds []string
	receiver := bus.Join("receiver")
	receiver.SetCallbacks(
		func(u *unit.Unit) { kinds = append(kinds, KindUnit) },
		func(p *consensus.Proposal) { kinds = append(kinds, KindProposal) },
		func(v *consensus.Vote) { kinds = append(kinds, KindVote) },
	)

	ctx := context.Background()
	sender.BroadcastUnit(ctx, &unit.Unit{ID: "u1"})
	sender.BroadcastProposal(ctx, &consensus.Proposal{RoundID: 1})
	sender.BroadcastVote(ctx, &consensus.Vote{RoundID: 1})

	want := []string{KindUnit, KindProposal, KindVote}
	if len(kinds) != 3 {
		t.Fatalf("received %v", kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("received %v, want %v", kinds, want)
		}
	}
}

func TestLoopbackNoCallbacks(t *testing.T) {
	bus := NewLoopback()
	sender := bus.Join("sender")
	bus.Join("silent")

	// a peer without callbacks must not panic the broadcast path
	if err := sender.BroadcastUnit(context.Background(), &unit.Unit{ID: "u1"}); err != nil {
		t.Fatal(err)
	}
}
