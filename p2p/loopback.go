package p2p

import (
	"context"
	"sync"

	"qdag/consensus"
	"qdag/unit"
)

// Loopback is an in-process transport connecting a set of nodes directly,
// used by single-node deployments and integration tests. Delivery is
// synchronous fan-out to every registered peer except the sender.
type Loopback struct {
	mu    sync.RWMutex
	peers map[string]*LoopbackPeer
}

// LoopbackPeer is one node's endpoint on a Loopback transport.
type LoopbackPeer struct {
	id         string
	bus        *Loopback
	onUnit     func(*unit.Unit)
	onProposal func(*consensus.Proposal)
	onVote     func(*consensus.Vote)
}

func NewLoopback() *Loopback {
	return &Loopback{peers: make(map[string]*LoopbackPeer)}
}

// Join registers a node on the transport and returns its endpoint.
func (l *Loopback) Join(id string) *LoopbackPeer {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := &LoopbackPeer{id: id, bus: l}
	l.peers[id] = p
	return p
}

func (l *Loopback) each(sender string, fn func(*LoopbackPeer)) {
	l.mu.RLock()
	peers := make([]*LoopbackPeer, 0, len(l.peers))
	for id, p := range l.peers {
		if id != sender {
			peers = append(peers, p)
		}
	}
	l.mu.RUnlock()
	for _, p := range peers {
		fn(p)
	}
}

// SetCallbacks mirrors Network.SetCallbacks.
func (p *LoopbackPeer) SetCallbacks(onUnit func(*unit.Unit), onProposal func(*consensus.Proposal), onVote func(*consensus.Vote)) {
	p.onUnit = onUnit
	p.onProposal = onProposal
	p.onVote = onVote
}

// BroadcastUnit delivers a unit to every other peer.
func (p *LoopbackPeer) BroadcastUnit(ctx context.Context, u *unit.Unit) error {
	p.bus.each(p.id, func(peer *LoopbackPeer) {
		if peer.onUnit != nil {
			peer.onUnit(u)
		}
	})
	return nil
}

// BroadcastProposal implements consensus.Broadcaster.
func (p *LoopbackPeer) BroadcastProposal(ctx context.Context, prop *consensus.Proposal) error {
	p.bus.each(p.id, func(peer *LoopbackPeer) {
		if peer.onProposal != nil {
			peer.onProposal(prop)
		}
	})
	return nil
}

// BroadcastVote implements consensus.Broadcaster.
func (p *LoopbackPeer) BroadcastVote(ctx context.Context, v *consensus.Vote) error {
	p.bus.each(p.id, func(peer *LoopbackPeer) {
		if peer.onVote != nil {
			peer.onVote(v)
		}
	})
	return nil
}
