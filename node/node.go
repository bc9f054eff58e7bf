// Package node assembles the ledger: storage, DAG, mempool, verifier,
// consensus coordinator and transport, and exposes the public operations the
// RPC layer serves.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"qdag/config"
	"qdag/consensus"
	"qdag/dag"
	"qdag/db"
	"qdag/events"
	"qdag/exception"
	"qdag/hybridsig"
	"qdag/logx"
	"qdag/mempool"
	"qdag/monitoring"
	"qdag/ordering"
	"qdag/registry"
	"qdag/store"
	"qdag/types"
	"qdag/unit"
	"qdag/verifier"
)

// Transport is the broadcast surface the node needs from the network layer.
// The libp2p network and the in-process loopback both satisfy it.
type Transport interface {
	BroadcastUnit(ctx context.Context, u *unit.Unit) error
	BroadcastProposal(ctx context.Context, p *consensus.Proposal) error
	BroadcastVote(ctx context.Context, v *consensus.Vote) error
	SetCallbacks(onUnit func(*unit.Unit), onProposal func(*consensus.Proposal), onVote func(*consensus.Vote))
}

const (
	defaultBuilderInterval = 200 * time.Millisecond
	defaultBuildBatch      = 64
	ingestQueueSize        = 1024
)

// Node is one validator process.
type Node struct {
	selfID  string
	privKey *hybridsig.PrivateKey

	reg         *registry.Registry
	dagStore    *dag.Store
	resolver    *ordering.Resolver
	verifier    *verifier.UnitVerifier
	mempool     *mempool.Mempool
	units       *store.UnitStore
	finlog      *store.FinalizedLog
	bus         *events.EventBus
	coordinator *consensus.Coordinator
	transport   Transport
	genesis     *unit.Unit

	mu      sync.RWMutex
	txIndex map[string]string // tx hash -> unit id

	ingestCh chan *unit.Unit
	orphans  *orphanBuffer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Options collects the tunables a Node needs beyond its dependencies.
type Options struct {
	Genesis   *config.GenesisConfig
	Consensus config.ConsensusConfig
	Verifier  config.VerifierConfig
	Mempool   config.MempoolConfig
}

// New wires a node from its dependencies and recovers persisted state. The
// node is inert until Start.
func New(selfID string, privKey *hybridsig.PrivateKey, provider db.Provider, transport Transport, opts Options) (*Node, error) {
	reg, err := registry.FromGenesis(opts.Genesis)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	genesis := unit.Genesis(opts.Genesis.ChainID)
	dagStore := dag.NewStore(genesis, opts.Genesis.MaxParents)
	resolver := ordering.NewResolver(dagStore)

	units, err := store.NewUnitStore(provider)
	if err != nil {
		return nil, err
	}
	finlog, err := store.OpenFinalizedLog(provider)
	if err != nil {
		return nil, fmt.Errorf("finalized log unusable: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		selfID:    selfID,
		privKey:   privKey,
		reg:       reg,
		dagStore:  dagStore,
		resolver:  resolver,
		verifier:  verifier.New(opts.Verifier.WorkerCount),
		mempool:   mempool.NewMempool(opts.Mempool.MaxTxs),
		units:     units,
		finlog:    finlog,
		bus:       events.NewEventBus(),
		transport: transport,
		genesis:   genesis,
		txIndex:   make(map[string]string),
		ingestCh:  make(chan *unit.Unit, ingestQueueSize),
		orphans:   newOrphanBuffer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	n.coordinator = consensus.NewCoordinator(
		selfID, privKey.Classical, reg, dagStore, resolver,
		units, finlog, n.bus, transport, n.mempool, opts.Consensus,
	)

	if err := n.recover(); err != nil {
		cancel()
		return nil, err
	}
	return n, nil
}

// recover rebuilds the in-memory DAG from the unit store. Units are inserted
// parents-first, then the persisted finality states are replayed on top.
func (n *Node) recover() error {
	pending := make(map[string]*unit.Unit)
	states := make(map[string]types.FinalityState)
	err := n.units.IterateUnits(func(u *unit.Unit, state types.FinalityState) bool {
		if u.ID == n.genesis.ID {
			return true
		}
		pending[u.ID] = u
		states[u.ID] = state
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to scan unit store: %w", err)
	}

	inserted := 0
	for len(pending) > 0 {
		progressed := false
		for id, u := range pending {
			satisfied := true
			for _, pid := range u.ParentIDs {
				if !n.dagStore.Has(pid) {
					satisfied = false
					break
				}
			}
			if !satisfied {
				continue
			}
			if _, err := n.dagStore.AddUnit(u); err != nil {
				logx.Error("NODE", "Recovery skipped unit ", id, ": ", err)
			} else {
				inserted++
			}
			delete(pending, id)
			progressed = true
		}
		if !progressed {
			for id := range pending {
				logx.Error("NODE", "Recovery dropped unit with unresolvable parents: ", id)
			}
			break
		}
	}

	for id, state := range states {
		u, ok := n.dagStore.Unit(id)
		if !ok {
			continue
		}
		n.indexTx(u)
		switch state {
		case types.FinalityFinalized:
			if err := n.dagStore.MarkFinalized(id); err != nil {
				logx.Error("NODE", "Recovery failed to finalize ", id, ": ", err)
			}
			// finalized winners stay in the conflict index so late-arriving
			// double spends of their slot are settled on sight
			n.resolver.Track(u)
		case types.FinalityRejected:
			if err := n.dagStore.MarkRejected(id); err != nil {
				logx.Error("NODE", "Recovery failed to reject ", id, ": ", err)
			}
		default:
			n.resolver.Track(u)
		}
	}
	if inserted > 0 {
		logx.Info("NODE", fmt.Sprintf("Recovered %d units, finalized height %d", inserted, n.finlog.NextOffset()))
	}
	monitoring.SetFinalizedHeight(n.finlog.NextOffset())
	monitoring.SetPendingUnits(n.dagStore.PendingCount())
	monitoring.SetTipCount(n.dagStore.TipCount())
	return nil
}

// Start spawns the worker loops. A fatal consensus halt cancels the node
// context, observable through Done.
func (n *Node) Start() {
	n.transport.SetCallbacks(n.onRemoteUnit, n.coordinator.HandleProposal, n.coordinator.HandleVote)

	n.wg.Add(1)
	exception.SafeGo("NodeIngest", func() {
		defer n.wg.Done()
		n.ingestLoop(n.ctx)
	})

	n.wg.Add(1)
	exception.SafeGo("NodeBuilder", func() {
		defer n.wg.Done()
		n.builderLoop(n.ctx)
	})

	n.wg.Add(1)
	exception.SafeGo("NodeConsensus", func() {
		defer n.wg.Done()
		if err := n.coordinator.Start(n.ctx); err != nil && n.ctx.Err() == nil {
			logx.Error("NODE", "Consensus halted, stopping node: ", err)
			n.cancel()
		}
	})

	logx.Info("NODE", fmt.Sprintf("Node started: self=%s chain=%s", n.selfID, n.genesis.Creator))
}

// Stop shuts down the worker loops and waits for them.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()
	logx.Info("NODE", "Node stopped")
}

// Done closes when the node has shut down or halted.
func (n *Node) Done() <-chan struct{} {
	return n.ctx.Done()
}

// Registry exposes the validator registry, used by the transport to verify
// envelope senders.
func (n *Node) Registry() *registry.Registry {
	return n.reg
}

// EventBus exposes the node's event stream for RPC subscriptions.
func (n *Node) EventBus() *events.EventBus {
	return n.bus
}

// GenesisID returns the id of the chain's root unit.
func (n *Node) GenesisID() string {
	return n.genesis.ID
}

func (n *Node) indexTx(u *unit.Unit) {
	n.mu.Lock()
	n.txIndex[u.Tx.Hash()] = u.ID
	n.mu.Unlock()
}
