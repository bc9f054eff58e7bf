package consensus

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"time"

	"qdag/config"
	"qdag/dag"
	"qdag/errors"
	"qdag/events"
	"qdag/logx"
	"qdag/monitoring"
	"qdag/ordering"
	"qdag/registry"
	"qdag/store"
	"qdag/types"
)

// TxReleaser frees per-transaction bookkeeping once a unit reaches a
// terminal state. The mempool implements it.
type TxReleaser interface {
	Forget(txHash string)
}

// Coordinator owns the round lifecycle: it snapshots the registry and the
// DAG, runs one Round at a time, and applies committed decisions to the
// stores. Aborted rounds leave nothing behind except metrics and a log line;
// their units stay in the DAG and are reproposed next round.
type Coordinator struct {
	selfID  string
	signKey ed25519.PrivateKey

	reg       *registry.Registry
	dagStore  *dag.Store
	engine    *ordering.Engine
	resolver  *ordering.Resolver
	units     *store.UnitStore
	finlog    *store.FinalizedLog
	bus       *events.EventBus
	bc        Broadcaster
	txRelease TxReleaser
	cfg       config.ConsensusConfig

	mu                sync.Mutex
	current           *Round
	nextRound         uint64
	consecutiveAborts int
}

func NewCoordinator(
	selfID string,
	signKey ed25519.PrivateKey,
	reg *registry.Registry,
	dagStore *dag.Store,
	resolver *ordering.Resolver,
	units *store.UnitStore,
	finlog *store.FinalizedLog,
	bus *events.EventBus,
	bc Broadcaster,
	txRelease TxReleaser,
	cfg config.ConsensusConfig,
) *Coordinator {
	return &Coordinator{
		selfID:    selfID,
		signKey:   signKey,
		reg:       reg,
		dagStore:  dagStore,
		engine:    ordering.NewEngine(),
		resolver:  resolver,
		units:     units,
		finlog:    finlog,
		bus:       bus,
		bc:        bc,
		txRelease: txRelease,
		cfg:       cfg,
		nextRound: finlog.LastRound() + 1,
	}
}

// HandleProposal routes an inbound proposal to the round it belongs to.
// Messages for any other round are dropped: past rounds are settled and a
// future round's snapshot does not exist yet.
func (c *Coordinator) HandleProposal(p *Proposal) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || r.ID() != p.RoundID {
		logx.Debug("CONSENSUS", fmt.Sprintf("Dropping proposal for round %d from %s, no matching round", p.RoundID, p.ValidatorID))
		return
	}
	r.SubmitProposal(p)
}

// HandleVote routes an inbound vote to the round it belongs to.
func (c *Coordinator) HandleVote(v *Vote) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil || r.ID() != v.RoundID {
		logx.Debug("CONSENSUS", fmt.Sprintf("Dropping vote for round %d from %s, no matching round", v.RoundID, v.ValidatorID))
		return
	}
	r.SubmitVote(v)
}

// CurrentRound returns the id of the round in flight, zero if idle.
func (c *Coordinator) CurrentRound() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return 0
	}
	return c.current.ID()
}

// ConsecutiveAborts returns the current abort streak.
func (c *Coordinator) ConsecutiveAborts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveAborts
}

// Start drives rounds at the configured interval until ctx is cancelled or a
// fatal condition halts consensus. A persistent abort streak counts as
// fatal: something is wrong with the network or our own state, and blindly
// spinning rounds would only widen any divergence.
func (c *Coordinator) Start(ctx context.Context) error {
	interval := time.Duration(c.cfg.RoundIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logx.Info("CONSENSUS", fmt.Sprintf("Coordinator started: self=%s interval=%s next_round=%d", c.selfID, interval, c.nextRound))
	for {
		select {
		case <-ctx.Done():
			logx.Info("CONSENSUS", "Coordinator stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := c.RunRound(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logx.Error("CONSENSUS", "Consensus halting: ", err)
				return err
			}
		}
	}
}

// RunRound executes one full round. A nil error covers both commits and
// ordinary aborts; an error return means consensus must stop.
func (c *Coordinator) RunRound(ctx context.Context) error {
	snap, err := c.reg.Snapshot()
	if err != nil {
		return fmt.Errorf("no usable validator set: %w", err)
	}
	if !snap.Contains(c.selfID) {
		return errors.NewError(errors.ErrCodeValidatorInactive, fmt.Sprintf("validator %s not in active set", c.selfID))
	}

	dagSnap := c.dagStore.Snapshot()
	candidate := c.engine.ComputeCandidateOrder(dagSnap)
	if len(candidate) == 0 {
		return nil
	}
	c.dagStore.MarkOrdered(candidate)

	c.mu.Lock()
	roundID := c.nextRound
	c.nextRound++
	round := NewRound(
		roundID, c.selfID, c.signKey, snap, candidate, c.bc,
		time.Duration(c.cfg.ProposalTimeoutMs)*time.Millisecond,
		time.Duration(c.cfg.VoteTimeoutMs)*time.Millisecond,
	)
	c.current = round
	c.mu.Unlock()

	start := time.Now()
	decision := round.Run(ctx)
	monitoring.RecordRoundDuration(time.Since(start))

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()

	if !decision.Committed {
		return c.recordAbort(decision)
	}
	if err := c.applyCommit(decision); err != nil {
		return err
	}
	c.mu.Lock()
	c.consecutiveAborts = 0
	c.mu.Unlock()
	monitoring.SetConsecutiveAborts(0)
	return nil
}

func (c *Coordinator) recordAbort(d *Decision) error {
	monitoring.IncreaseAbortedRoundCount()
	c.bus.Publish(events.NewRoundAborted(d.RoundID, d.Reason))

	c.mu.Lock()
	c.consecutiveAborts++
	aborts := c.consecutiveAborts
	c.mu.Unlock()
	monitoring.SetConsecutiveAborts(aborts)

	if c.cfg.MaxConsecutiveAborts > 0 && aborts >= c.cfg.MaxConsecutiveAborts {
		return fmt.Errorf("%d consecutive aborted rounds, last reason: %s", aborts, d.Reason)
	}
	if aborts > 1 {
		logx.Warn("CONSENSUS", fmt.Sprintf("Abort streak at %d rounds", aborts))
	}
	return nil
}

// applyCommit makes a committed decision durable and visible, in strict
// sequence: plan which units survive conflict resolution, append them to the
// finalized log in one atomic batch, then walk the entries finalizing
// winners and rejecting their conflict losers. Log durability failure is
// fatal; per the crash model nothing before the append is externally
// observable.
func (c *Coordinator) applyCommit(d *Decision) error {
	finalIDs, lateLosers := c.planCommit(d.Order)

	entries, err := c.finlog.AppendCommit(d.RoundID, finalIDs)
	if err != nil {
		if errors.HasCode(err, errors.ErrCodeStaleRound) {
			logx.Warn("CONSENSUS", fmt.Sprintf("Round %d already committed, skipping apply", d.RoundID))
			return nil
		}
		return fmt.Errorf("failed to persist round %d: %w", d.RoundID, err)
	}

	for _, entry := range entries {
		u, ok := c.dagStore.Unit(entry.UnitID)
		if !ok {
			logx.Error("CONSENSUS", "Committed unit missing from DAG: ", entry.UnitID)
			continue
		}
		if err := c.dagStore.MarkFinalized(entry.UnitID); err != nil {
			logx.Error("CONSENSUS", "Failed to finalize ", entry.UnitID, ": ", err)
			continue
		}
		if err := c.units.PutState(entry.UnitID, types.FinalityFinalized); err != nil {
			logx.Error("CONSENSUS", "Failed to persist finalized state for ", entry.UnitID, ": ", err)
		}
		c.bus.Publish(events.NewUnitFinalized(entry.UnitID, entry.RoundID, entry.Offset))
		c.txRelease.Forget(u.Tx.Hash())
		if u.Timestamp > 0 {
			monitoring.RecordTimeToFinality(time.Since(time.UnixMilli(int64(u.Timestamp))))
		}

		for _, loserID := range c.resolver.OnFinalized(u) {
			c.settleLoser(loserID)
		}
	}

	for _, loserID := range lateLosers {
		if err := c.dagStore.MarkRejected(loserID); err != nil {
			logx.Error("CONSENSUS", "Failed to reject late loser ", loserID, ": ", err)
			continue
		}
		c.settleLoser(loserID)
	}

	monitoring.SetFinalizedHeight(c.finlog.NextOffset())
	monitoring.SetPendingUnits(c.dagStore.PendingCount())
	monitoring.SetTipCount(c.dagStore.TipCount())
	c.bus.Publish(events.NewRoundCommitted(d.RoundID, len(entries)))
	logx.Info("CONSENSUS", fmt.Sprintf("Round %d committed %d units with stake %d/%d", d.RoundID, len(entries), d.AgreeStake, d.TotalStake))
	return nil
}

// settleLoser persists and announces the rejection of a conflict loser whose
// DAG state is already Rejected, and releases its transaction for a
// corrected resubmission.
func (c *Coordinator) settleLoser(loserID string) {
	if err := c.units.PutState(loserID, types.FinalityRejected); err != nil {
		logx.Error("CONSENSUS", "Failed to persist rejected state for ", loserID, ": ", err)
	}
	monitoring.RecordRejectedUnit(monitoring.UnitConflictLoser)
	c.bus.Publish(events.NewUnitRejected(loserID, string(monitoring.UnitConflictLoser)))
	if u, ok := c.dagStore.Unit(loserID); ok {
		c.resolver.Forget(u)
		c.txRelease.Forget(u.Tx.Hash())
	}
}

// planCommit filters a committed order down to the units that actually
// finalize: already-terminal units drop out, once a conflict winner is
// accepted its losers later in the sequence drop out too, and units whose
// rival was finalized in an earlier round are returned separately for
// rejection. Every honest validator plans the same result because the order
// and the conflict rule are deterministic.
func (c *Coordinator) planCommit(order []string) ([]string, []string) {
	rejected := make(map[string]bool)
	finalIDs := make([]string, 0, len(order))
	var lateLosers []string
	for _, id := range order {
		if rejected[id] {
			continue
		}
		state, ok := c.dagStore.Status(id)
		if !ok {
			logx.Warn("CONSENSUS", "Committed order names unknown unit ", id)
			continue
		}
		if state.Terminal() {
			continue
		}
		u, found := c.dagStore.Unit(id)
		if !found {
			continue
		}
		if winner, lost := c.resolver.LostToFinalized(u); lost {
			logx.Info("CONSENSUS", fmt.Sprintf("Unit %s lost to finalized rival %s, rejecting", id, winner))
			lateLosers = append(lateLosers, id)
			continue
		}
		finalIDs = append(finalIDs, id)
		for _, loser := range c.resolver.Losers(u) {
			rejected[loser] = true
		}
	}
	return finalIDs, lateLosers
}
