package node

import (
	"context"
	"fmt"
	"sync"

	"qdag/errors"
	"qdag/events"
	"qdag/logx"
	"qdag/monitoring"
	"qdag/types"
	"qdag/unit"
)

const (
	maxOrphans      = 2048
	ingestBatchSize = 64
)

// orphanBuffer parks units whose parents have not arrived yet, keyed by the
// first missing parent. Gossip delivers out of order routinely; holding the
// child briefly beats rejecting it and waiting for a rebroadcast.
type orphanBuffer struct {
	mu      sync.Mutex
	byWant  map[string][]*unit.Unit
	present map[string]bool
}

func newOrphanBuffer() *orphanBuffer {
	return &orphanBuffer{
		byWant:  make(map[string][]*unit.Unit),
		present: make(map[string]bool),
	}
}

func (o *orphanBuffer) add(want string, u *unit.Unit) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.present[u.ID] {
		return false
	}
	if len(o.present) >= maxOrphans {
		logx.Warn("NODE", "Orphan buffer full, dropping unit ", u.ID)
		return false
	}
	o.present[u.ID] = true
	o.byWant[want] = append(o.byWant[want], u)
	return true
}

// take removes and returns the units waiting on the given parent.
func (o *orphanBuffer) take(parentID string) []*unit.Unit {
	o.mu.Lock()
	defer o.mu.Unlock()
	waiting := o.byWant[parentID]
	if len(waiting) == 0 {
		return nil
	}
	delete(o.byWant, parentID)
	for _, u := range waiting {
		delete(o.present, u.ID)
	}
	return waiting
}

// onRemoteUnit is the transport callback. It only enqueues: verification and
// DAG insertion happen on the ingest loop so gossip handling never blocks on
// crypto.
func (n *Node) onRemoteUnit(u *unit.Unit) {
	select {
	case n.ingestCh <- u:
	default:
		logx.Warn("NODE", "Ingest queue full, dropping unit ", u.ID)
	}
}

// ingestLoop drains the queue in batches so signature checks run on the
// verifier's worker pool instead of serially on this goroutine. One slow
// ML-DSA verification must not stall every unit behind it.
func (n *Node) ingestLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-n.ingestCh:
			batch := []*unit.Unit{u}
		fill:
			for len(batch) < ingestBatchSize {
				select {
				case more := <-n.ingestCh:
					batch = append(batch, more)
				default:
					break fill
				}
			}
			n.ingestBatch(ctx, batch)
		}
	}
}

func (n *Node) ingestBatch(ctx context.Context, incoming []*unit.Unit) {
	pending := make([]*unit.Unit, 0, len(incoming))
	for _, u := range incoming {
		if err := u.Validate(); err != nil {
			logx.Warn("NODE", "Dropping malformed unit: ", err)
			continue
		}
		if n.dagStore.Has(u.ID) {
			continue
		}
		pending = append(pending, u)
	}
	if len(pending) == 0 {
		return
	}

	snap, err := n.reg.Snapshot()
	if err != nil {
		logx.Error("NODE", "No validator snapshot, dropping ", len(pending), " units")
		return
	}
	for i, err := range n.verifier.VerifyBatch(ctx, snap, pending) {
		if err != nil {
			logx.Warn("NODE", "Unit ", pending[i].ID, " failed verification: ", err)
			monitoring.RecordRejectedUnit(rejectionReason(err))
			continue
		}
		n.admit(ctx, pending[i])
	}
}

// admit inserts a verified unit, parking it in the orphan buffer when a
// parent has not arrived yet.
func (n *Node) admit(ctx context.Context, u *unit.Unit) {
	if err := n.insertUnit(u); err != nil {
		if errors.HasCode(err, errors.ErrCodeUnknownParent) {
			if missing, ok := n.firstMissingParent(u); ok {
				n.orphans.add(missing, u)
				return
			}
		}
		if !errors.HasCode(err, errors.ErrCodeDuplicateUnit) {
			logx.Warn("NODE", "Unit ", u.ID, " not inserted: ", err)
			monitoring.RecordRejectedUnit(rejectionReason(err))
		}
		return
	}
	n.retryOrphans(ctx, u.ID)
}

// insertUnit performs the shared acceptance path for remote and local units:
// DAG insertion, conflict tracking, persistence, indexing, event. A
// transaction already carried by a live or finalized unit is refused here,
// so a resubmitted transaction can never finalize twice.
func (n *Node) insertUnit(u *unit.Unit) error {
	if unitID, settled := n.settledUnitFor(u.Tx.Hash()); settled && unitID != u.ID {
		return errors.NewError(errors.ErrCodeDuplicateUnit, fmt.Sprintf("transaction %s already carried by unit %s", u.Tx.Hash(), unitID))
	}
	if _, err := n.dagStore.AddUnit(u); err != nil {
		return err
	}
	n.resolver.Track(u)
	if winner, lost := n.resolver.LostToFinalized(u); lost {
		// The rival already won a round; this unit is settled on arrival.
		logx.Info("NODE", "Unit ", u.ID, " lost to finalized rival ", winner, ", rejecting")
		if err := n.dagStore.MarkRejected(u.ID); err != nil {
			logx.Error("NODE", "Failed to reject ", u.ID, ": ", err)
		}
		if err := n.units.PutUnit(u, types.FinalityRejected); err != nil {
			logx.Error("NODE", "Failed to persist unit ", u.ID, ": ", err)
		}
		n.indexTx(u)
		n.resolver.Forget(u)
		n.mempool.Forget(u.Tx.Hash())
		monitoring.RecordRejectedUnit(monitoring.UnitConflictLoser)
		n.bus.Publish(events.NewUnitRejected(u.ID, string(monitoring.UnitConflictLoser)))
		return nil
	}
	if err := n.units.PutUnit(u, types.FinalityPending); err != nil {
		logx.Error("NODE", "Failed to persist unit ", u.ID, ": ", err)
	}
	n.indexTx(u)
	n.bus.Publish(events.NewUnitAccepted(u.ID))
	monitoring.SetPendingUnits(n.dagStore.PendingCount())
	monitoring.SetTipCount(n.dagStore.TipCount())
	return nil
}

func (n *Node) firstMissingParent(u *unit.Unit) (string, bool) {
	for _, pid := range u.ParentIDs {
		if !n.dagStore.Has(pid) {
			return pid, true
		}
	}
	return "", false
}

// retryOrphans re-admits units that were waiting on the newly inserted
// parent. They were verified before parking; a unit with a second missing
// parent simply parks again.
func (n *Node) retryOrphans(ctx context.Context, parentID string) {
	for _, u := range n.orphans.take(parentID) {
		n.admit(ctx, u)
	}
}

func rejectionReason(err error) monitoring.UnitRejectedReason {
	switch errors.CodeOf(err) {
	case errors.ErrCodeInvalidClassicalSignature:
		return monitoring.UnitInvalidClassicalSig
	case errors.ErrCodeInvalidPQCSignature:
		return monitoring.UnitInvalidPQCSig
	case errors.ErrCodePrimeHashMismatch:
		return monitoring.UnitPrimeHashMismatch
	case errors.ErrCodeUnknownValidator:
		return monitoring.UnitUnknownValidator
	case errors.ErrCodeUnknownParent:
		return monitoring.UnitUnknownParent
	case errors.ErrCodeCycleDetected:
		return monitoring.UnitCycleDetected
	case errors.ErrCodeDuplicateUnit:
		return monitoring.UnitDuplicate
	default:
		return monitoring.UnitRejectedUnknown
	}
}
