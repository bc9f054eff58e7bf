package node

import (
	"context"
	"fmt"
	"time"

	"qdag/common"
	"qdag/errors"
	"qdag/events"
	"qdag/logx"
	"qdag/monitoring"
	"qdag/store"
	"qdag/types"
	"qdag/unit"
)

// TxStatus is the client-facing view of a submitted transaction.
type TxStatus struct {
	TxHash string `json:"tx_hash"`
	UnitID string `json:"unit_id,omitempty"`
	State  string `json:"state"`
}

const (
	StateQueued  = "queued"
	StateUnknown = "unknown"
)

// SubmitTransaction validates a signed transaction and queues it for unit
// creation. The returned hash is the client's handle for status polling.
func (n *Node) SubmitTransaction(tx *types.Transaction) (string, error) {
	if tx == nil {
		return "", errors.NewError(errors.ErrCodeInvalidTransaction, errors.ErrMsgInvalidTransaction)
	}
	if !common.IsValidBase58(tx.Sender) || !common.IsValidBase58(tx.Recipient) {
		return "", errors.NewError(errors.ErrCodeInvalidAddress, errors.ErrMsgInvalidAddress)
	}
	if tx.Amount == nil || tx.Amount.IsZero() {
		return "", errors.NewError(errors.ErrCodeInvalidAmount, errors.ErrMsgInvalidAmount)
	}
	if !tx.Verify() {
		return "", errors.NewError(errors.ErrCodeInvalidSignature, errors.ErrMsgInvalidSignature)
	}
	if unitID, settled := n.settledUnitFor(tx.Hash()); settled {
		return "", errors.NewError(errors.ErrCodeDuplicateUnit, fmt.Sprintf("transaction already carried by unit %s", unitID))
	}
	if err := n.mempool.Add(tx); err != nil {
		return "", err
	}
	monitoring.IncreaseIngressTxCount()
	return tx.Hash(), nil
}

// builderLoop drains the mempool into fresh units. Each transaction becomes
// one unit referencing the current heaviest tips.
func (n *Node) builderLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultBuilderInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.buildUnits(ctx)
		}
	}
}

func (n *Node) buildUnits(ctx context.Context) {
	batch := n.mempool.PopBatch(defaultBuildBatch)
	for _, tx := range batch {
		if ctx.Err() != nil {
			return
		}
		if _, err := n.BuildUnit(ctx, tx); err != nil {
			logx.Error("NODE", "Failed to build unit for tx ", tx.Hash(), ": ", err)
		}
	}
}

// BuildUnit wraps one transaction in a unit, inserts it and broadcasts it.
func (n *Node) BuildUnit(ctx context.Context, tx *types.Transaction) (*unit.Unit, error) {
	parents := n.dagStore.SelectParents(n.dagStore.MaxParents())
	if len(parents) == 0 {
		return nil, fmt.Errorf("no live tips to reference")
	}
	u, err := unit.New(parents, tx, n.selfID, uint64(time.Now().UnixMilli()), n.privKey)
	if err != nil {
		return nil, err
	}
	if err := n.insertUnit(u); err != nil {
		return nil, err
	}
	if err := n.transport.BroadcastUnit(ctx, u); err != nil {
		logx.Error("NODE", "Failed to broadcast unit ", u.ID, ": ", err)
	}
	return u, nil
}

// GetUnitStatus returns a unit's finality state, consulting the live DAG
// first and persisted state as fallback.
func (n *Node) GetUnitStatus(unitID string) (types.FinalityState, bool) {
	if state, ok := n.dagStore.Status(unitID); ok {
		return state, true
	}
	state, found, err := n.units.GetState(unitID)
	if err != nil || !found {
		return types.FinalityRejected, false
	}
	return state, true
}

// GetUnit returns a unit by id from the DAG or the persistent store.
func (n *Node) GetUnit(unitID string) (*unit.Unit, error) {
	if u, ok := n.dagStore.Unit(unitID); ok {
		return u, nil
	}
	return n.units.GetUnit(unitID)
}

// settledUnitFor reports the unit already carrying txHash, unless that unit
// was rejected. A rejected slot may be retried; anything else is a duplicate.
// The index survives restarts because recovery rebuilds it from the unit
// store.
func (n *Node) settledUnitFor(txHash string) (string, bool) {
	n.mu.RLock()
	unitID, ok := n.txIndex[txHash]
	n.mu.RUnlock()
	if !ok {
		return "", false
	}
	state, found := n.GetUnitStatus(unitID)
	if !found || state == types.FinalityRejected {
		return "", false
	}
	return unitID, true
}

// GetTransactionStatus resolves a transaction hash to its unit and state.
func (n *Node) GetTransactionStatus(txHash string) *TxStatus {
	n.mu.RLock()
	unitID, ok := n.txIndex[txHash]
	n.mu.RUnlock()
	if ok {
		if state, found := n.GetUnitStatus(unitID); found {
			return &TxStatus{TxHash: txHash, UnitID: unitID, State: state.String()}
		}
	}
	if n.mempool.Seen(txHash) {
		return &TxStatus{TxHash: txHash, State: StateQueued}
	}
	return &TxStatus{TxHash: txHash, State: StateUnknown}
}

// ReadFinalized returns up to max finalized log entries starting at offset.
func (n *Node) ReadFinalized(from uint64, max int) ([]store.Entry, error) {
	return n.finlog.Read(from, max)
}

// FinalizedHeight is the next offset the log will assign.
func (n *Node) FinalizedHeight() uint64 {
	return n.finlog.NextOffset()
}

// SubscribeFinalized streams finalized entries starting at fromOffset:
// first the persisted backlog, then live commits, without gaps or
// duplicates. The returned cancel function releases the subscription.
func (n *Node) SubscribeFinalized(ctx context.Context, fromOffset uint64) (<-chan store.Entry, func(), error) {
	out := make(chan store.Entry, 64)
	subID, evCh := n.bus.Subscribe()
	cancelOnce := func() { n.bus.Unsubscribe(subID) }

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer close(out)

		next := fromOffset
		// Backlog first. Live events observed meanwhile sit buffered in evCh
		// and are filtered below by offset, so the handover is seamless.
		for {
			entries, err := n.finlog.Read(next, 256)
			if err != nil {
				logx.Error("NODE", "Finalized backlog read failed: ", err)
				return
			}
			if len(entries) == 0 {
				break
			}
			for _, e := range entries {
				select {
				case out <- e:
					next = e.Offset + 1
				case <-ctx.Done():
					return
				case <-n.ctx.Done():
					return
				}
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-n.ctx.Done():
				return
			case ev, ok := <-evCh:
				if !ok {
					return
				}
				fin, isFin := ev.(*events.UnitFinalized)
				if !isFin || fin.Offset() < next {
					continue
				}
				if fin.Offset() > next {
					// The bus dropped events while we were slow; refill the
					// gap from the log before resuming.
					entries, err := n.finlog.Read(next, int(fin.Offset()-next))
					if err != nil {
						logx.Error("NODE", "Finalized gap read failed: ", err)
						return
					}
					for _, e := range entries {
						select {
						case out <- e:
							next = e.Offset + 1
						case <-ctx.Done():
							return
						case <-n.ctx.Done():
							return
						}
					}
				}
				select {
				case out <- store.Entry{Offset: fin.Offset(), RoundID: fin.RoundID(), UnitID: fin.UnitID()}:
					next = fin.Offset() + 1
				case <-ctx.Done():
					return
				case <-n.ctx.Done():
					return
				}
			}
		}
	}()
	return out, cancelOnce, nil
}
