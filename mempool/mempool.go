package mempool

import (
	"sync"

	"qdag/errors"
	"qdag/types"
)

const DefaultMaxTxs = 4096

// Mempool is a thread-safe queue of transactions awaiting unit creation,
// with hash-based dedup and a capacity bound.
type Mempool struct {
	mu     sync.Mutex
	txs    []*types.Transaction
	seen   map[string]struct{}
	maxTxs int
}

// NewMempool creates a new, empty mempool.
func NewMempool(maxTxs int) *Mempool {
	if maxTxs <= 0 {
		maxTxs = DefaultMaxTxs
	}
	return &Mempool{
		txs:    make([]*types.Transaction, 0),
		seen:   make(map[string]struct{}),
		maxTxs: maxTxs,
	}
}

// Add pushes a transaction into the mempool.
func (m *Mempool) Add(tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txs) >= m.maxTxs {
		return errors.NewError(errors.ErrCodeMempoolFull, errors.ErrMsgMempoolFull)
	}
	hash := tx.Hash()
	if _, dup := m.seen[hash]; dup {
		return errors.NewError(errors.ErrCodeDuplicateTransaction, errors.ErrMsgDuplicateTransaction)
	}
	m.seen[hash] = struct{}{}
	m.txs = append(m.txs, tx)
	return nil
}

// Len returns the number of queued transactions.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// PopBatch removes and returns up to max transactions.
func (m *Mempool) PopBatch(max int) []*types.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.txs) == 0 {
		return nil
	}
	if len(m.txs) < max {
		max = len(m.txs)
	}
	batch := make([]*types.Transaction, max)
	copy(batch, m.txs[:max])
	m.txs = m.txs[max:]
	return batch
}

// Forget releases the dedup record of a transaction whose unit reached a
// terminal state, allowing corrected resubmission after a rejection.
func (m *Mempool) Forget(txHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seen, txHash)
}

// Seen reports whether the transaction hash is currently tracked.
func (m *Mempool) Seen(txHash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[txHash]
	return ok
}
