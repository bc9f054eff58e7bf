package mempool

import (
	"testing"

	"github.com/holiman/uint256"

	"qdag/errors"
	"qdag/types"
)

func queuedTx(nonce uint64) *types.Transaction {
	return &types.Transaction{
		Type:      types.TxTypeTransfer,
		Sender:    "sender-addr",
		Recipient: "recipient-addr",
		Amount:    uint256.NewInt(10),
		Nonce:     nonce,
	}
}

func TestAddAndLen(t *testing.T) {
	m := NewMempool(10)
	for i := uint64(1); i <= 3; i++ {
		if err := m.Add(queuedTx(i)); err != nil {
			t.Fatal(err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("len = %d", m.Len())
	}
}

func TestAddDuplicate(t *testing.T) {
	m := NewMempool(10)
	tx := queuedTx(1)
	if err := m.Add(tx); err != nil {
		t.Fatal(err)
	}
	err := m.Add(queuedTx(1))
	if !errors.HasCode(err, errors.ErrCodeDuplicateTransaction) {
		t.Fatalf("duplicate error = %v", err)
	}
	if !m.Seen(tx.Hash()) {
		t.Fatal("Seen = false for queued tx")
	}
}

func TestAddFull(t *testing.T) {
	m := NewMempool(2)
	m.Add(queuedTx(1))
	m.Add(queuedTx(2))
	err := m.Add(queuedTx(3))
	if !errors.HasCode(err, errors.ErrCodeMempoolFull) {
		t.Fatalf("full error = %v", err)
	}
}

func TestPopBatchFIFO(t *testing.T) {
	m := NewMempool(10)
	for i := uint64(1); i <= 5; i++ {
		if err := m.Add(queuedTx(i)); err != nil {
			t.Fatal(err)
		}
	}

	batch := m.PopBatch(3)
	if len(batch) != 3 {
		t.Fatalf("batch size = %d", len(batch))
	}
	for i, tx := range batch {
		if tx.Nonce != uint64(i+1) {
			t.Fatalf("batch[%d].Nonce = %d, want %d", i, tx.Nonce, i+1)
		}
	}
	if m.Len() != 2 {
		t.Fatalf("len after pop = %d", m.Len())
	}

	// popping more than queued drains the rest
	if batch = m.PopBatch(10); len(batch) != 2 {
		t.Fatalf("drain batch size = %d", len(batch))
	}
	if batch = m.PopBatch(10); batch != nil {
		t.Fatalf("empty pop returned %v", batch)
	}
}

// Dedup survives PopBatch so a transaction cannot re-enter the queue while
// its unit is in flight; Forget releases the slot once the unit is terminal.
func TestSeenAcrossPopAndForget(t *testing.T) {
	m := NewMempool(10)
	tx := queuedTx(1)
	if err := m.Add(tx); err != nil {
		t.Fatal(err)
	}
	m.PopBatch(1)

	if !m.Seen(tx.Hash()) {
		t.Fatal("popped tx no longer tracked")
	}
	if err := m.Add(queuedTx(1)); !errors.HasCode(err, errors.ErrCodeDuplicateTransaction) {
		t.Fatalf("resubmit while in flight: %v", err)
	}

	m.Forget(tx.Hash())
	if m.Seen(tx.Hash()) {
		t.Fatal("forgotten tx still tracked")
	}
	if err := m.Add(queuedTx(1)); err != nil {
		t.Fatalf("resubmit after forget: %v", err)
	}
}

func TestDefaultCapacity(t *testing.T) {
	m := NewMempool(0)
	for i := 0; i < DefaultMaxTxs; i++ {
		if err := m.Add(queuedTx(uint64(i + 1))); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := m.Add(queuedTx(uint64(DefaultMaxTxs + 1))); !errors.HasCode(err, errors.ErrCodeMempoolFull) {
		t.Fatalf("over default capacity: %v", err)
	}
}
