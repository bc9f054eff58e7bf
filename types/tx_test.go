package types

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"

	"qdag/common"
)

func newSignedTx(t *testing.T, recipient string, nonce uint64) (*Transaction, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tx := &Transaction{
		Type:      TxTypeTransfer,
		Sender:    common.EncodeBytesToBase58(pub),
		Recipient: recipient,
		Amount:    uint256.NewInt(100),
		Fee:       uint256.NewInt(1),
		Nonce:     nonce,
		Timestamp: 1724800000,
	}
	tx.Sign(priv)
	return tx, priv
}

func TestTxSignVerify(t *testing.T) {
	tx, _ := newSignedTx(t, "recipient-addr", 1)
	if !tx.Verify() {
		t.Fatal("valid signature rejected")
	}

	tx.Amount = uint256.NewInt(200)
	if tx.Verify() {
		t.Fatal("tampered transaction accepted")
	}
}

func TestTxHashStable(t *testing.T) {
	tx, _ := newSignedTx(t, "recipient-addr", 1)
	if tx.Hash() != tx.Hash() {
		t.Fatal("hash is not stable")
	}
}

func TestConflictsWith(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sender := common.EncodeBytesToBase58(pub)

	mk := func(recipient string, nonce uint64) *Transaction {
		tx := &Transaction{
			Type:      TxTypeTransfer,
			Sender:    sender,
			Recipient: recipient,
			Amount:    uint256.NewInt(50),
			Fee:       uint256.NewInt(1),
			Nonce:     nonce,
			Timestamp: 1724800000,
		}
		tx.Sign(priv)
		return tx
	}

	a := mk("addr-x", 7)
	b := mk("addr-y", 7)
	if !a.ConflictsWith(b) {
		t.Fatal("same (sender, nonce) with differing payload must conflict")
	}

	// identical payload is a duplicate, not a conflict
	c := mk("addr-x", 7)
	if a.ConflictsWith(c) {
		t.Fatal("identical payload reported as conflict")
	}

	// different nonce never conflicts
	d := mk("addr-y", 8)
	if a.ConflictsWith(d) {
		t.Fatal("different nonce reported as conflict")
	}

	// a timestamp-only difference is still a second spend of the slot
	e := mk("addr-x", 7)
	e.Timestamp = a.Timestamp + 1
	e.Sign(priv)
	if !a.ConflictsWith(e) {
		t.Fatal("timestamp-only rivalry not reported as conflict")
	}
}
