package unit

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/holiman/uint256"

	"qdag/common"
	"qdag/hybridsig"
	"qdag/primehash"
	"qdag/types"
)

func testTx(t *testing.T, nonce uint64) *types.Transaction {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tx := &types.Transaction{
		Type:      types.TxTypeTransfer,
		Sender:    common.EncodeBytesToBase58(pub),
		Recipient: "recipient-addr",
		Amount:    uint256.NewInt(10),
		Fee:       uint256.NewInt(1),
		Nonce:     nonce,
		Timestamp: 1724800000,
	}
	tx.Sign(priv)
	return tx
}

func TestNewUnit(t *testing.T) {
	_, priv, err := hybridsig.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	tx := testTx(t, 1)
	u, err := New([]string{"parent-1", "parent-2"}, tx, "validator-1", 1724800001000, priv)
	if err != nil {
		t.Fatal(err)
	}
	if err := u.Validate(); err != nil {
		t.Fatalf("fresh unit failed validation: %v", err)
	}
	if u.PrimeHash != primehash.Sum(tx.Serialize()) {
		t.Fatal("prime digest does not cover the transaction payload")
	}
}

// Re-signing the same content must not change the id, so ids survive
// signature re-encoding and gossip round trips.
func TestUnitIDExcludesSignatures(t *testing.T) {
	_, priv, err := hybridsig.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	tx := testTx(t, 2)
	u, err := New([]string{"parent-1"}, tx, "validator-1", 1724800001000, priv)
	if err != nil {
		t.Fatal(err)
	}

	id := u.ID
	sig := priv.Sign(u.SigningBytes())
	u.ClassicalSig = sig.Classical
	u.PQCSig = sig.PQC
	if u.ComputeID() != id {
		t.Fatal("unit id depends on signature bytes")
	}
}

func TestValidateRejectsTamperedID(t *testing.T) {
	_, priv, err := hybridsig.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	u, err := New([]string{"parent-1"}, testTx(t, 3), "validator-1", 1724800001000, priv)
	if err != nil {
		t.Fatal(err)
	}
	u.ID = "0000" + u.ID[4:]
	if err := u.Validate(); err == nil {
		t.Fatal("tampered id passed validation")
	}
}

func TestGenesisDeterministic(t *testing.T) {
	a := Genesis("qdag-test")
	b := Genesis("qdag-test")
	if a.ID != b.ID {
		t.Fatalf("same chain id produced different genesis units: %s vs %s", a.ID, b.ID)
	}
	c := Genesis("qdag-other")
	if a.ID == c.ID {
		t.Fatal("different chain ids share a genesis unit")
	}
	if len(a.ParentIDs) != 0 {
		t.Fatal("genesis must have no parents")
	}
}
