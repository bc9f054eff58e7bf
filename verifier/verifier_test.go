package verifier

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/holiman/uint256"

	"qdag/common"
	"qdag/config"
	"qdag/errors"
	"qdag/hybridsig"
	"qdag/registry"
	"qdag/types"
	"qdag/unit"
)

type testValidator struct {
	id   string
	priv *hybridsig.PrivateKey
}

func newTestRegistry(t *testing.T) (*registry.Snapshot, testValidator) {
	t.Helper()
	pub, priv, err := hybridsig.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := pub.MarshalPublic()
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.GenesisConfig{
		ChainID: "qdag-test",
		Validators: []config.ValidatorConfig{{
			ID:              "validator-1",
			ClassicalPubKey: hex.EncodeToString(raw[:ed25519.PublicKeySize]),
			PQCPubKey:       hex.EncodeToString(raw[ed25519.PublicKeySize:]),
			Stake:           25,
			Reputation:      1.0,
			Active:          true,
		}},
	}
	r, err := registry.FromGenesis(cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	return snap, testValidator{id: "validator-1", priv: priv}
}

func signedUnit(t *testing.T, v testValidator, nonce uint64) *unit.Unit {
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
	u, err := unit.New([]string{"parent-1"}, tx, v.id, 1724800001000, v.priv)
	if err != nil {
		t.Fatal(err)
	}
	return u
}

func TestVerifyValidUnit(t *testing.T) {
	snap, v := newTestRegistry(t)
	u := signedUnit(t, v, 1)
	if err := New(2).Verify(snap, u); err != nil {
		t.Fatalf("valid unit rejected: %v", err)
	}
}

func TestVerifyUnknownCreator(t *testing.T) {
	snap, v := newTestRegistry(t)
	u := signedUnit(t, v, 1)
	u.Creator = "validator-99"
	err := New(2).Verify(snap, u)
	if !errors.HasCode(err, errors.ErrCodeUnknownValidator) {
		t.Fatalf("unknown creator error = %v", err)
	}
}

func TestVerifyTamperedLegs(t *testing.T) {
	snap, v := newTestRegistry(t)

	u := signedUnit(t, v, 1)
	u.ClassicalSig[0] ^= 0xff
	err := New(2).Verify(snap, u)
	if !errors.HasCode(err, errors.ErrCodeInvalidClassicalSignature) {
		t.Fatalf("classical tamper error = %v", err)
	}

	u = signedUnit(t, v, 2)
	u.PQCSig[0] ^= 0xff
	err = New(2).Verify(snap, u)
	if !errors.HasCode(err, errors.ErrCodeInvalidPQCSignature) {
		t.Fatalf("pqc tamper error = %v", err)
	}
}

// The prime digest is independent of the signatures: a unit can carry two
// valid legs and still fail integrity if the digest does not match the
// payload.
func TestVerifyPrimeHashMismatch(t *testing.T) {
	snap, v := newTestRegistry(t)
	u := signedUnit(t, v, 1)
	u.PrimeHash++
	err := New(2).Verify(snap, u)
	if !errors.HasCode(err, errors.ErrCodePrimeHashMismatch) {
		t.Fatalf("prime mismatch error = %v", err)
	}
}

func TestVerifyBatch(t *testing.T) {
	snap, v := newTestRegistry(t)
	units := []*unit.Unit{
		signedUnit(t, v, 1),
		signedUnit(t, v, 2),
		signedUnit(t, v, 3),
	}
	units[1].PrimeHash++

	results := New(2).VerifyBatch(context.Background(), snap, units)
	if len(results) != 3 {
		t.Fatalf("result count = %d", len(results))
	}
	if results[0] != nil || results[2] != nil {
		t.Fatalf("valid units flagged: %v %v", results[0], results[2])
	}
	if !errors.HasCode(results[1], errors.ErrCodePrimeHashMismatch) {
		t.Fatalf("bad unit error = %v", results[1])
	}
}

func TestVerifyBatchCancelled(t *testing.T) {
	snap, v := newTestRegistry(t)
	var units []*unit.Unit
	for i := uint64(1); i <= 16; i++ {
		units = append(units, signedUnit(t, v, i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := New(1).VerifyBatch(ctx, snap, units)

	cancelled := 0
	for _, err := range results {
		if err == context.Canceled {
			cancelled++
		}
	}
	if cancelled == 0 {
		t.Fatal("cancelled batch completed every unit")
	}
}
