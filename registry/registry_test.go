package registry

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"testing"

	"qdag/config"
	"qdag/errors"
	"qdag/hybridsig"
)

func genesisValidator(t *testing.T, id string, stake uint64, active bool) (config.ValidatorConfig, *hybridsig.PrivateKey) {
	t.Helper()
	pub, priv, err := hybridsig.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	raw, err := pub.MarshalPublic()
	if err != nil {
		t.Fatal(err)
	}
	return config.ValidatorConfig{
		ID:              id,
		ClassicalPubKey: hex.EncodeToString(raw[:ed25519.PublicKeySize]),
		PQCPubKey:       hex.EncodeToString(raw[ed25519.PublicKeySize:]),
		Stake:           stake,
		Reputation:      1.0,
		Active:          active,
	}, priv
}

func fourValidatorGenesis(t *testing.T) *config.GenesisConfig {
	t.Helper()
	cfg := &config.GenesisConfig{ChainID: "qdag-test", MaxParents: 2}
	for i := 1; i <= 4; i++ {
		v, _ := genesisValidator(t, fmt.Sprintf("validator-%d", i), 25, true)
		cfg.Validators = append(cfg.Validators, v)
	}
	return cfg
}

func TestFromGenesisQuorumMath(t *testing.T) {
	r, err := FromGenesis(fourValidatorGenesis(t))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	if snap.Size() != 4 {
		t.Fatalf("size = %d", snap.Size())
	}
	if snap.TotalStake() != 100 {
		t.Fatalf("total stake = %d", snap.TotalStake())
	}
	// strictly more than 2/3 of 100
	if snap.QuorumStake() != 67 {
		t.Fatalf("quorum stake = %d, want 67", snap.QuorumStake())
	}

	ids := snap.ActiveValidators()
	for i := 1; i < len(ids); i++ {
		if ids[i-1] >= ids[i] {
			t.Fatalf("active set not sorted: %v", ids)
		}
	}
}

func TestSnapshotExcludesInactive(t *testing.T) {
	cfg := fourValidatorGenesis(t)
	cfg.Validators[3].Active = false
	r, err := FromGenesis(cfg)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	if snap.Size() != 3 || snap.TotalStake() != 75 {
		t.Fatalf("size = %d stake = %d, want 3/75", snap.Size(), snap.TotalStake())
	}
	if snap.Contains("validator-4") {
		t.Fatal("inactive validator in snapshot")
	}
	if _, err := snap.PublicKeys("validator-4"); !errors.HasCode(err, errors.ErrCodeUnknownValidator) {
		t.Fatalf("inactive key lookup error = %v", err)
	}
	if snap.Stake("validator-4") != 0 {
		t.Fatal("inactive validator reports stake")
	}
}

// A round captures its validator set at start; governance updates landing
// mid-round must not leak into it.
func TestSnapshotImmuneToApply(t *testing.T) {
	r, err := FromGenesis(fourValidatorGenesis(t))
	if err != nil {
		t.Fatal(err)
	}
	snap, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	r.Apply(Entry{ID: "validator-1", Stake: 900, Active: true})

	if snap.Stake("validator-1") != 25 {
		t.Fatalf("snapshot stake mutated: %d", snap.Stake("validator-1"))
	}
	fresh, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Stake("validator-1") != 900 {
		t.Fatalf("new snapshot missing update: %d", fresh.Stake("validator-1"))
	}
}

func TestSnapshotNoActiveSet(t *testing.T) {
	cfg := fourValidatorGenesis(t)
	for i := range cfg.Validators {
		cfg.Validators[i].Active = false
	}
	r, err := FromGenesis(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Snapshot(); !errors.HasCode(err, errors.ErrCodeNoActiveSet) {
		t.Fatalf("empty active set error = %v", err)
	}
}

func TestFromGenesisRejectsDuplicates(t *testing.T) {
	cfg := fourValidatorGenesis(t)
	cfg.Validators[1].ID = cfg.Validators[0].ID
	if _, err := FromGenesis(cfg); err == nil {
		t.Fatal("duplicate validator id accepted")
	}
}

func TestFromGenesisRejectsBadKeys(t *testing.T) {
	cfg := fourValidatorGenesis(t)
	cfg.Validators[0].PQCPubKey = "zz-not-hex"
	if _, err := FromGenesis(cfg); err == nil {
		t.Fatal("invalid hex key accepted")
	}

	cfg = fourValidatorGenesis(t)
	cfg.Validators[0].PQCPubKey = cfg.Validators[0].PQCPubKey[:8]
	if _, err := FromGenesis(cfg); err == nil {
		t.Fatal("truncated key accepted")
	}
}
