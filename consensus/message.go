package consensus

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"qdag/jsonx"
)

// Proposal is a validator's signed candidate order for one round.
type Proposal struct {
	RoundID     uint64   `json:"round_id"`
	ValidatorID string   `json:"validator_id"`
	Order       []string `json:"order"`
	Signature   []byte   `json:"signature"`
}

// Vote is a stake-weighted agree/disagree on an order. OrderHash identifies
// the order the voter computed; Agree is false for explicit dissent and for
// the padding votes synthesized on timeout.
type Vote struct {
	RoundID     uint64 `json:"round_id"`
	ValidatorID string `json:"validator_id"`
	OrderHash   string `json:"order_hash"`
	Agree       bool   `json:"agree"`
	Signature   []byte `json:"signature"`
}

// OrderHash gives candidate orders a compact identity for vote tallying.
// Identical sequences hash identically on every validator.
func OrderHash(order []string) string {
	sum := sha256.Sum256([]byte(strings.Join(order, "|")))
	return hex.EncodeToString(sum[:])
}

// serializeProposal covers everything except the signature
func (p *Proposal) serialize() []byte {
	data, _ := jsonx.Marshal(struct {
		RoundID     uint64   `json:"round_id"`
		ValidatorID string   `json:"validator_id"`
		Order       []string `json:"order"`
	}{
		RoundID:     p.RoundID,
		ValidatorID: p.ValidatorID,
		Order:       p.Order,
	})
	return data
}

// Sign proposal with the validator's classical signing key
func (p *Proposal) Sign(priv ed25519.PrivateKey) {
	p.Signature = ed25519.Sign(priv, p.serialize())
}

// VerifySignature checks the proposal signature with the sender's public key
func (p *Proposal) VerifySignature(pub ed25519.PublicKey) bool {
	if len(p.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, p.serialize(), p.Signature)
}

// Validate basic shape checks before any cryptography
func (p *Proposal) Validate() error {
	if p.ValidatorID == "" {
		return fmt.Errorf("missing validator id")
	}
	if len(p.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	return nil
}

func (v *Vote) serialize() []byte {
	data, _ := jsonx.Marshal(struct {
		RoundID     uint64 `json:"round_id"`
		ValidatorID string `json:"validator_id"`
		OrderHash   string `json:"order_hash"`
		Agree       bool   `json:"agree"`
	}{
		RoundID:     v.RoundID,
		ValidatorID: v.ValidatorID,
		OrderHash:   v.OrderHash,
		Agree:       v.Agree,
	})
	return data
}

// Sign vote with the validator's classical signing key
func (v *Vote) Sign(priv ed25519.PrivateKey) {
	v.Signature = ed25519.Sign(priv, v.serialize())
}

// VerifySignature checks the vote signature with the sender's public key
func (v *Vote) VerifySignature(pub ed25519.PublicKey) bool {
	if len(v.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, v.serialize(), v.Signature)
}

// Validate basic shape checks before any cryptography
func (v *Vote) Validate() error {
	if v.ValidatorID == "" {
		return fmt.Errorf("missing validator id")
	}
	if len(v.Signature) == 0 {
		return fmt.Errorf("missing signature")
	}
	return nil
}
