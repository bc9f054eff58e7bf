package p2p

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"qdag/jsonx"
)

// Message kinds carried over the gossip topics.
const (
	KindUnit     = "unit"
	KindProposal = "proposal"
	KindVote     = "vote"
)

// envDomain separates envelope signatures from unit and consensus signing.
var envDomain = []byte("QDAG-ENV-V1\x00")

// Envelope wraps every gossiped message with the sender's identity and a
// classical signature over the payload. Envelopes that fail verification are
// dropped at the transport edge and never reach consensus.
type Envelope struct {
	RoundID     uint64          `json:"round_id"`
	ValidatorID string          `json:"validator_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Signature   []byte          `json:"signature"`
}

func (e *Envelope) signingBytes() []byte {
	buf := make([]byte, 0, len(envDomain)+len(e.Payload)+len(e.ValidatorID)+len(e.Kind)+8)
	buf = append(buf, envDomain...)
	buf = append(buf, e.Kind...)
	buf = append(buf, '|')
	buf = append(buf, e.ValidatorID...)
	buf = append(buf, '|')
	buf = append(buf, byte(e.RoundID>>56), byte(e.RoundID>>48), byte(e.RoundID>>40), byte(e.RoundID>>32),
		byte(e.RoundID>>24), byte(e.RoundID>>16), byte(e.RoundID>>8), byte(e.RoundID))
	buf = append(buf, e.Payload...)
	return buf
}

// NewEnvelope marshals payload and signs the envelope with the sender's
// classical key.
func NewEnvelope(kind string, roundID uint64, validatorID string, payload interface{}, priv ed25519.PrivateKey) (*Envelope, error) {
	raw, err := jsonx.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", kind, err)
	}
	e := &Envelope{
		RoundID:     roundID,
		ValidatorID: validatorID,
		Kind:        kind,
		Payload:     raw,
	}
	e.Signature = ed25519.Sign(priv, e.signingBytes())
	return e, nil
}

// Verify checks the envelope signature against the sender's classical key.
func (e *Envelope) Verify(pub ed25519.PublicKey) bool {
	if len(e.Signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, e.signingBytes(), e.Signature)
}
