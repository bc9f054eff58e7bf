package types

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/holiman/uint256"

	"qdag/common"
	"qdag/jsonx"
)

const TxTypeTransfer = 0

// Transaction is the payload embedded in a unit. Sender and Recipient are
// base58 ed25519 public keys; Amount and Fee are 256-bit unsigned values.
type Transaction struct {
	Type      int32        `json:"type"`
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Amount    *uint256.Int `json:"amount"`
	Fee       *uint256.Int `json:"fee"`
	Nonce     uint64       `json:"nonce"`
	Timestamp uint64       `json:"timestamp"`
	TextData  string       `json:"text_data,omitempty"`
	Signature string       `json:"signature,omitempty"`
}

// Serialize returns the canonical byte form covered by the sender signature.
// The signature field itself is excluded.
func (tx *Transaction) Serialize() []byte {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.Dec()
	}
	fee := "0"
	if tx.Fee != nil {
		fee = tx.Fee.Dec()
	}
	metadata := fmt.Sprintf("%d|%s|%s|%s|%s|%d|%d|%s", tx.Type, tx.Sender, tx.Recipient, amount, fee, tx.Nonce, tx.Timestamp, tx.TextData)
	return []byte(metadata)
}

// Verify checks the sender's ed25519 signature over Serialize().
func (tx *Transaction) Verify() bool {
	pub, err := base58ToEd25519(tx.Sender)
	if err != nil {
		return false
	}
	signature, err := common.DecodeBase58ToBytes(tx.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, tx.Serialize(), signature)
}

// Sign sets the sender signature using the given private key.
func (tx *Transaction) Sign(priv ed25519.PrivateKey) {
	sig := ed25519.Sign(priv, tx.Serialize())
	tx.Signature = common.EncodeBytesToBase58(sig)
}

func (tx *Transaction) Bytes() []byte {
	b, _ := jsonx.Marshal(tx)
	return b
}

// Hash is the content hash of the full transaction, hex encoded.
func (tx *Transaction) Hash() string {
	sum256 := sha256.Sum256(tx.Serialize())
	return hex.EncodeToString(sum256[:])
}

// PayloadHash covers everything except sender identity and nonce. Two
// transactions from the same (sender, nonce) conflict iff their payload
// hashes differ.
func (tx *Transaction) PayloadHash() string {
	amount := "0"
	if tx.Amount != nil {
		amount = tx.Amount.Dec()
	}
	fee := "0"
	if tx.Fee != nil {
		fee = tx.Fee.Dec()
	}
	payload := fmt.Sprintf("%d|%s|%s|%s|%d|%s", tx.Type, tx.Recipient, amount, fee, tx.Timestamp, tx.TextData)
	sum256 := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum256[:])
}

// ConflictsWith reports whether other is a double-spend sibling: same
// (sender, nonce) but a differing payload.
func (tx *Transaction) ConflictsWith(other *Transaction) bool {
	if other == nil {
		return false
	}
	return tx.Sender == other.Sender && tx.Nonce == other.Nonce && tx.PayloadHash() != other.PayloadHash()
}

func base58ToEd25519(addr string) (ed25519.PublicKey, error) {
	b, err := common.DecodeBase58ToBytes(addr)
	if err != nil || len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid pubkey")
	}
	return ed25519.PublicKey(b), nil
}
