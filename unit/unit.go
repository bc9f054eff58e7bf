// Package unit defines the DAG node wrapping one transaction plus parent
// references and cryptographic proofs.
package unit

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"qdag/hybridsig"
	"qdag/primehash"
	"qdag/types"
)

// sigDomain separates unit signatures from any other ed25519/ML-DSA use.
var sigDomain = []byte("QDAG-UNIT-V1\x00")

// Unit is immutable once created. Weight and finality state are tracked by
// the DAG store, not here.
type Unit struct {
	ID           string             `json:"id"`
	ParentIDs    []string           `json:"parent_ids"`
	Tx           *types.Transaction `json:"tx"`
	Creator      string             `json:"creator"`
	ClassicalSig []byte             `json:"classical_sig"`
	PQCSig       []byte             `json:"pqc_sig"`
	PrimeHash    uint64             `json:"prime_hash"`
	Timestamp    uint64             `json:"timestamp"`
}

// SigningBytes is the message covered by both hybrid signature legs:
// the domain tag plus the transaction hash.
func (u *Unit) SigningBytes() []byte {
	txHash := u.Tx.Hash()
	out := make([]byte, 0, len(sigDomain)+len(txHash))
	out = append(out, sigDomain...)
	out = append(out, txHash...)
	return out
}

// contentBytes is the preimage of the unit id. Signatures are excluded so the
// id is stable across re-signing with the same keys.
func (u *Unit) contentBytes() []byte {
	var buf []byte
	buf = append(buf, sigDomain...)
	for _, p := range u.ParentIDs {
		buf = append(buf, p...)
		buf = append(buf, '|')
	}
	buf = append(buf, u.Creator...)
	buf = append(buf, '|')
	buf = append(buf, u.Tx.Hash()...)
	var u8 [8]byte
	binary.LittleEndian.PutUint64(u8[:], u.PrimeHash)
	buf = append(buf, u8[:]...)
	binary.LittleEndian.PutUint64(u8[:], u.Timestamp)
	buf = append(buf, u8[:]...)
	return buf
}

// ComputeID returns the hex-encoded content hash of the unit.
func (u *Unit) ComputeID() string {
	sum := sha256.Sum256(u.contentBytes())
	return hex.EncodeToString(sum[:])
}

// Signature returns both signature legs as a hybridsig.Signature.
func (u *Unit) Signature() hybridsig.Signature {
	return hybridsig.Signature{Classical: u.ClassicalSig, PQC: u.PQCSig}
}

// Validate performs structural checks that need no registry or DAG access.
func (u *Unit) Validate() error {
	if u.Tx == nil {
		return fmt.Errorf("unit has no transaction")
	}
	if len(u.ParentIDs) == 0 {
		return fmt.Errorf("unit has no parents")
	}
	if u.ID != u.ComputeID() {
		return fmt.Errorf("unit id does not match content hash")
	}
	if len(u.ClassicalSig) == 0 || len(u.PQCSig) == 0 {
		return fmt.Errorf("unit is missing a signature leg")
	}
	return nil
}

// New assembles and signs a unit created by the given validator. The prime
// digest is computed over the transaction's canonical payload bytes.
func New(parentIDs []string, tx *types.Transaction, creator string, timestamp uint64, priv *hybridsig.PrivateKey) (*Unit, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction")
	}
	if len(parentIDs) == 0 {
		return nil, fmt.Errorf("no parents selected")
	}
	u := &Unit{
		ParentIDs: append([]string(nil), parentIDs...),
		Tx:        tx,
		Creator:   creator,
		PrimeHash: primehash.Sum(tx.Serialize()),
		Timestamp: timestamp,
	}
	sig := priv.Sign(u.SigningBytes())
	u.ClassicalSig = sig.Classical
	u.PQCSig = sig.PQC
	u.ID = u.ComputeID()
	return u, nil
}

// Genesis builds the deterministic root unit every validator shares. It is
// unsigned and exempt from verification; its id depends only on the chain id.
func Genesis(chainID string) *Unit {
	tx := &types.Transaction{
		Type:      types.TxTypeTransfer,
		Sender:    "genesis",
		Recipient: "genesis",
		Timestamp: 0,
	}
	u := &Unit{
		ParentIDs: nil,
		Tx:        tx,
		Creator:   "genesis:" + chainID,
		PrimeHash: primehash.Sum(tx.Serialize()),
		Timestamp: 0,
	}
	u.ID = u.ComputeID()
	return u
}
