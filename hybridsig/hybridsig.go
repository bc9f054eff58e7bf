// Package hybridsig pairs a classical Ed25519 signature with an ML-DSA-65
// post-quantum signature. Verification requires both legs to pass, so a
// break of either scheme alone cannot forge a unit.
package hybridsig

import (
	"crypto/ed25519"
	"fmt"

	"github.com/cloudflare/circl/sign"
	"github.com/cloudflare/circl/sign/mldsa/mldsa65"

	"qdag/errors"
)

var pqcScheme sign.Scheme = mldsa65.Scheme()

// PublicKey holds both verification keys of a validator.
type PublicKey struct {
	Classical ed25519.PublicKey
	PQC       sign.PublicKey
}

// PrivateKey holds both signing keys of a validator.
type PrivateKey struct {
	Classical ed25519.PrivateKey
	PQC       sign.PrivateKey
}

// Signature carries the two detached signatures over the same message.
type Signature struct {
	Classical []byte
	PQC       []byte
}

// GenerateKey creates a fresh hybrid keypair.
func GenerateKey() (*PublicKey, *PrivateKey, error) {
	edPub, edPriv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	pqPub, pqPriv, err := pqcScheme.GenerateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate ML-DSA key: %w", err)
	}
	pub := &PublicKey{Classical: edPub, PQC: pqPub}
	priv := &PrivateKey{Classical: edPriv, PQC: pqPriv}
	return pub, priv, nil
}

// Sign produces both signatures over msg.
func (priv *PrivateKey) Sign(msg []byte) Signature {
	return Signature{
		Classical: ed25519.Sign(priv.Classical, msg),
		PQC:       pqcScheme.Sign(priv.PQC, msg, nil),
	}
}

// Public returns the matching public key.
func (priv *PrivateKey) Public() *PublicKey {
	return &PublicKey{
		Classical: priv.Classical.Public().(ed25519.PublicKey),
		PQC:       priv.PQC.Public().(sign.PublicKey),
	}
}

// Verify checks both legs of the signature. AND semantics: a valid classical
// signature with a missing or invalid PQC signature is still a failure.
func (pub *PublicKey) Verify(msg []byte, sig Signature) error {
	if len(sig.Classical) != ed25519.SignatureSize || !ed25519.Verify(pub.Classical, msg, sig.Classical) {
		return errors.NewError(errors.ErrCodeInvalidClassicalSignature, "ed25519 signature verification failed")
	}
	if len(sig.PQC) != pqcScheme.SignatureSize() || !pqcScheme.Verify(pub.PQC, msg, sig.PQC, nil) {
		return errors.NewError(errors.ErrCodeInvalidPQCSignature, "ML-DSA signature verification failed")
	}
	return nil
}

// MarshalPublic encodes the public key as classical||pqc.
func (pub *PublicKey) MarshalPublic() ([]byte, error) {
	pqBytes, err := pub.PQC.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ML-DSA public key: %w", err)
	}
	out := make([]byte, 0, ed25519.PublicKeySize+len(pqBytes))
	out = append(out, pub.Classical...)
	out = append(out, pqBytes...)
	return out, nil
}

// UnmarshalPublic decodes a classical||pqc public key blob.
func UnmarshalPublic(data []byte) (*PublicKey, error) {
	want := ed25519.PublicKeySize + pqcScheme.PublicKeySize()
	if len(data) != want {
		return nil, fmt.Errorf("invalid hybrid public key length %d, want %d", len(data), want)
	}
	pqPub, err := pqcScheme.UnmarshalBinaryPublicKey(data[ed25519.PublicKeySize:])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ML-DSA public key: %w", err)
	}
	return &PublicKey{
		Classical: ed25519.PublicKey(append([]byte(nil), data[:ed25519.PublicKeySize]...)),
		PQC:       pqPub,
	}, nil
}

// MarshalPrivate encodes the private key as classical||pqc.
func (priv *PrivateKey) MarshalPrivate() ([]byte, error) {
	pqBytes, err := priv.PQC.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ML-DSA private key: %w", err)
	}
	out := make([]byte, 0, ed25519.PrivateKeySize+len(pqBytes))
	out = append(out, priv.Classical...)
	out = append(out, pqBytes...)
	return out, nil
}

// UnmarshalPrivate decodes a classical||pqc private key blob.
func UnmarshalPrivate(data []byte) (*PrivateKey, error) {
	want := ed25519.PrivateKeySize + pqcScheme.PrivateKeySize()
	if len(data) != want {
		return nil, fmt.Errorf("invalid hybrid private key length %d, want %d", len(data), want)
	}
	pqPriv, err := pqcScheme.UnmarshalBinaryPrivateKey(data[ed25519.PrivateKeySize:])
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal ML-DSA private key: %w", err)
	}
	return &PrivateKey{
		Classical: ed25519.PrivateKey(append([]byte(nil), data[:ed25519.PrivateKeySize]...)),
		PQC:       pqPriv,
	}, nil
}

// SignatureSize returns the combined size of both signature legs.
func SignatureSize() int {
	return ed25519.SignatureSize + pqcScheme.SignatureSize()
}
