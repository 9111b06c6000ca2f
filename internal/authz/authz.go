// Package authz verifies early-exit authorizations. Authorities are
// base58-encoded ed25519 public keys; a trigger is a detached ed25519
// signature over the canonical early-exit message for the sale.
package authz

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// Authorization errors.
var (
	ErrInvalidPublicKey = errors.New("invalid authority public key")
	ErrUnknownAuthority = errors.New("public key is not a configured authority")
	ErrBadSignature     = errors.New("signature does not verify")
)

// Verifier checks early-exit triggers against a fixed authority set.
type Verifier struct {
	keys map[string]ed25519.PublicKey
}

// NewVerifier decodes and validates the authority set. Every key must be a
// 32-byte base58 string that decodes to a point on the ed25519 curve.
func NewVerifier(authorities []string) (*Verifier, error) {
	keys := make(map[string]ed25519.PublicKey, len(authorities))
	for _, a := range authorities {
		pk, err := decodeKey(a)
		if err != nil {
			return nil, fmt.Errorf("authority %q: %w", a, err)
		}
		keys[a] = pk
	}
	return &Verifier{keys: keys}, nil
}

// Verify checks that publicKey is a configured authority and that the
// signature verifies over the message.
func (v *Verifier) Verify(message, signature []byte, publicKey string) error {
	pk, ok := v.keys[publicKey]
	if !ok {
		return ErrUnknownAuthority
	}
	if len(signature) != ed25519.SignatureSize || !ed25519.Verify(pk, message, signature) {
		return ErrBadSignature
	}
	return nil
}

// EarlyExitMessage returns the canonical bytes an authority signs to
// trigger an early exit: the sale ID bound to the epoch the request was
// built for, so a stale authorization cannot be replayed onto a later sale
// state.
func EarlyExitMessage(saleID string, epoch int64) []byte {
	return []byte(fmt.Sprintf("early-exit:%s:%d", saleID, epoch))
}

// decodeKey decodes a base58 key and rejects byte strings that are not on
// the ed25519 curve.
func decodeKey(s string) (ed25519.PublicKey, error) {
	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrInvalidPublicKey, len(raw))
	}
	if _, err := new(edwards25519.Point).SetBytes(raw); err != nil {
		return nil, fmt.Errorf("%w: not on curve", ErrInvalidPublicKey)
	}
	return ed25519.PublicKey(raw), nil
}
