// Package signer provides the authenticators that decide whether a caller is a valid
// signer for an emit_execution call.
package signer

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/jarrod-lowe/execution-beacon/internal/beacon"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
	"github.com/mr-tron/base58"
)

// InvocationDomain prefixes every signed invocation message
const InvocationDomain = "execution-beacon:emit_execution:"

var (
	// ErrMissingSignature is returned when the caller presented no signature
	ErrMissingSignature = errors.New("missing signature")
	// ErrInvalidSignature is returned when the signature does not verify, or when the
	// key or the signature's R point is a weak (small-order or non-canonical) encoding
	ErrInvalidSignature = errors.New("invalid signature")
)

// InvocationMessage is the canonical byte string a caller signs to invoke
// emit_execution for quoteID on the deployment identified by programID.
// Format: InvocationDomain || programID || quoteID
func InvocationMessage(programID beaconcontract.PublicKey, quoteID beaconcontract.QuoteID) []byte {
	msg := make([]byte, 0, len(InvocationDomain)+beaconcontract.PublicKeySize+beaconcontract.QuoteIDSize)
	msg = append(msg, InvocationDomain...)
	msg = append(msg, programID[:]...)
	msg = append(msg, quoteID[:]...)
	return msg
}

// SignInvocation signs the invocation message with priv. Used by clients and tests.
func SignInvocation(priv ed25519.PrivateKey, programID beaconcontract.PublicKey, quoteID beaconcontract.QuoteID) []byte {
	return ed25519.Sign(priv, InvocationMessage(programID, quoteID))
}

// ParseSignature decodes a base58 Ed25519 signature
func ParseSignature(s string) ([]byte, error) {
	sig, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("signature is not base58: %w", err)
	}
	if len(sig) != ed25519.SignatureSize {
		return nil, fmt.Errorf("invalid signature size: %d", len(sig))
	}
	return sig, nil
}

// Ed25519Authenticator accepts a caller whose Signature verifies against its
// PublicKey over the invocation message for this deployment
type Ed25519Authenticator struct {
	ProgramID beaconcontract.PublicKey
}

// NewEd25519Authenticator creates an authenticator bound to programID
func NewEd25519Authenticator(programID beaconcontract.PublicKey) *Ed25519Authenticator {
	return &Ed25519Authenticator{ProgramID: programID}
}

// Authenticate verifies the caller's signature
func (a *Ed25519Authenticator) Authenticate(ctx context.Context, caller beacon.Caller, quoteID beaconcontract.QuoteID) error {
	if len(caller.Signature) == 0 {
		return ErrMissingSignature
	}
	if len(caller.Signature) != ed25519.SignatureSize {
		return fmt.Errorf("%w: size %d", ErrInvalidSignature, len(caller.Signature))
	}

	// Strict verification: A and R must be canonical and not of small order
	if err := checkStrictPoint(caller.PublicKey[:]); err != nil {
		return fmt.Errorf("%w: public key %w", ErrInvalidSignature, err)
	}
	if err := checkStrictPoint(caller.Signature[:32]); err != nil {
		return fmt.Errorf("%w: R %w", ErrInvalidSignature, err)
	}

	pub := ed25519.PublicKey(caller.PublicKey[:])
	if !ed25519.Verify(pub, InvocationMessage(a.ProgramID, quoteID), caller.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// checkStrictPoint rejects encodings that are not canonical or that decode to a
// point in the small-order subgroup
func checkStrictPoint(b []byte) error {
	p, err := new(edwards25519.Point).SetBytes(b)
	if err != nil {
		return fmt.Errorf("is not a curve point: %w", err)
	}
	if !bytes.Equal(p.Bytes(), b) {
		return errors.New("is not canonically encoded")
	}
	if new(edwards25519.Point).MultByCofactor(p).Equal(edwards25519.NewIdentityPoint()) == 1 {
		return errors.New("has small order")
	}
	return nil
}
