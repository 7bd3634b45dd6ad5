package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jarrod-lowe/execution-beacon/internal/beacon"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// DefaultPublicKeyClaim is the authorizer claim carrying the caller's registered key
const DefaultPublicKeyClaim = "custom:beacon_public_key"

var (
	// ErrMissingPrincipal is returned when the request carried no authorizer claim
	ErrMissingPrincipal = errors.New("no host-verified principal")
	// ErrPrincipalMismatch is returned when the claimed key is not the payer
	ErrPrincipalMismatch = errors.New("principal does not match payer")
	// ErrNoAuthenticators is returned by Any when it was given nothing to try
	ErrNoAuthenticators = errors.New("no authenticators configured")
)

// ClaimsAuthenticator trusts the host's verification of the caller. The handler copies
// the named authorizer claim into Caller.Principal; API Gateway populates that context
// and clients cannot spoof it.
type ClaimsAuthenticator struct {
	Claim string
}

// NewClaimsAuthenticator creates a ClaimsAuthenticator. An empty claim uses DefaultPublicKeyClaim.
func NewClaimsAuthenticator(claim string) *ClaimsAuthenticator {
	if claim == "" {
		claim = DefaultPublicKeyClaim
	}
	return &ClaimsAuthenticator{Claim: claim}
}

// Authenticate requires the host-asserted principal to equal the payer key
func (a *ClaimsAuthenticator) Authenticate(ctx context.Context, caller beacon.Caller, quoteID beaconcontract.QuoteID) error {
	if caller.Principal == "" {
		return ErrMissingPrincipal
	}
	if caller.Principal != caller.PublicKey.String() {
		return ErrPrincipalMismatch
	}
	return nil
}

// Any accepts a caller when any of auths accepts it, trying them in order
func Any(auths ...beacon.Authenticator) beacon.Authenticator {
	return beacon.AuthenticatorFunc(func(ctx context.Context, caller beacon.Caller, quoteID beaconcontract.QuoteID) error {
		if len(auths) == 0 {
			return ErrNoAuthenticators
		}
		var errs []error
		for i, auth := range auths {
			err := auth.Authenticate(ctx, caller, quoteID)
			if err == nil {
				return nil
			}
			errs = append(errs, fmt.Errorf("authenticator %d: %w", i, err))
		}
		return errors.Join(errs...)
	})
}
