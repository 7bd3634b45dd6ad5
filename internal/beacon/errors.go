package beacon

import "errors"

// Errors returned by EmitExecution. Test with errors.Is; the cause is wrapped alongside.
var (
	// ErrUnauthenticated means the caller failed the signer check. No event was built.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrEmissionFailure means the sink did not accept the event. Nothing was emitted.
	ErrEmissionFailure = errors.New("emission failure")
)
