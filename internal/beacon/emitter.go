// Package beacon implements the execution beacon: authenticate the caller, build one
// ExecutionObserved event, hand it to the emission sink.
package beacon

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "execution-beacon"

// Caller is the identity presented for a single call, plus whatever proof the
// configured Authenticator inspects. It is never retained.
type Caller struct {
	PublicKey beaconcontract.PublicKey
	Signature []byte // Signature over the invocation message, if any
	Principal string // Identity asserted by the host (e.g. an authorizer claim), if any
}

// Authenticator decides whether the caller proved control of its public key for this call
type Authenticator interface {
	Authenticate(ctx context.Context, caller Caller, quoteID beaconcontract.QuoteID) error
}

// AuthenticatorFunc adapts a function to Authenticator
type AuthenticatorFunc func(ctx context.Context, caller Caller, quoteID beaconcontract.QuoteID) error

// Authenticate calls f
func (f AuthenticatorFunc) Authenticate(ctx context.Context, caller Caller, quoteID beaconcontract.QuoteID) error {
	return f(ctx, caller, quoteID)
}

// Sink is the emission channel. Emit must either deliver the whole event or return an error.
type Sink interface {
	Emit(ctx context.Context, ev beaconcontract.ExecutionObserved) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ctx context.Context, ev beaconcontract.ExecutionObserved) error

// Emit calls f
func (f SinkFunc) Emit(ctx context.Context, ev beaconcontract.ExecutionObserved) error {
	return f(ctx, ev)
}

// Emitter is safe for concurrent use; it holds no per-call state
type Emitter struct {
	auth   Authenticator
	sink   Sink
	logger *slog.Logger
}

// NewEmitter creates an Emitter. A nil logger uses slog.Default().
// A nil authenticator rejects every call.
func NewEmitter(auth Authenticator, sink Sink, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{
		auth:   auth,
		sink:   sink,
		logger: logger,
	}
}

// EmitExecution records that caller attests quoteID was executed.
// Exactly one event is emitted on success. There is no internal retry.
func (e *Emitter) EmitExecution(ctx context.Context, caller Caller, quoteID beaconcontract.QuoteID) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "EmitExecution",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("beacon.payer", caller.PublicKey.String()),
			attribute.String("beacon.quote_id", quoteID.String()),
		),
	)
	defer span.End()

	if err := e.authenticate(ctx, caller, quoteID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unauthenticated")
		e.logger.WarnContext(ctx, "Rejected unauthenticated caller",
			slog.String("payer", caller.PublicKey.String()),
			slog.String("quote_id", quoteID.String()),
			slog.String("error", err.Error()),
		)
		return err
	}

	ev := beaconcontract.ExecutionObserved{
		Payer:   caller.PublicKey,
		QuoteID: quoteID,
	}

	if e.sink == nil {
		err := fmt.Errorf("%w: no sink configured", ErrEmissionFailure)
		span.RecordError(err)
		span.SetStatus(codes.Error, "emission failure")
		return err
	}

	if err := e.sink.Emit(ctx, ev); err != nil {
		wrapped := fmt.Errorf("%w: %w", ErrEmissionFailure, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, "emission failure")
		e.logger.ErrorContext(ctx, "Failed to emit execution event",
			slog.String("payer", ev.Payer.String()),
			slog.String("quote_id", ev.QuoteID.String()),
			slog.String("error", err.Error()),
		)
		return wrapped
	}

	e.logger.InfoContext(ctx, "Execution observed",
		slog.String("payer", ev.Payer.String()),
		slog.String("quote_id", ev.QuoteID.String()),
	)
	return nil
}

// authenticate fails closed: no authenticator means no caller is valid
func (e *Emitter) authenticate(ctx context.Context, caller Caller, quoteID beaconcontract.QuoteID) error {
	if e.auth == nil {
		return fmt.Errorf("%w: no authenticator configured", ErrUnauthenticated)
	}
	if err := e.auth.Authenticate(ctx, caller, quoteID); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}
	return nil
}
