package beaconcontract

import (
	"encoding/base64"
	"fmt"
)

// EventTypeExecutionObserved is the eventType carried by queue messages
const EventTypeExecutionObserved = "execution.observed"

// EventMessage is the JSON envelope delivered to queue and function consumers
type EventMessage struct {
	EventType string    `json:"eventType"` // Always "execution.observed"
	ProgramID PublicKey `json:"programId"` // Deployment identifier of the emitting beacon
	Payer     PublicKey `json:"payer"`
	QuoteID   QuoteID   `json:"quoteId"`
	Data      string    `json:"data"` // base64 of the fixed binary layout
}

// NewEventMessage wraps an event for delivery
func NewEventMessage(programID PublicKey, ev ExecutionObserved) (EventMessage, error) {
	data, err := ev.MarshalBinary()
	if err != nil {
		return EventMessage{}, fmt.Errorf("failed to encode event: %w", err)
	}
	return EventMessage{
		EventType: EventTypeExecutionObserved,
		ProgramID: programID,
		Payer:     ev.Payer,
		QuoteID:   ev.QuoteID,
		Data:      base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Event decodes Data and checks it agrees with the readable fields.
// Consumers should trust Data; the other fields exist for filtering and logs.
func (m EventMessage) Event() (ExecutionObserved, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Data)
	if err != nil {
		return ExecutionObserved{}, fmt.Errorf("%w: data is not base64: %w", ErrInvalidEncoding, err)
	}

	var ev ExecutionObserved
	if err := ev.UnmarshalBinary(raw); err != nil {
		return ExecutionObserved{}, err
	}

	if ev.Payer != m.Payer || ev.QuoteID != m.QuoteID {
		return ExecutionObserved{}, ErrEventMismatch
	}
	return ev, nil
}
