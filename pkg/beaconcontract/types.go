// Package beaconcontract defines the consumer-facing types emitted by the execution beacon.
// Indexers and auditors decode events using these types and the fixed binary layout in encoding.go.
package beaconcontract

import (
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeySize is the size of a signer public key in bytes
const PublicKeySize = 32

// QuoteIDSize is the size of a quote identifier in bytes
const QuoteIDSize = 32

// EventName is the event type name used to derive the event discriminator
const EventName = "ExecutionObserved"

// PublicKey is a 32-byte signer identity. Its text form is base58.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a base58 public key
func ParsePublicKey(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: public key is not base58: %w", ErrInvalidEncoding, err)
	}
	if len(raw) != PublicKeySize {
		return pk, fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidLength, PublicKeySize, len(raw))
	}
	copy(pk[:], raw)
	return pk, nil
}

// String returns the base58 form of the key
func (pk PublicKey) String() string {
	return base58.Encode(pk[:])
}

// IsZero reports whether the key is all zero bytes
func (pk PublicKey) IsZero() bool {
	return pk == PublicKey{}
}

// MarshalText implements encoding.TextMarshaler
func (pk PublicKey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (pk *PublicKey) UnmarshalText(text []byte) error {
	parsed, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}

// QuoteID is an opaque 32-byte caller-chosen identifier. Its text form is lowercase hex.
type QuoteID [QuoteIDSize]byte

// ParseQuoteID decodes a 64-character hex quote identifier
func ParseQuoteID(s string) (QuoteID, error) {
	var q QuoteID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return q, fmt.Errorf("%w: quote id is not hex: %w", ErrInvalidEncoding, err)
	}
	if len(raw) != QuoteIDSize {
		return q, fmt.Errorf("%w: quote id must be %d bytes, got %d", ErrInvalidLength, QuoteIDSize, len(raw))
	}
	copy(q[:], raw)
	return q, nil
}

// String returns the hex form of the quote id
func (q QuoteID) String() string {
	return hex.EncodeToString(q[:])
}

// MarshalText implements encoding.TextMarshaler
func (q QuoteID) MarshalText() ([]byte, error) {
	return []byte(q.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (q *QuoteID) UnmarshalText(text []byte) error {
	parsed, err := ParseQuoteID(string(text))
	if err != nil {
		return err
	}
	*q = parsed
	return nil
}

// ExecutionObserved is the single record the beacon emits: the authenticated payer
// attests that the referenced quote was executed. It carries no sequence number or
// timestamp; ordering and deduplication belong to the consumer.
type ExecutionObserved struct {
	Payer   PublicKey `json:"payer"`
	QuoteID QuoteID   `json:"quoteId"`
}
