package beaconcontract

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Decode errors
var (
	ErrInvalidLength         = errors.New("invalid length")
	ErrInvalidEncoding       = errors.New("invalid encoding")
	ErrDiscriminatorMismatch = errors.New("discriminator mismatch")
	ErrEventMismatch         = errors.New("event fields do not match encoded data")
)

// DiscriminatorSize is the length of an event discriminator prefix
const DiscriminatorSize = 8

// EncodedSize is the length of a binary-encoded ExecutionObserved:
// discriminator, payer, quote id
const EncodedSize = DiscriminatorSize + PublicKeySize + QuoteIDSize

// ProgramDataPrefix starts every program log line carrying an event
const ProgramDataPrefix = "Program data: "

// Discriminator is an 8-byte type tag placed before an encoded payload
type Discriminator [DiscriminatorSize]byte

// String returns the hex form of the discriminator
func (d Discriminator) String() string {
	return fmt.Sprintf("%x", d[:])
}

// NewDiscriminator returns the first 8 bytes of sha256(preimage)
func NewDiscriminator(preimage string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(preimage))
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

var (
	// EventDiscriminator tags an encoded ExecutionObserved payload
	EventDiscriminator = NewDiscriminator("event:" + EventName)

	// CPIEventDiscriminator tags an event delivered as self-invocation data.
	// The ledger stores this tag as a little-endian u64, so the bytes are the
	// reverse of sha256("anchor:event")[0:8].
	CPIEventDiscriminator = reversed(NewDiscriminator("anchor:event"))
)

func reversed(d Discriminator) Discriminator {
	for i, j := 0, len(d)-1; i < j; i, j = i+1, j-1 {
		d[i], d[j] = d[j], d[i]
	}
	return d
}

// MarshalBinary encodes the event using the fixed consumer layout:
// 8-byte discriminator, 32-byte payer, 32-byte quote id.
func (e ExecutionObserved) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, EncodedSize)
	buf = append(buf, EventDiscriminator[:]...)
	buf = append(buf, e.Payer[:]...)
	buf = append(buf, e.QuoteID[:]...)
	return buf, nil
}

// UnmarshalBinary decodes the fixed layout produced by MarshalBinary.
// Input must be exactly EncodedSize bytes.
func (e *ExecutionObserved) UnmarshalBinary(data []byte) error {
	if len(data) != EncodedSize {
		return fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidLength, EncodedSize, len(data))
	}
	if !bytes.Equal(data[:DiscriminatorSize], EventDiscriminator[:]) {
		return fmt.Errorf("%w: got %x, want %s", ErrDiscriminatorMismatch, data[:DiscriminatorSize], EventDiscriminator)
	}
	copy(e.Payer[:], data[DiscriminatorSize:DiscriminatorSize+PublicKeySize])
	copy(e.QuoteID[:], data[DiscriminatorSize+PublicKeySize:])
	return nil
}

// WrapCPI prefixes an encoded event with the self-invocation discriminator
func WrapCPI(data []byte) []byte {
	out := make([]byte, 0, DiscriminatorSize+len(data))
	out = append(out, CPIEventDiscriminator[:]...)
	return append(out, data...)
}

// DecodeCPI decodes an event delivered as self-invocation data,
// checking both the wrapper and the event discriminator.
func DecodeCPI(raw []byte) (ExecutionObserved, error) {
	var ev ExecutionObserved
	if len(raw) < DiscriminatorSize {
		return ev, fmt.Errorf("%w: expected at least %d bytes, got %d", ErrInvalidLength, DiscriminatorSize, len(raw))
	}
	if !bytes.Equal(raw[:DiscriminatorSize], CPIEventDiscriminator[:]) {
		return ev, fmt.Errorf("%w: wrapper %x, want %s", ErrDiscriminatorMismatch, raw[:DiscriminatorSize], CPIEventDiscriminator)
	}
	if err := ev.UnmarshalBinary(raw[DiscriminatorSize:]); err != nil {
		return ExecutionObserved{}, err
	}
	return ev, nil
}

// FormatProgramData renders encoded event bytes as a program log line
func FormatProgramData(data []byte) string {
	return ProgramDataPrefix + base64.StdEncoding.EncodeToString(data)
}

// ParseProgramData extracts the encoded bytes from a program log line
func ParseProgramData(line string) ([]byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimRight(line, "\r\n"), ProgramDataPrefix)
	if !ok {
		return nil, fmt.Errorf("%w: missing %q prefix", ErrInvalidEncoding, ProgramDataPrefix)
	}
	data, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: program data is not base64: %w", ErrInvalidEncoding, err)
	}
	return data, nil
}
