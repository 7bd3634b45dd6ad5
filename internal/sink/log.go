package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// LogSink writes each event as one "Program data: <base64>" line, the format
// ledger log subscribers already parse. Readers must skip lines that do not decode;
// a failed Emit may leave a truncated fragment on its own line.
type LogSink struct {
	mu  sync.Mutex
	w   io.Writer
	cpi bool
}

// NewLogSink creates a LogSink writing to w. When cpi is true the encoded event is
// prefixed with the self-invocation discriminator.
func NewLogSink(w io.Writer, cpi bool) *LogSink {
	return &LogSink{w: w, cpi: cpi}
}

// Emit writes the line with a single Write call
func (s *LogSink) Emit(ctx context.Context, ev beaconcontract.ExecutionObserved) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := ev.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if s.cpi {
		data = beaconcontract.WrapCPI(data)
	}
	line := []byte(beaconcontract.FormatProgramData(data) + "\n")

	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.w.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write program data: %w", err)
	}
	if n != len(line) {
		// Terminate the fragment so it stays on its own line. A truncated line never
		// decodes to the exact event length, so readers drop it.
		if n > 0 {
			_, _ = s.w.Write([]byte("\n"))
		}
		return fmt.Errorf("failed to write program data: %w", io.ErrShortWrite)
	}
	return nil
}
