package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jarrod-lowe/execution-beacon/internal/beacon"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// Compile-time checks that every sink satisfies beacon.Sink
var (
	_ beacon.Sink = (*SQSSink)(nil)
	_ beacon.Sink = (*LambdaSink)(nil)
	_ beacon.Sink = (*LogSink)(nil)
)

// MockSQSClient implements SQSClient for testing
type MockSQSClient struct {
	SendMessageInputs []*sqs.SendMessageInput
	SendMessageErr    error
}

func (m *MockSQSClient) SendMessage(ctx context.Context, input *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	m.SendMessageInputs = append(m.SendMessageInputs, input)
	if m.SendMessageErr != nil {
		return nil, m.SendMessageErr
	}
	return &sqs.SendMessageOutput{MessageId: aws.String("msg-1")}, nil
}

// MockLambdaClient implements LambdaClient for testing
type MockLambdaClient struct {
	InvokeInputs []*lambda.InvokeInput
	InvokeOutput *lambda.InvokeOutput
	InvokeErr    error
}

func (m *MockLambdaClient) Invoke(ctx context.Context, input *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	m.InvokeInputs = append(m.InvokeInputs, input)
	if m.InvokeErr != nil {
		return nil, m.InvokeErr
	}
	if m.InvokeOutput != nil {
		return m.InvokeOutput, nil
	}
	return &lambda.InvokeOutput{StatusCode: 202}, nil
}

// failingWriter fails or short-writes every call
type failingWriter struct {
	err   error
	short bool
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.short {
		return len(p) / 2, nil
	}
	return 0, w.err
}

// partialWriter accepts only half of its first write, then everything
type partialWriter struct {
	bytes.Buffer
	calls int
}

func (w *partialWriter) Write(p []byte) (int, error) {
	w.calls++
	if w.calls == 1 {
		return w.Buffer.Write(p[:len(p)/2])
	}
	return w.Buffer.Write(p)
}

func testEvent() beaconcontract.ExecutionObserved {
	var ev beaconcontract.ExecutionObserved
	ev.Payer[0] = 0x11
	ev.QuoteID[31] = 0x01
	return ev
}

func testProgramID() beaconcontract.PublicKey {
	var pk beaconcontract.PublicKey
	pk[0] = 0x99
	return pk
}

func TestSQSSink_Emit_SendsEventMessage(t *testing.T) {
	mockSQS := &MockSQSClient{}
	queueURL := "https://sqs.ap-southeast-2.amazonaws.com/123456789012/executions"
	s := NewSQSSink(mockSQS, queueURL, testProgramID())

	if err := s.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(mockSQS.SendMessageInputs) != 1 {
		t.Fatalf("expected 1 SendMessage call, got %d", len(mockSQS.SendMessageInputs))
	}

	input := mockSQS.SendMessageInputs[0]
	if aws.ToString(input.QueueUrl) != queueURL {
		t.Errorf("unexpected queue URL: %s", aws.ToString(input.QueueUrl))
	}
	if input.MessageGroupId != nil || input.MessageDeduplicationId != nil {
		t.Error("expected no FIFO fields on a standard queue")
	}
	if attr, ok := input.MessageAttributes["eventType"]; !ok || aws.ToString(attr.StringValue) != "execution.observed" {
		t.Errorf("expected eventType attribute, got %+v", input.MessageAttributes)
	}

	var msg beaconcontract.EventMessage
	if err := json.Unmarshal([]byte(aws.ToString(input.MessageBody)), &msg); err != nil {
		t.Fatalf("failed to unmarshal message body: %v", err)
	}
	if msg.ProgramID != testProgramID() {
		t.Errorf("expected program id %s, got %s", testProgramID(), msg.ProgramID)
	}
	ev, err := msg.Event()
	if err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev != testEvent() {
		t.Errorf("expected %+v, got %+v", testEvent(), ev)
	}
}

func TestSQSSink_Emit_FIFOQueueUsesDistinctDedupIDs(t *testing.T) {
	mockSQS := &MockSQSClient{}
	s := NewSQSSink(mockSQS, "https://sqs.ap-southeast-2.amazonaws.com/123456789012/executions.fifo", testProgramID())

	ev := testEvent()
	for i := 0; i < 2; i++ {
		if err := s.Emit(context.Background(), ev); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}

	if len(mockSQS.SendMessageInputs) != 2 {
		t.Fatalf("expected 2 SendMessage calls, got %d", len(mockSQS.SendMessageInputs))
	}

	first, second := mockSQS.SendMessageInputs[0], mockSQS.SendMessageInputs[1]
	if aws.ToString(first.MessageGroupId) != ev.Payer.String() {
		t.Errorf("expected group id %s, got %s", ev.Payer, aws.ToString(first.MessageGroupId))
	}
	if aws.ToString(first.MessageDeduplicationId) == "" {
		t.Fatal("expected dedup id to be set")
	}
	if aws.ToString(first.MessageDeduplicationId) == aws.ToString(second.MessageDeduplicationId) {
		t.Error("expected identical events to get distinct dedup ids")
	}
}

func TestSQSSink_Emit_PropagatesError(t *testing.T) {
	sqsErr := errors.New("SQS error")
	s := NewSQSSink(&MockSQSClient{SendMessageErr: sqsErr}, "https://sqs.ap-southeast-2.amazonaws.com/123456789012/q", testProgramID())

	err := s.Emit(context.Background(), testEvent())
	if !errors.Is(err, sqsErr) {
		t.Errorf("expected wrapped SQS error, got %v", err)
	}
}

func TestSQSSink_WithEmitter_FailureIsEmissionFailure(t *testing.T) {
	s := NewSQSSink(&MockSQSClient{SendMessageErr: errors.New("SQS error")}, "https://sqs.ap-southeast-2.amazonaws.com/123456789012/q", testProgramID())
	allow := beacon.AuthenticatorFunc(func(ctx context.Context, caller beacon.Caller, quoteID beaconcontract.QuoteID) error {
		return nil
	})
	emitter := beacon.NewEmitter(allow, s, nil)

	err := emitter.EmitExecution(context.Background(), beacon.Caller{}, beaconcontract.QuoteID{})
	if !errors.Is(err, beacon.ErrEmissionFailure) {
		t.Errorf("expected ErrEmissionFailure, got %v", err)
	}
}

func TestARNToQueueURL(t *testing.T) {
	tests := []struct {
		arn  string
		want string
	}{
		{"arn:aws:sqs:ap-southeast-2:123456789012:executions", "https://sqs.ap-southeast-2.amazonaws.com/123456789012/executions"},
		{"arn:aws:sqs:us-east-1:123456789012:executions.fifo", "https://sqs.us-east-1.amazonaws.com/123456789012/executions.fifo"},
		{"arn:aws:lambda:us-east-1:123456789012:function", ""},
		{"not-an-arn", ""},
	}

	for _, tt := range tests {
		if got := ARNToQueueURL(tt.arn); got != tt.want {
			t.Errorf("ARNToQueueURL(%q) = %q, want %q", tt.arn, got, tt.want)
		}
	}
}

func TestLambdaSink_Emit_InvokesAsync(t *testing.T) {
	mockLambda := &MockLambdaClient{}
	s := NewLambdaSink(mockLambda, "execution-indexer", testProgramID())

	if err := s.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if len(mockLambda.InvokeInputs) != 1 {
		t.Fatalf("expected 1 Invoke call, got %d", len(mockLambda.InvokeInputs))
	}
	input := mockLambda.InvokeInputs[0]
	if aws.ToString(input.FunctionName) != "execution-indexer" {
		t.Errorf("unexpected function name: %s", aws.ToString(input.FunctionName))
	}
	if input.InvocationType != lambdatypes.InvocationTypeEvent {
		t.Errorf("expected Event invocation type, got %s", input.InvocationType)
	}

	var msg beaconcontract.EventMessage
	if err := json.Unmarshal(input.Payload, &msg); err != nil {
		t.Fatalf("failed to unmarshal payload: %v", err)
	}
	if msg.EventType != beaconcontract.EventTypeExecutionObserved {
		t.Errorf("unexpected event type: %s", msg.EventType)
	}
}

func TestLambdaSink_Emit_Failures(t *testing.T) {
	tests := []struct {
		name   string
		client *MockLambdaClient
	}{
		{"invoke error", &MockLambdaClient{InvokeErr: errors.New("throttled")}},
		{"function error", &MockLambdaClient{InvokeOutput: &lambda.InvokeOutput{StatusCode: 202, FunctionError: aws.String("Unhandled")}}},
		{"bad status", &MockLambdaClient{InvokeOutput: &lambda.InvokeOutput{StatusCode: 500}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewLambdaSink(tt.client, "execution-indexer", testProgramID())
			if err := s.Emit(context.Background(), testEvent()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLogSink_Emit_WritesProgramDataLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(&buf, false)

	if err := s.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	line := buf.String()
	if !strings.HasPrefix(line, "Program data: ") || !strings.HasSuffix(line, "\n") {
		t.Fatalf("unexpected line: %q", line)
	}

	data, err := beaconcontract.ParseProgramData(line)
	if err != nil {
		t.Fatalf("failed to parse line: %v", err)
	}
	var ev beaconcontract.ExecutionObserved
	if err := ev.UnmarshalBinary(data); err != nil {
		t.Fatalf("failed to decode event: %v", err)
	}
	if ev != testEvent() {
		t.Errorf("expected %+v, got %+v", testEvent(), ev)
	}
}

func TestLogSink_Emit_CPIWrapped(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(&buf, true)

	if err := s.Emit(context.Background(), testEvent()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	data, err := beaconcontract.ParseProgramData(buf.String())
	if err != nil {
		t.Fatalf("failed to parse line: %v", err)
	}
	ev, err := beaconcontract.DecodeCPI(data)
	if err != nil {
		t.Fatalf("failed to decode CPI data: %v", err)
	}
	if ev != testEvent() {
		t.Errorf("expected %+v, got %+v", testEvent(), ev)
	}
}

func TestLogSink_Emit_WriteFailures(t *testing.T) {
	writeErr := errors.New("disk full")

	if err := NewLogSink(&failingWriter{err: writeErr}, false).Emit(context.Background(), testEvent()); !errors.Is(err, writeErr) {
		t.Errorf("expected write error, got %v", err)
	}
	if err := NewLogSink(&failingWriter{short: true}, false).Emit(context.Background(), testEvent()); err == nil {
		t.Error("expected short write error, got nil")
	}
}

func TestLogSink_Emit_CancelledContext(t *testing.T) {
	var buf bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := NewLogSink(&buf, false).Emit(ctx, testEvent()); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written, got %q", buf.String())
	}
}

func TestLogSink_Emit_ShortWriteLeavesNoDecodableLine(t *testing.T) {
	for _, cpi := range []bool{false, true} {
		w := &partialWriter{}
		err := NewLogSink(w, cpi).Emit(context.Background(), testEvent())
		if !errors.Is(err, io.ErrShortWrite) {
			t.Fatalf("cpi=%v: expected io.ErrShortWrite, got %v", cpi, err)
		}

		out := w.String()
		if !strings.HasSuffix(out, "\n") {
			t.Errorf("cpi=%v: expected fragment to be newline terminated, got %q", cpi, out)
		}
		for _, line := range strings.Split(strings.TrimSuffix(out, "\n"), "\n") {
			data, err := beaconcontract.ParseProgramData(line)
			if err != nil {
				continue
			}
			var decodeErr error
			if cpi {
				_, decodeErr = beaconcontract.DecodeCPI(data)
			} else {
				var ev beaconcontract.ExecutionObserved
				decodeErr = ev.UnmarshalBinary(data)
			}
			if decodeErr == nil {
				t.Errorf("cpi=%v: truncated line decoded as an event: %q", cpi, line)
			}
		}
	}
}
