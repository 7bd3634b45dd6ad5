package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// LambdaClient defines the interface for Lambda operations
type LambdaClient interface {
	Invoke(ctx context.Context, params *lambda.InvokeInput, optFns ...func(*lambda.Options)) (*lambda.InvokeOutput, error)
}

// LambdaSink hands each event to a consumer function as an asynchronous invocation
type LambdaSink struct {
	client       LambdaClient
	functionName string
	programID    beaconcontract.PublicKey
}

// NewLambdaSink creates a LambdaSink
func NewLambdaSink(client LambdaClient, functionName string, programID beaconcontract.PublicKey) *LambdaSink {
	return &LambdaSink{
		client:       client,
		functionName: functionName,
		programID:    programID,
	}
}

// Emit queues an asynchronous invocation carrying the event message.
// Lambda answers 202 once the event is accepted into its internal queue.
func (s *LambdaSink) Emit(ctx context.Context, ev beaconcontract.ExecutionObserved) error {
	msg, err := beaconcontract.NewEventMessage(s.programID, ev)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	output, err := s.client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   aws.String(s.functionName),
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("lambda invocation failed: %w", err)
	}

	if output.FunctionError != nil {
		return fmt.Errorf("lambda invocation failed: function error %s", aws.ToString(output.FunctionError))
	}
	if output.StatusCode < 200 || output.StatusCode > 299 {
		return fmt.Errorf("lambda invocation failed: status %d", output.StatusCode)
	}
	return nil
}
