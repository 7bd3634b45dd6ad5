// Package sink provides the emission channels an execution event can be handed to.
// Every sink performs a single write per event, so a failed Emit leaves nothing visible.
package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// SQSClient is the interface for SQS operations
type SQSClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSSink publishes each event as one message on a single queue
type SQSSink struct {
	client    SQSClient
	queueURL  string
	programID beaconcontract.PublicKey
	fifo      bool
	newID     func() string
}

// NewSQSSink creates an SQSSink. FIFO handling is enabled when the queue URL ends in ".fifo".
func NewSQSSink(client SQSClient, queueURL string, programID beaconcontract.PublicKey) *SQSSink {
	return &SQSSink{
		client:    client,
		queueURL:  queueURL,
		programID: programID,
		fifo:      strings.HasSuffix(queueURL, ".fifo"),
		newID:     uuid.NewString,
	}
}

// Emit sends the event message to the queue
func (s *SQSSink) Emit(ctx context.Context, ev beaconcontract.ExecutionObserved) error {
	msg, err := beaconcontract.NewEventMessage(s.programID, ev)
	if err != nil {
		return err
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal event message: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"eventType": {
				DataType:    aws.String("String"),
				StringValue: aws.String(beaconcontract.EventTypeExecutionObserved),
			},
		},
	}

	// Identical attestations must stay distinct messages, so never let
	// content-based deduplication collapse them
	if s.fifo {
		input.MessageGroupId = aws.String(ev.Payer.String())
		input.MessageDeduplicationId = aws.String(s.newID())
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", s.queueURL, err)
	}
	return nil
}

// ARNToQueueURL converts an SQS ARN to a queue URL
// arn:aws:sqs:region:account:queue-name -> https://sqs.region.amazonaws.com/account/queue-name
func ARNToQueueURL(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || parts[0] != "arn" || parts[2] != "sqs" {
		return ""
	}
	region := parts[3]
	account := parts[4]
	queueName := parts[5]
	return fmt.Sprintf("https://sqs.%s.amazonaws.com/%s/%s", region, account, queueName)
}
