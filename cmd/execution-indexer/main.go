package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/execution-beacon/internal/config"
	"github.com/jarrod-lowe/execution-beacon/internal/metrics"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var logger = logging.New()

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	ProgramID beaconcontract.PublicKey
	Metrics   metrics.Publisher
}

var deps *Dependencies

// handler indexes a batch of execution events. Malformed records are returned as
// batch item failures so only they are redelivered.
func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	var requestID string
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		requestID = lc.AwsRequestID
	}
	ctx, span := tracing.StartHandlerSpan(ctx, "ExecutionIndexerHandler",
		tracing.Function("execution-indexer"),
		tracing.RequestID(requestID),
	)
	defer span.End()

	span.SetAttributes(attribute.Int("indexer.batch_size", len(event.Records)))

	var response events.SQSEventResponse
	indexed := 0
	for _, record := range event.Records {
		ok, err := processRecord(ctx, record)
		if err != nil {
			logger.WarnContext(ctx, "Malformed execution message",
				slog.String("message_id", record.MessageId),
				slog.String("error", err.Error()),
			)
			response.BatchItemFailures = append(response.BatchItemFailures, events.SQSBatchItemFailure{
				ItemIdentifier: record.MessageId,
			})
			publishMetric(ctx, metrics.MalformedMessages, 1)
			continue
		}
		if ok {
			indexed++
		}
	}

	if indexed > 0 {
		publishMetric(ctx, metrics.ExecutionsIndexed, float64(indexed))
	}

	logger.InfoContext(ctx, "Batch indexed",
		slog.Int("records", len(event.Records)),
		slog.Int("indexed", indexed),
		slog.Int("failed", len(response.BatchItemFailures)),
	)

	return response, nil
}

// processRecord reports whether the record was indexed. Well-formed messages for
// other event types or programs are skipped without error.
func processRecord(ctx context.Context, record events.SQSMessage) (bool, error) {
	var msg beaconcontract.EventMessage
	if err := json.Unmarshal([]byte(record.Body), &msg); err != nil {
		return false, fmt.Errorf("failed to parse message body: %w", err)
	}

	if msg.EventType != beaconcontract.EventTypeExecutionObserved {
		logger.InfoContext(ctx, "Skipping unrelated event",
			slog.String("message_id", record.MessageId),
			slog.String("event_type", msg.EventType),
		)
		return false, nil
	}

	if msg.ProgramID != deps.ProgramID {
		logger.InfoContext(ctx, "Skipping event from another program",
			slog.String("message_id", record.MessageId),
			slog.String("program_id", msg.ProgramID.String()),
		)
		return false, nil
	}

	ev, err := msg.Event()
	if err != nil {
		return false, fmt.Errorf("failed to decode event: %w", err)
	}

	logger.InfoContext(ctx, "Execution observed",
		slog.String("message_id", record.MessageId),
		slog.String("payer", ev.Payer.String()),
		slog.String("quote_id", ev.QuoteID.String()),
	)
	return true, nil
}

// publishMetric never fails the batch
func publishMetric(ctx context.Context, name string, value float64) {
	if deps.Metrics == nil {
		return
	}
	if err := deps.Metrics.PublishMetric(ctx, name, value); err != nil {
		logger.WarnContext(ctx, "Failed to publish metric",
			slog.String("metric", name),
			slog.String("error", err.Error()),
		)
	}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx)
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	paramStore := config.NewParameterStore(ssm.NewFromConfig(result.Config))
	cfg, err := config.LoadIndexer(result.Ctx, os.Getenv, paramStore)
	if err != nil {
		logger.Error("FATAL: Invalid configuration",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	var publisher metrics.Publisher = metrics.Nop{}
	if cfg.MetricNamespace != "" {
		publisher = metrics.NewCloudWatchPublisher(cloudwatch.NewFromConfig(result.Config), cfg.MetricNamespace, cfg.ProgramID.String())
	}

	deps = &Dependencies{
		ProgramID: cfg.ProgramID,
		Metrics:   publisher,
	}

	result.Start(handler)
}
