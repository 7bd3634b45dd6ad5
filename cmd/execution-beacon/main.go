package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	lambdasvc "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/jarrod-lowe/execution-beacon/internal/beacon"
	"github.com/jarrod-lowe/execution-beacon/internal/config"
	"github.com/jarrod-lowe/execution-beacon/internal/metrics"
	"github.com/jarrod-lowe/execution-beacon/internal/signer"
	"github.com/jarrod-lowe/execution-beacon/internal/sink"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
	"github.com/jarrod-lowe/jmap-service-libs/awsinit"
	"github.com/jarrod-lowe/jmap-service-libs/logging"
	"github.com/jarrod-lowe/jmap-service-libs/tracing"
	"go.opentelemetry.io/otel/attribute"
)

var logger = logging.New()

// EmitRequest is the request body for emit_execution
type EmitRequest struct {
	Payer     string `json:"payer"`               // base58 public key
	QuoteID   string `json:"quoteId"`             // 64 hex characters
	Signature string `json:"signature,omitempty"` // base58 Ed25519 signature over the invocation message
}

// EmitResponse is returned when the event was emitted
type EmitResponse struct {
	Status  string `json:"status"`
	Payer   string `json:"payer"`
	QuoteID string `json:"quoteId"`
}

// ErrorResponse is the error response format
type ErrorResponse struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// Response is the API Gateway proxy response
type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// ExecutionEmitter emits one execution event per authenticated call
type ExecutionEmitter interface {
	EmitExecution(ctx context.Context, caller beacon.Caller, quoteID beaconcontract.QuoteID) error
}

// Dependencies for handler (injectable for testing)
type Dependencies struct {
	Emitter        ExecutionEmitter
	Metrics        metrics.Publisher
	PublicKeyClaim string
}

var deps *Dependencies

// handler processes emit_execution requests
func handler(ctx context.Context, request events.APIGatewayProxyRequest) (Response, error) {
	ctx, span := tracing.StartHandlerSpan(ctx, "ExecutionBeaconHandler",
		tracing.Function("execution-beacon"),
		tracing.RequestID(request.RequestContext.RequestID),
	)
	defer span.End()

	body, err := decodeBody(request)
	if err != nil {
		logger.WarnContext(ctx, "Failed to decode body",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return errorResponse(400, "invalidArguments", "Invalid request body")
	}

	var req EmitRequest
	if err := json.Unmarshal(body, &req); err != nil {
		logger.WarnContext(ctx, "Invalid JSON in request body",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return errorResponse(400, "invalidArguments", "Invalid JSON in request body")
	}

	caller, quoteID, err := parseEmitRequest(req)
	if err != nil {
		logger.WarnContext(ctx, "Invalid emit request",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return errorResponse(400, "invalidArguments", err.Error())
	}
	caller.Principal = extractPrincipal(request, deps.PublicKeyClaim)

	span.SetAttributes(
		attribute.String("beacon.payer", caller.PublicKey.String()),
		attribute.String("beacon.quote_id", quoteID.String()),
	)

	err = deps.Emitter.EmitExecution(ctx, caller, quoteID)
	switch {
	case err == nil:
	case errors.Is(err, beacon.ErrUnauthenticated):
		publishMetric(ctx, metrics.UnauthenticatedCalls)
		return errorResponse(401, "unauthenticated", "Caller is not a valid signer for this call")
	case errors.Is(err, beacon.ErrEmissionFailure):
		tracing.RecordError(span, err)
		publishMetric(ctx, metrics.EmissionFailures)
		return errorResponse(502, "emissionFailure", "Event could not be emitted")
	default:
		tracing.RecordError(span, err)
		logger.ErrorContext(ctx, "Unexpected emit error",
			slog.String("request_id", request.RequestContext.RequestID),
			slog.String("error", err.Error()),
		)
		return errorResponse(500, "serverFail", "Internal server error")
	}

	publishMetric(ctx, metrics.ExecutionsEmitted)

	logger.InfoContext(ctx, "Emit request completed",
		slog.String("request_id", request.RequestContext.RequestID),
		slog.String("payer", caller.PublicKey.String()),
		slog.String("quote_id", quoteID.String()),
	)

	respBody, _ := json.Marshal(EmitResponse{
		Status:  "emitted",
		Payer:   caller.PublicKey.String(),
		QuoteID: quoteID.String(),
	})
	return Response{
		StatusCode: 200,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(respBody),
	}, nil
}

// parseEmitRequest validates encodings. quoteId length is enforced here, before the core sees it.
func parseEmitRequest(req EmitRequest) (beacon.Caller, beaconcontract.QuoteID, error) {
	var caller beacon.Caller

	if req.Payer == "" {
		return caller, beaconcontract.QuoteID{}, fmt.Errorf("payer is required")
	}
	payer, err := beaconcontract.ParsePublicKey(req.Payer)
	if err != nil {
		return caller, beaconcontract.QuoteID{}, fmt.Errorf("invalid payer: %w", err)
	}
	caller.PublicKey = payer

	quoteID, err := beaconcontract.ParseQuoteID(req.QuoteID)
	if err != nil {
		return caller, beaconcontract.QuoteID{}, fmt.Errorf("invalid quoteId: %w", err)
	}

	if req.Signature != "" {
		sig, err := signer.ParseSignature(req.Signature)
		if err != nil {
			return caller, beaconcontract.QuoteID{}, fmt.Errorf("invalid signature: %w", err)
		}
		caller.Signature = sig
	}

	return caller, quoteID, nil
}

// extractPrincipal reads the key claim from the Cognito authorizer context.
// API Gateway populates this context; clients cannot spoof it.
func extractPrincipal(request events.APIGatewayProxyRequest, claim string) string {
	authorizer := request.RequestContext.Authorizer
	if authorizer == nil || claim == "" {
		return ""
	}
	claims, ok := authorizer["claims"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := claims[claim].(string)
	return value
}

// publishMetric never fails the request
func publishMetric(ctx context.Context, name string) {
	if deps.Metrics == nil {
		return
	}
	if err := deps.Metrics.PublishMetric(ctx, name, 1); err != nil {
		logger.WarnContext(ctx, "Failed to publish metric",
			slog.String("metric", name),
			slog.String("error", err.Error()),
		)
	}
}

// decodeBody decodes the request body (handles base64 encoding)
func decodeBody(request events.APIGatewayProxyRequest) ([]byte, error) {
	if request.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(request.Body)
	}
	return []byte(request.Body), nil
}

// errorResponse builds an error response
func errorResponse(statusCode int, errorType, description string) (Response, error) {
	body, _ := json.Marshal(ErrorResponse{Type: errorType, Description: description})
	return Response{
		StatusCode: statusCode,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}, nil
}

// newAuthenticator builds the authenticator for the configured mode
func newAuthenticator(cfg *config.Config) beacon.Authenticator {
	switch cfg.AuthMode {
	case config.AuthClaims:
		return signer.NewClaimsAuthenticator(cfg.PublicKeyClaim)
	case config.AuthAny:
		return signer.Any(
			signer.NewEd25519Authenticator(cfg.ProgramID),
			signer.NewClaimsAuthenticator(cfg.PublicKeyClaim),
		)
	default:
		return signer.NewEd25519Authenticator(cfg.ProgramID)
	}
}

func main() {
	ctx := context.Background()

	result, err := awsinit.Init(ctx, awsinit.WithHTTPHandler("execution-beacon"))
	if err != nil {
		logger.Error("FATAL: Failed to initialize AWS",
			slog.String("error", err.Error()),
		)
		panic(err)
	}
	defer result.Cleanup()

	paramStore := config.NewParameterStore(ssm.NewFromConfig(result.Config))
	cfg, err := config.Load(result.Ctx, os.Getenv, paramStore)
	if err != nil {
		logger.Error("FATAL: Invalid configuration",
			slog.String("error", err.Error()),
		)
		panic(err)
	}

	var eventSink beacon.Sink
	switch cfg.SinkType {
	case config.SinkLambda:
		eventSink = sink.NewLambdaSink(lambdasvc.NewFromConfig(result.Config), cfg.ConsumerFunction, cfg.ProgramID)
	case config.SinkLog:
		eventSink = sink.NewLogSink(os.Stdout, cfg.LogCPI)
	default:
		eventSink = sink.NewSQSSink(sqs.NewFromConfig(result.Config), cfg.EventQueueURL, cfg.ProgramID)
	}

	var publisher metrics.Publisher = metrics.Nop{}
	if cfg.MetricNamespace != "" {
		publisher = metrics.NewCloudWatchPublisher(cloudwatch.NewFromConfig(result.Config), cfg.MetricNamespace, cfg.ProgramID.String())
	}

	logger.Info("Execution beacon configured",
		slog.String("program_id", cfg.ProgramID.String()),
		slog.String("auth_mode", string(cfg.AuthMode)),
		slog.String("sink_type", string(cfg.SinkType)),
	)

	deps = &Dependencies{
		Emitter:        beacon.NewEmitter(newAuthenticator(cfg), eventSink, logger),
		Metrics:        publisher,
		PublicKeyClaim: cfg.PublicKeyClaim,
	}

	result.Start(handler)
}
