// Package config loads beacon configuration from the Lambda environment
package config

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jarrod-lowe/execution-beacon/internal/sink"
	"github.com/jarrod-lowe/execution-beacon/internal/signer"
	"github.com/jarrod-lowe/execution-beacon/pkg/beaconcontract"
)

// Environment variable names
const (
	EnvProgramID          = "PROGRAM_ID"
	EnvProgramIDParameter = "PROGRAM_ID_PARAMETER"
	EnvAuthMode           = "AUTH_MODE"
	EnvPublicKeyClaim     = "PUBLIC_KEY_CLAIM"
	EnvSinkType           = "SINK_TYPE"
	EnvEventQueueURL      = "EVENT_QUEUE_URL"
	EnvEventQueueARN      = "EVENT_QUEUE_ARN"
	EnvConsumerFunction   = "CONSUMER_FUNCTION"
	EnvLogCPI             = "LOG_CPI"
	EnvMetricNamespace    = "METRIC_NAMESPACE"
)

// AuthMode selects how callers prove they are a valid signer
type AuthMode string

const (
	AuthSignature AuthMode = "signature" // Ed25519 signature over the invocation message
	AuthClaims    AuthMode = "claims"    // host-verified authorizer claim
	AuthAny       AuthMode = "any"       // either of the above
)

// SinkType selects the emission channel
type SinkType string

const (
	SinkSQS    SinkType = "sqs"
	SinkLambda SinkType = "lambda"
	SinkLog    SinkType = "log"
)

// ErrMissing is returned when a required variable is unset
var ErrMissing = errors.New("required configuration missing")

// ParameterReader reads parameters from SSM Parameter Store
type ParameterReader interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Config holds beacon configuration
type Config struct {
	ProgramID        beaconcontract.PublicKey
	AuthMode         AuthMode
	PublicKeyClaim   string
	SinkType         SinkType
	EventQueueURL    string
	ConsumerFunction string
	LogCPI           bool
	MetricNamespace  string // empty disables metrics
}

// Load reads configuration using getenv. params is only consulted when the program id
// is supplied through PROGRAM_ID_PARAMETER.
func Load(ctx context.Context, getenv func(string) string, params ParameterReader) (*Config, error) {
	cfg := &Config{
		AuthMode:         AuthMode(strings.ToLower(getenv(EnvAuthMode))),
		PublicKeyClaim:   getenv(EnvPublicKeyClaim),
		SinkType:         SinkType(strings.ToLower(getenv(EnvSinkType))),
		ConsumerFunction: getenv(EnvConsumerFunction),
		MetricNamespace:  getenv(EnvMetricNamespace),
	}

	programID, err := loadProgramID(ctx, getenv, params)
	if err != nil {
		return nil, err
	}
	cfg.ProgramID = programID

	if cfg.AuthMode == "" {
		cfg.AuthMode = AuthSignature
	}
	switch cfg.AuthMode {
	case AuthSignature, AuthClaims, AuthAny:
	default:
		return nil, fmt.Errorf("invalid %s: %q", EnvAuthMode, cfg.AuthMode)
	}

	if cfg.PublicKeyClaim == "" {
		cfg.PublicKeyClaim = signer.DefaultPublicKeyClaim
	}

	if cfg.SinkType == "" {
		cfg.SinkType = SinkSQS
	}
	switch cfg.SinkType {
	case SinkSQS:
		cfg.EventQueueURL = getenv(EnvEventQueueURL)
		if cfg.EventQueueURL == "" {
			if arn := getenv(EnvEventQueueARN); arn != "" {
				cfg.EventQueueURL = sink.ARNToQueueURL(arn)
				if cfg.EventQueueURL == "" {
					return nil, fmt.Errorf("invalid %s: %q", EnvEventQueueARN, arn)
				}
			}
		}
		if cfg.EventQueueURL == "" {
			return nil, fmt.Errorf("%w: %s or %s", ErrMissing, EnvEventQueueURL, EnvEventQueueARN)
		}
	case SinkLambda:
		if cfg.ConsumerFunction == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissing, EnvConsumerFunction)
		}
	case SinkLog:
		if v := getenv(EnvLogCPI); v != "" {
			cpi, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", EnvLogCPI, err)
			}
			cfg.LogCPI = cpi
		}
	default:
		return nil, fmt.Errorf("invalid %s: %q", EnvSinkType, cfg.SinkType)
	}

	return cfg, nil
}

// loadProgramID prefers PROGRAM_ID and falls back to the SSM parameter
func loadProgramID(ctx context.Context, getenv func(string) string, params ParameterReader) (beaconcontract.PublicKey, error) {
	raw := getenv(EnvProgramID)
	if raw == "" {
		name := getenv(EnvProgramIDParameter)
		if name == "" {
			return beaconcontract.PublicKey{}, fmt.Errorf("%w: %s or %s", ErrMissing, EnvProgramID, EnvProgramIDParameter)
		}
		if params == nil {
			return beaconcontract.PublicKey{}, fmt.Errorf("no parameter reader for %s", EnvProgramIDParameter)
		}
		value, err := params.GetParameter(ctx, name)
		if err != nil {
			return beaconcontract.PublicKey{}, fmt.Errorf("failed to read SSM parameter: %w", err)
		}
		raw = strings.TrimSpace(value)
	}

	programID, err := beaconcontract.ParsePublicKey(raw)
	if err != nil {
		return beaconcontract.PublicKey{}, fmt.Errorf("invalid program id: %w", err)
	}
	return programID, nil
}

// IndexerConfig holds execution-indexer configuration
type IndexerConfig struct {
	ProgramID       beaconcontract.PublicKey
	MetricNamespace string // empty disables metrics
}

// LoadIndexer reads the indexer's configuration. Only the program id is required.
func LoadIndexer(ctx context.Context, getenv func(string) string, params ParameterReader) (*IndexerConfig, error) {
	programID, err := loadProgramID(ctx, getenv, params)
	if err != nil {
		return nil, err
	}
	return &IndexerConfig{
		ProgramID:       programID,
		MetricNamespace: getenv(EnvMetricNamespace),
	}, nil
}
