package config

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

var (
	// ErrParameterNotFound is returned when the named parameter does not exist
	ErrParameterNotFound = errors.New("parameter not found")
	// ErrParameterEmpty is returned when the parameter exists but holds no value
	ErrParameterEmpty = errors.New("parameter has no value")
)

// SSMClient is the subset of the SSM API the parameter store needs
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParameterStore is a ParameterReader backed by SSM Parameter Store.
// SecureString parameters are decrypted.
type ParameterStore struct {
	client SSMClient
}

// NewParameterStore creates a ParameterStore
func NewParameterStore(client SSMClient) *ParameterStore {
	return &ParameterStore{client: client}
}

// GetParameter returns the trimmed value of name
func (s *ParameterStore) GetParameter(ctx context.Context, name string) (string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", fmt.Errorf("%w: %s", ErrParameterNotFound, name)
		}
		return "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}

	if out.Parameter == nil {
		return "", fmt.Errorf("%w: %s", ErrParameterEmpty, name)
	}
	value := strings.TrimSpace(aws.ToString(out.Parameter.Value))
	if value == "" {
		return "", fmt.Errorf("%w: %s", ErrParameterEmpty, name)
	}
	return value, nil
}
