// Package metrics publishes beacon counters to CloudWatch
package metrics

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// Metric names
const (
	ExecutionsEmitted    = "ExecutionsEmitted"
	EmissionFailures     = "EmissionFailures"
	UnauthenticatedCalls = "UnauthenticatedCalls"
	ExecutionsIndexed    = "ExecutionsIndexed"
	MalformedMessages    = "MalformedMessages"
)

// Publisher publishes metrics
type Publisher interface {
	PublishMetric(ctx context.Context, name string, value float64) error
}

// CloudWatchClient defines the interface for CloudWatch operations
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchPublisher implements Publisher using CloudWatch
type CloudWatchPublisher struct {
	client     CloudWatchClient
	namespace  string
	dimensions []types.Dimension
}

// NewCloudWatchPublisher creates a CloudWatchPublisher. Every datum carries a
// ProgramId dimension when programID is non-empty.
func NewCloudWatchPublisher(client CloudWatchClient, namespace, programID string) *CloudWatchPublisher {
	p := &CloudWatchPublisher{
		client:    client,
		namespace: namespace,
	}
	if programID != "" {
		p.dimensions = []types.Dimension{
			{Name: aws.String("ProgramId"), Value: aws.String(programID)},
		}
	}
	return p
}

// PublishMetric publishes a count metric to CloudWatch
func (p *CloudWatchPublisher) PublishMetric(ctx context.Context, name string, value float64) error {
	_, err := p.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(p.namespace),
		MetricData: []types.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(value),
				Unit:       types.StandardUnitCount,
				Dimensions: p.dimensions,
			},
		},
	})
	return err
}

// Nop discards every metric
type Nop struct{}

// PublishMetric does nothing
func (Nop) PublishMetric(ctx context.Context, name string, value float64) error {
	return nil
}
