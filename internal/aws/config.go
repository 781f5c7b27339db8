package aws

import (
	"context"
	"fmt"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

const defaultRegion = "us-east-1"

// Options selects the region and, for local runs, an emulator endpoint
// (localstack, dynamodb-local) shared by every client.
type Options struct {
	Region      string
	Endpoint    string
	MaxAttempts int
}

// LoadAWSConfig loads the shared AWS config with the marketplace defaults.
// Settlement transactions retry on TransactionConflict, so the SDK retry
// budget is raised above its default of 3.
func LoadAWSConfig(ctx context.Context, o Options) (sdkaws.Config, error) {
	if o.Region == "" {
		o.Region = defaultRegion
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}

	opts := []func(*config.LoadOptions) error{
		config.WithRegion(o.Region),
		config.WithRetryMaxAttempts(o.MaxAttempts),
	}
	if o.Endpoint != "" {
		opts = append(opts, config.WithBaseEndpoint(o.Endpoint))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return cfg, fmt.Errorf("load aws config (region %s): %w", o.Region, err)
	}
	return cfg, nil
}
