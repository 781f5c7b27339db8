package metrics

import (
	"context"
	"log/slog"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/imrishuroy/go-student-marketplace/internal/aws"
)

// Metric names.
const (
	CheckoutCompleted   = "CheckoutCompleted"
	CheckoutRejected    = "CheckoutRejected"
	CheckoutReplayed    = "CheckoutReplayed"
	CheckoutAmount      = "CheckoutAmount"
	CheckoutLatency     = "CheckoutLatency"
	EventPublishFailed  = "EventPublishFailed"
	NotificationsSent   = "NotificationsSent"
	NotificationsFailed = "NotificationsFailed"
)

// Recorder pushes counters and timings to CloudWatch. Failures are logged and
// swallowed. A nil *Recorder is valid and records nothing.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func New(client aws.CloudWatchAPI, namespace string) *Recorder {
	return &Recorder{client: client, namespace: namespace, nowFunc: time.Now}
}

// Count adds v to the named counter.
func (r *Recorder) Count(ctx context.Context, name string, v float64, dims map[string]string) {
	r.put(ctx, name, v, types.StandardUnitCount, dims)
}

// Duration records d in milliseconds.
func (r *Recorder) Duration(ctx context.Context, name string, d time.Duration, dims map[string]string) {
	r.put(ctx, name, float64(d.Milliseconds()), types.StandardUnitMilliseconds, dims)
}

func (r *Recorder) put(ctx context.Context, name string, v float64, unit types.StandardUnit, dims map[string]string) {
	if r == nil || r.client == nil {
		return
	}
	datum := types.MetricDatum{
		MetricName: sdkaws.String(name),
		Value:      sdkaws.Float64(v),
		Unit:       unit,
		Timestamp:  sdkaws.Time(r.nowFunc().UTC()),
		Dimensions: dimensions(dims),
	}
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: []types.MetricDatum{datum},
	})
	if err != nil {
		slog.Warn("failed to put metric", "metric", name, "error", err)
	}
}

func dimensions(dims map[string]string) []types.Dimension {
	if len(dims) == 0 {
		return nil
	}
	names := make([]string, 0, len(dims))
	for k := range dims {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make([]types.Dimension, 0, len(names))
	for _, k := range names {
		out = append(out, types.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(dims[k])})
	}
	return out
}
