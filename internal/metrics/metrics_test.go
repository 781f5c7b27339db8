package metrics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, f.err
}

func TestRecorder_Count(t *testing.T) {
	cw := &fakeCloudWatch{}
	r := New(cw, "Marketplace")
	r.nowFunc = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	r.Count(context.Background(), CheckoutRejected, 1, map[string]string{"reason": "insufficient_balance", "env": "dev"})

	require.Len(t, cw.inputs, 1)
	in := cw.inputs[0]
	assert.Equal(t, "Marketplace", *in.Namespace)
	require.Len(t, in.MetricData, 1)
	d := in.MetricData[0]
	assert.Equal(t, CheckoutRejected, *d.MetricName)
	assert.Equal(t, 1.0, *d.Value)
	assert.Equal(t, types.StandardUnitCount, d.Unit)
	require.Len(t, d.Dimensions, 2)
	assert.Equal(t, "env", *d.Dimensions[0].Name)
	assert.Equal(t, "reason", *d.Dimensions[1].Name)
}

func TestRecorder_Duration(t *testing.T) {
	cw := &fakeCloudWatch{}
	New(cw, "ns").Duration(context.Background(), CheckoutLatency, 250*time.Millisecond, nil)

	require.Len(t, cw.inputs, 1)
	d := cw.inputs[0].MetricData[0]
	assert.Equal(t, 250.0, *d.Value)
	assert.Equal(t, types.StandardUnitMilliseconds, d.Unit)
	assert.Nil(t, d.Dimensions)
}

func TestRecorder_ErrorsAreSwallowed(t *testing.T) {
	cw := &fakeCloudWatch{err: errors.New("throttled")}
	assert.NotPanics(t, func() {
		New(cw, "ns").Count(context.Background(), CheckoutCompleted, 1, nil)
	})

	var nilRec *Recorder
	assert.NotPanics(t, func() {
		nilRec.Count(context.Background(), CheckoutCompleted, 1, nil)
	})
}
