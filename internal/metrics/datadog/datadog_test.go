package datadog

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"deanalyse/internal/metrics"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type fakeSubmitter struct {
	mu       sync.Mutex
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func (f *fakeSubmitter) all() []datadogV2.MetricPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]datadogV2.MetricPayload(nil), f.payloads...)
}

func newTestBackend(t *testing.T, sub *fakeSubmitter) *Backend {
	t.Helper()
	t.Setenv("ENV", "test")
	b, err := NewBackend(context.Background(), Options{
		FlushEvery: time.Hour,
		now:        func() time.Time { return time.Unix(1700000000, 0) },
		submitter:  sub,
	})
	require.NoError(t, err)
	return b
}

func TestFlushBuildsSeries(t *testing.T) {
	defer goleak.VerifyNone(t)
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)

	b.IncCounter(metrics.QueryTotal, 1, metrics.Labels{"state": "done"})
	b.IncCounter(metrics.QueryTotal, 2, metrics.Labels{"state": "done"})
	b.IncCounter(metrics.QueryTotal, 0, metrics.Labels{"state": "ignored"})
	for _, v := range []float64{0.1, 0.2, 0.3} {
		b.ObserveHistogram(metrics.LLMCallSeconds, v, metrics.Labels{"operation": "qa_planning"})
	}

	require.NoError(t, b.Flush())
	payloads := sub.all()
	require.Len(t, payloads, 1)

	byName := map[string]datadogV2.MetricSeries{}
	for _, s := range payloads[0].Series {
		byName[s.Metric] = s
	}
	counter := byName["deanalyse.query.total"]
	assert.Equal(t, 3.0, *counter.Points[0].Value)
	assert.Equal(t, int64(1700000000), *counter.Points[0].Timestamp)
	assert.Equal(t, []string{"env:test", "service:deanalyse", "state:done"}, counter.Tags)
	assert.Equal(t, datadogV2.METRICINTAKETYPE_COUNT, *counter.Type)

	assert.Equal(t, 0.3, *byName["deanalyse.llm.call.seconds.max"].Points[0].Value)
	assert.Equal(t, 3.0, *byName["deanalyse.llm.call.seconds.samples"].Points[0].Value)
	assert.Equal(t, 0.2, *byName["deanalyse.llm.call.seconds.p50"].Points[0].Value)

	// buffers were reset
	require.NoError(t, b.Flush())
	assert.Len(t, sub.all(), 1)

	require.NoError(t, b.Close())
}

func TestCloseFlushesAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	sub := &fakeSubmitter{}
	b := newTestBackend(t, sub)
	b.IncCounter(metrics.UploadTotal, 1, metrics.Labels{"status": "ok"})

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Len(t, sub.all(), 1)
}

func TestFlushReportsSubmitErrors(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("403 forbidden")}
	b := newTestBackend(t, sub)
	defer b.Close()
	b.IncCounter(metrics.UploadTotal, 1, nil)

	assert.ErrorContains(t, b.Flush(), "submit metrics")
}

func TestPercentileNearestRank(t *testing.T) {
	assert.Zero(t, percentileNearestRank(nil, 0.5))
	assert.Equal(t, 3.0, percentileNearestRank([]float64{1, 2, 3, 4, 5}, 0.5))
	assert.Equal(t, 5.0, percentileNearestRank([]float64{1, 2, 3, 4, 5}, 0.9))
}

func TestParseTagsCSV(t *testing.T) {
	assert.Nil(t, ParseTagsCSV(""))
	assert.Equal(t, []string{"env:prod", "team:data"}, ParseTagsCSV(" env:prod, ,team:data "))
}
