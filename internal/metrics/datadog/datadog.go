// Package datadog implements a Datadog backend for the metrics package.
//
// Observations are buffered in memory and submitted on a ticker, with one
// final flush on Close. Counters are submitted as COUNT series; histograms
// as percentile gauges per label set.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"deanalyse/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
	"go.uber.org/zap"
)

// Options controls the backend
type Options struct {
	// Service becomes tag "service:<name>"; defaults to "deanalyse"
	Service string
	// Tags are extra tags such as "team:data"
	Tags []string
	// FlushEvery defaults to 60 seconds
	FlushEvery time.Duration
	Logger     *zap.Logger

	now       func() time.Time
	submitter metricsSubmitter
}

// metricsSubmitter is the slice of *datadogV2.MetricsApi the backend uses
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

type series struct {
	name   string
	labels metrics.Labels
}

// Backend implements metrics.Backend
type Backend struct {
	api    metricsSubmitter
	ctx    context.Context
	logger *zap.Logger
	now    func() time.Time

	baseTags   []string
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	mu         sync.Mutex
	meta       map[string]series
	counters   map[string]float64
	histograms map[string][]float64
}

// NewBackend starts the flush loop. Credentials come from DD_API_KEY and
// DD_SITE through the client's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	service := opts.Service
	if service == "" {
		service = "deanalyse"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}

	submitter := opts.submitter
	if submitter == nil {
		if os.Getenv("DD_API_KEY") == "" {
			return nil, fmt.Errorf("datadog metrics init: DD_API_KEY is not set")
		}
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	baseTags := append([]string{resolveEnvTag(), "service:" + service}, opts.Tags...)

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		logger:     logger.Named("datadog"),
		now:        now,
		baseTags:   baseTags,
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		meta:       make(map[string]series),
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}
	go b.loop()
	return b, nil
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)
	t := time.NewTicker(b.flushEvery)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			if err := b.Flush(); err != nil {
				b.logger.Warn("metrics flush failed", zap.Error(err))
			}
		case <-b.stopCh:
			return
		}
	}
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	k := metrics.Key(name, labels)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remember(k, name, labels)
	b.counters[k] += delta
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	k := metrics.Key(name, labels)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.remember(k, name, labels)
	b.histograms[k] = append(b.histograms[k], value)
}

// remember must be called with mu held
func (b *Backend) remember(key, name string, labels metrics.Labels) {
	if _, ok := b.meta[key]; ok {
		return
	}
	cp := make(metrics.Labels, len(labels))
	for k, v := range labels {
		cp[k] = v
	}
	b.meta[key] = series{name: name, labels: cp}
}

// Close stops the flush loop and flushes one last time. Safe to call twice.
func (b *Backend) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
		err = b.Flush()
	})
	return err
}

// Flush submits and resets the buffers. Buffers are reset even when the
// submission fails.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counters, histograms, meta := b.counters, b.histograms, b.meta
	b.counters = make(map[string]float64)
	b.histograms = make(map[string][]float64)
	b.meta = make(map[string]series)
	b.mu.Unlock()

	if len(counters) == 0 && len(histograms) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, histograms, meta, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("submit metrics: %w", err)
	}
	return nil
}

func (b *Backend) buildSeries(counters map[string]float64, histograms map[string][]float64, meta map[string]series, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(histograms))

	for _, k := range sortedKeys(counters) {
		m := meta[k]
		out = append(out, point(metricName(m.name), datadogV2.METRICINTAKETYPE_COUNT, counters[k], b.tags(m.labels), nowUnix))
	}
	for _, k := range sortedKeys(histograms) {
		m := meta[k]
		samples := append([]float64(nil), histograms[k]...)
		sort.Float64s(samples)
		name, tags := metricName(m.name), b.tags(m.labels)
		out = append(out,
			point(name+".p50", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.50), tags, nowUnix),
			point(name+".p90", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.90), tags, nowUnix),
			point(name+".p99", datadogV2.METRICINTAKETYPE_GAUGE, percentileNearestRank(samples, 0.99), tags, nowUnix),
			point(name+".max", datadogV2.METRICINTAKETYPE_GAUGE, samples[len(samples)-1], tags, nowUnix),
			point(name+".samples", datadogV2.METRICINTAKETYPE_GAUGE, float64(len(samples)), tags, nowUnix),
		)
	}
	return out
}

func (b *Backend) tags(labels metrics.Labels) []string {
	out := make([]string, 0, len(b.baseTags)+len(labels))
	out = append(out, b.baseTags...)
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+":"+labels[k])
	}
	return out
}

func point(metric string, typ datadogV2.MetricIntakeType, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// metricName maps deanalyse_query_total to deanalyse.query.total
func metricName(name string) string {
	return strings.ReplaceAll(name, "_", ".")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data"
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
