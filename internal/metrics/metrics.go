// Package metrics is the backend-neutral metrics surface. Service code only
// depends on Backend; the concrete backend is chosen at startup.
package metrics

import (
	"sort"
	"strings"
	"sync"
)

// Metric names
const (
	UploadTotal       = "deanalyse_upload_total"
	QueryTotal        = "deanalyse_query_total"
	LLMCallSeconds    = "deanalyse_llm_call_seconds"
	SandboxSeconds    = "deanalyse_sandbox_seconds"
	UsagePersistTotal = "deanalyse_usage_persist_total"
)

// Labels are metric dimensions, e.g. {"status": "ok"}
type Labels map[string]string

// Backend receives counter increments and histogram observations.
// Implementations must be safe for concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Close() error
}

// Nop discards everything
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Close() error                             { return nil }

// OrNop returns b, or Nop when b is nil
func OrNop(b Backend) Backend {
	if b == nil {
		return Nop{}
	}
	return b
}

// Key renders name and labels as a stable series key: name{k=v,...}
func Key(name string, labels Labels) string {
	if len(labels) == 0 {
		return name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(labels[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Memory keeps every series in memory. Used by tests and the CLI.
type Memory struct {
	mu         sync.Mutex
	counters   map[string]float64
	histograms map[string][]float64
}

func NewMemory() *Memory {
	return &Memory{
		counters:   make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

func (m *Memory) IncCounter(name string, delta float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[Key(name, labels)] += delta
}

func (m *Memory) ObserveHistogram(name string, value float64, labels Labels) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := Key(name, labels)
	m.histograms[k] = append(m.histograms[k], value)
}

func (m *Memory) Close() error { return nil }

// Counter returns the current value of a counter series
func (m *Memory) Counter(name string, labels Labels) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[Key(name, labels)]
}

// Observations returns a copy of a histogram series
func (m *Memory) Observations(name string, labels Labels) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64(nil), m.histograms[Key(name, labels)]...)
}
