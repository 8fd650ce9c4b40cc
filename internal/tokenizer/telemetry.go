package tokenizer

import (
	"sync"
	"time"
)

// CallRecord captures one tokenizer invocation for the telemetry
// collector: latency, text length, token count, fallback lineage, and
// error classification.
type CallRecord struct {
	AdapterID    string
	ModelName    string
	TextLength   int
	TokenCount   int
	Latency      time.Duration
	WasFallback  bool
	FallbackFrom string
	Err          error
}

// TelemetryCollector aggregates CallRecords across an invocation's
// lifetime. Constructed per-invocation and safe for concurrent use.
type TelemetryCollector struct {
	mu      sync.Mutex
	records []CallRecord
}

// NewTelemetryCollector constructs an empty collector.
func NewTelemetryCollector() *TelemetryCollector {
	return &TelemetryCollector{}
}

// Record appends a CallRecord.
func (t *TelemetryCollector) Record(r CallRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.records = append(t.records, r)
}

// Records returns a snapshot copy of every recorded call.
func (t *TelemetryCollector) Records() []CallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CallRecord, len(t.records))
	copy(out, t.records)
	return out
}

// Stats summarizes the collector's history for health reporting.
type Stats struct {
	TotalCalls    int
	FallbackCalls int
	ErrorCalls    int
	AvgLatency    time.Duration
}

// Summarize computes aggregate statistics over every recorded call.
func (t *TelemetryCollector) Summarize() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	var s Stats
	var total time.Duration
	for _, r := range t.records {
		s.TotalCalls++
		if r.WasFallback {
			s.FallbackCalls++
		}
		if r.Err != nil {
			s.ErrorCalls++
		}
		total += r.Latency
	}
	if s.TotalCalls > 0 {
		s.AvgLatency = total / time.Duration(s.TotalCalls)
	}
	return s
}

// TelemetryAdapter wraps an Adapter, timing every call and forwarding a
// CallRecord to collector. fallbackFrom/wasFallback are carried from the
// Resolution that produced inner so telemetry preserves fallback lineage
// even though the wrapped Adapter itself has no notion of it.
type TelemetryAdapter struct {
	inner        Adapter
	collector    *TelemetryCollector
	wasFallback  bool
	fallbackFrom string
}

// NewTelemetryAdapter wraps inner, recording every call into collector.
func NewTelemetryAdapter(inner Adapter, collector *TelemetryCollector, wasFallback bool, fallbackFrom string) *TelemetryAdapter {
	return &TelemetryAdapter{inner: inner, collector: collector, wasFallback: wasFallback, fallbackFrom: fallbackFrom}
}

func (t *TelemetryAdapter) AdapterID() string { return t.inner.AdapterID() }
func (t *TelemetryAdapter) ModelName() string { return t.inner.ModelName() }
func (t *TelemetryAdapter) MaxTokens() int    { return t.inner.MaxTokens() }

func (t *TelemetryAdapter) CountTokens(text string) (TokenCount, error) {
	start := time.Now()
	tc, err := t.inner.CountTokens(text)
	latency := time.Since(start)

	t.collector.Record(CallRecord{
		AdapterID:    t.inner.AdapterID(),
		ModelName:    t.inner.ModelName(),
		TextLength:   len(text),
		TokenCount:   tc.Count,
		Latency:      latency,
		WasFallback:  t.wasFallback,
		FallbackFrom: t.fallbackFrom,
		Err:          err,
	})
	return tc, err
}
