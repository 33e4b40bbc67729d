// metrics.go - In-process metrics for the ledger and daemon.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter   MetricType = "counter"
	Gauge     MetricType = "gauge"
	Histogram MetricType = "histogram"
)

// maxSamples bounds the memory kept per histogram series.
const maxSamples = 1000

// Metric represents the latest observation of one series.
type Metric struct {
	Name      string            `json:"name"`
	Type      MetricType        `json:"type"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Collector manages metrics collection. A nil *Collector is valid and records
// nothing, so components can take one optionally.
type Collector struct {
	mu         sync.RWMutex
	metrics    map[string]*Metric
	counters   map[string]int64
	gauges     map[string]float64
	histograms map[string][]float64
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		metrics:    make(map[string]*Metric),
		counters:   make(map[string]int64),
		gauges:     make(map[string]float64),
		histograms: make(map[string][]float64),
	}
}

// IncrementCounter increments a counter metric
func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.counters[key]++
	c.updateMetric(key, name, Counter, float64(c.counters[key]), labels)
}

// SetGauge sets a gauge metric value
func (c *Collector) SetGauge(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	c.gauges[key] = value
	c.updateMetric(key, name, Gauge, value, labels)
}

// RecordHistogram records a value in a histogram
func (c *Collector) RecordHistogram(name string, value float64, labels map[string]string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	key := makeKey(name, labels)
	samples := append(c.histograms[key], value)
	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	c.histograms[key] = samples
	c.updateMetric(key, name, Histogram, value, labels)
}

// GetMetric retrieves a metric by name and labels
func (c *Collector) GetMetric(name string, labels map[string]string) *Metric {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.metrics[makeKey(name, labels)]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

// Counter returns the current value of a counter series.
func (c *Collector) Counter(name string, labels map[string]string) int64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[makeKey(name, labels)]
}

// GetAllMetrics returns all collected metrics sorted by series key.
func (c *Collector) GetAllMetrics() []Metric {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.metrics))
	for k := range c.metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		out = append(out, *c.metrics[k])
	}
	return out
}

// HistogramSummary aggregates one histogram series.
type HistogramSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Sum   float64 `json:"sum"`
	Avg   float64 `json:"avg"`
}

// Summary is a point-in-time view of every series.
type Summary struct {
	Counters   map[string]int64            `json:"counters"`
	Gauges     map[string]float64          `json:"gauges"`
	Histograms map[string]HistogramSummary `json:"histograms"`
}

// GetMetricsSummary returns a summary of all metrics
func (c *Collector) GetMetricsSummary() Summary {
	s := Summary{
		Counters:   make(map[string]int64),
		Gauges:     make(map[string]float64),
		Histograms: make(map[string]HistogramSummary),
	}
	if c == nil {
		return s
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	for k, v := range c.counters {
		s.Counters[k] = v
	}
	for k, v := range c.gauges {
		s.Gauges[k] = v
	}
	for k, values := range c.histograms {
		if len(values) == 0 {
			continue
		}
		h := HistogramSummary{Count: len(values), Min: values[0], Max: values[0]}
		for _, v := range values {
			if v < h.Min {
				h.Min = v
			}
			if v > h.Max {
				h.Max = v
			}
			h.Sum += v
		}
		h.Avg = h.Sum / float64(h.Count)
		s.Histograms[k] = h
	}
	return s
}

// Reset resets all metrics
func (c *Collector) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics = make(map[string]*Metric)
	c.counters = make(map[string]int64)
	c.gauges = make(map[string]float64)
	c.histograms = make(map[string][]float64)
}

// makeKey builds a series key with labels in sorted order.
func makeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(name)
	b.WriteString("{")
	for i, k := range names {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(labels[k])
	}
	b.WriteString("}")
	return b.String()
}

func (c *Collector) updateMetric(key, name string, metricType MetricType, value float64, labels map[string]string) {
	var lbls map[string]string
	if len(labels) > 0 {
		lbls = make(map[string]string, len(labels))
		for k, v := range labels {
			lbls[k] = v
		}
	}
	c.metrics[key] = &Metric{
		Name:      name,
		Type:      metricType,
		Value:     value,
		Labels:    lbls,
		Timestamp: time.Now(),
	}
}

// Predefined metric names
const (
	MetricTxAdmitted      = "tx_admitted"
	MetricTxRejected      = "tx_rejected"
	MetricBlocksProduced  = "blocks_produced"
	MetricMiningDuration  = "mining_duration_seconds"
	MetricChainHeight     = "chain_height"
	MetricMempoolSize     = "mempool_size"
	MetricDifficulty      = "difficulty"
	MetricValidatorSlash  = "validator_slashed"
	MetricHTTPRequests    = "http_requests"
	MetricHTTPRateLimited = "http_rate_limited"
)

// RecordTxAdmitted counts an admitted transaction by kind.
func (c *Collector) RecordTxAdmitted(shielded bool) {
	c.IncrementCounter(MetricTxAdmitted, map[string]string{"kind": txKind(shielded)})
}

// RecordTxRejected counts a rejected transaction by reason.
func (c *Collector) RecordTxRejected(reason string) {
	c.IncrementCounter(MetricTxRejected, map[string]string{"reason": reason})
}

// RecordBlock counts a produced block and updates chain gauges.
func (c *Collector) RecordBlock(kind string, height int, mempoolSize int) {
	c.IncrementCounter(MetricBlocksProduced, map[string]string{"kind": kind})
	c.SetGauge(MetricChainHeight, float64(height), nil)
	c.SetGauge(MetricMempoolSize, float64(mempoolSize), nil)
}

// RecordMining records how long a proof-of-work search took.
func (c *Collector) RecordMining(duration time.Duration, difficulty int) {
	c.RecordHistogram(MetricMiningDuration, duration.Seconds(), nil)
	c.SetGauge(MetricDifficulty, float64(difficulty), nil)
}

// RecordSlash counts a slashing event.
func (c *Collector) RecordSlash(removed bool) {
	outcome := "kept"
	if removed {
		outcome = "removed"
	}
	c.IncrementCounter(MetricValidatorSlash, map[string]string{"outcome": outcome})
}

func txKind(shielded bool) string {
	if shielded {
		return "shielded"
	}
	return "transparent"
}
