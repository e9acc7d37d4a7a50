// Package observability keeps per-handler request statistics for a server.
package observability

import (
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

// latencyBounds are the upper bounds of the latency histogram buckets; the
// last bucket is open ended.
var latencyBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// RequestMonitor aggregates completed requests by handler name.
type RequestMonitor struct {
	enabled  atomic.Bool
	handlers *xsync.MapOf[string, *HandlerMetrics]
}

// HandlerMetrics are the live counters of one handler.
type HandlerMetrics struct {
	Name          string
	Count         atomic.Uint64
	Errors        atomic.Uint64
	TotalDuration atomic.Uint64
	MinDuration   atomic.Uint64
	MaxDuration   atomic.Uint64
	BytesRead     atomic.Uint64
	BytesWritten  atomic.Uint64
	statusClasses [6]atomic.Uint64
	buckets       [len(latencyBounds) + 1]atomic.Uint64
}

// Record describes one completed request.
type Record struct {
	Handler      string
	StatusCode   int
	Duration     time.Duration
	BytesRead    int64
	BytesWritten int64
}

// Bottleneck is a handler whose statistics look unhealthy.
type Bottleneck struct {
	Type     string
	Location string
	Severity int
	Impact   float64
	Details  string
}

// NewRequestMonitor creates an enabled monitor.
func NewRequestMonitor() *RequestMonitor {
	m := &RequestMonitor{handlers: xsync.NewMapOf[string, *HandlerMetrics]()}
	m.enabled.Store(true)
	return m
}

// SetEnabled turns recording on or off.
func (m *RequestMonitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// RecordRequest adds r to the statistics. 5xx statuses count as errors.
func (m *RequestMonitor) RecordRequest(r Record) {
	if m == nil || !m.enabled.Load() {
		return
	}
	metrics, _ := m.handlers.LoadOrCompute(r.Handler, func() *HandlerMetrics {
		return &HandlerMetrics{Name: r.Handler}
	})

	metrics.Count.Add(1)
	if r.StatusCode >= 500 {
		metrics.Errors.Add(1)
	}
	if class := r.StatusCode / 100; class >= 1 && class <= 5 {
		metrics.statusClasses[class].Add(1)
	}
	if r.BytesRead > 0 {
		metrics.BytesRead.Add(uint64(r.BytesRead))
	}
	if r.BytesWritten > 0 {
		metrics.BytesWritten.Add(uint64(r.BytesWritten))
	}

	d := uint64(max(r.Duration, 0))
	metrics.TotalDuration.Add(d)
	updateMinMax(metrics, d)
	metrics.buckets[bucketFor(r.Duration)].Add(1)
}

func updateMinMax(m *HandlerMetrics, d uint64) {
	for {
		cur := m.MinDuration.Load()
		if (cur != 0 && d >= cur) || m.MinDuration.CompareAndSwap(cur, d) {
			break
		}
	}
	for {
		cur := m.MaxDuration.Load()
		if d <= cur || m.MaxDuration.CompareAndSwap(cur, d) {
			break
		}
	}
}

func bucketFor(d time.Duration) int {
	for i, bound := range latencyBounds {
		if d < bound {
			return i
		}
	}
	return len(latencyBounds)
}

// HandlerSnapshot is a point-in-time copy of HandlerMetrics.
type HandlerSnapshot struct {
	Name         string
	Count        uint64
	Errors       uint64
	Average      time.Duration
	Min          time.Duration
	Max          time.Duration
	BytesRead    uint64
	BytesWritten uint64
	// StatusClasses counts responses by first digit; index 0 is unused.
	StatusClasses [6]uint64
	// Latency counts requests per histogram bucket.
	Latency [len(latencyBounds) + 1]uint64
}

// Snapshot returns every handler's statistics sorted by name.
func (m *RequestMonitor) Snapshot() []HandlerSnapshot {
	out := make([]HandlerSnapshot, 0, m.handlers.Size())
	m.handlers.Range(func(name string, h *HandlerMetrics) bool {
		s := HandlerSnapshot{
			Name:         name,
			Count:        h.Count.Load(),
			Errors:       h.Errors.Load(),
			Min:          time.Duration(h.MinDuration.Load()),
			Max:          time.Duration(h.MaxDuration.Load()),
			BytesRead:    h.BytesRead.Load(),
			BytesWritten: h.BytesWritten.Load(),
		}
		if s.Count > 0 {
			s.Average = time.Duration(h.TotalDuration.Load() / s.Count)
		}
		for i := range h.statusClasses {
			s.StatusClasses[i] = h.statusClasses[i].Load()
		}
		for i := range h.buckets {
			s.Latency[i] = h.buckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Bottlenecks flags handlers with a high average latency or error rate.
func (m *RequestMonitor) Bottlenecks() []Bottleneck {
	var found []Bottleneck
	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}
		if s.Average > 100*time.Millisecond {
			found = append(found, Bottleneck{
				Type:     "latency",
				Location: s.Name,
				Severity: 8,
				Impact:   100.0,
				Details:  fmt.Sprintf("High latency (%v avg)", s.Average),
			})
		}
		if rate := float64(s.Errors) / float64(s.Count); s.Errors > 0 && rate > 0.05 {
			found = append(found, Bottleneck{
				Type:     "errors",
				Location: s.Name,
				Severity: 10,
				Impact:   rate * 100,
				Details:  fmt.Sprintf("%.1f%% error rate", rate*100),
			})
		}
	}
	return found
}
