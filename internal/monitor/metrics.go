// Package monitor tracks counters and latency histograms exposed through
// the gateway's /metrics endpoint.
package monitor

import (
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// PoolStats mirrors the occupancy fields gateway.Pool.Stats() reports.
// Kept as monitor's own type, not an import of internal/gateway, since
// gateway.go already imports this package to record HTTP metrics —
// importing back would cycle.
type PoolStats struct {
	TotalSessions  int            `json:"total_sessions"`
	ByUser         map[string]int `json:"by_user"`
	UnhealthyCount int            `json:"unhealthy_count"`
}

// SystemMetrics tracks overall gateway performance and connection counts.
type SystemMetrics struct {
	mu sync.RWMutex

	APILatency      *LatencyHistogram
	UpstreamLatency *LatencyHistogram

	apiRequests  uint64
	apiErrors    uint64
	errorsCount  uint64

	poolStats PoolStats

	totalConnections        int64
	authenticatedConnections int64
	upstreamConnections     int64

	startedAt time.Time
}

// LatencyHistogram tracks latency samples with sliding window. Stats
// caches its computation between Record calls rather than recomputing on
// every read.
type LatencyHistogram struct {
	mu          sync.Mutex
	samples     []float64
	maxSize     int
	dirty       bool
	cachedStats LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		APILatency:      NewLatencyHistogram(1000),
		UpstreamLatency: NewLatencyHistogram(1000),
		startedAt:       time.Now(),
	}
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{
		samples: make([]float64, 0, size),
		maxSize: size,
		dirty:   true,
	}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
	h.dirty = true
}

// RecordDuration converts duration to ms and records.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50, p95, p99, recomputing only when
// samples have changed since the last call.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.dirty && h.cachedStats.Count > 0 {
		return h.cachedStats
	}

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}

	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	min, max := sorted[0], sorted[n-1]
	for _, v := range sorted {
		sum += v
	}

	h.cachedStats = LatencyStats{
		Min:   min,
		Max:   max,
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
		P99:   sorted[int(float64(n)*0.99)],
		Count: n,
	}
	h.dirty = false

	return h.cachedStats
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// IncrementAPI increments the processed-API-request counter.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors increments the API error counter.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// IncrementErrors increments the general error counter.
func (m *SystemMetrics) IncrementErrors() {
	atomic.AddUint64(&m.errorsCount, 1)
}

// ConnectionOpened/Closed and Authenticated track the live connection
// gauges surfaced in MetricsSnapshot.
func (m *SystemMetrics) ConnectionOpened() {
	atomic.AddInt64(&m.totalConnections, 1)
}

func (m *SystemMetrics) ConnectionClosed() {
	atomic.AddInt64(&m.totalConnections, -1)
}

func (m *SystemMetrics) ConnectionAuthenticated() {
	atomic.AddInt64(&m.authenticatedConnections, 1)
}

func (m *SystemMetrics) ConnectionDeauthenticated() {
	atomic.AddInt64(&m.authenticatedConnections, -1)
}

// SetPoolStats records the latest upstream session pool occupancy.
func (m *SystemMetrics) SetPoolStats(stats PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.poolStats = stats
	atomic.StoreInt64(&m.upstreamConnections, int64(stats.TotalSessions))
}

// MemoryStats is the "memory" field of the /metrics body: a runtime.MemStats
// subset in the gateway's own field names rather than Go's.
type MemoryStats struct {
	HeapAllocBytes uint64 `json:"heapAllocBytes"`
	HeapSysBytes   uint64 `json:"heapSysBytes"`
	GoroutineCount int    `json:"goroutineCount"`
}

// MetricsSnapshot is the JSON body served at /metrics. Field names and
// shape are a documented external contract, not renameable internals.
type MetricsSnapshot struct {
	TotalConnections         int64       `json:"totalConnections"`
	AuthenticatedConnections int64       `json:"authenticatedConnections"`
	CtraderConnections       int64       `json:"ctraderConnections"`
	Uptime                   float64     `json:"uptime"`
	Memory                   MemoryStats `json:"memory"`

	APIRequests     uint64       `json:"apiRequests"`
	APIErrors       uint64       `json:"apiErrors"`
	ErrorsCount     uint64       `json:"errorsCount"`
	APILatency      LatencyStats `json:"apiLatency"`
	UpstreamLatency LatencyStats `json:"upstreamLatency"`
	PoolStats       PoolStats    `json:"poolStats"`
	Timestamp       time.Time    `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	poolStats := m.poolStats
	m.mu.RUnlock()

	return MetricsSnapshot{
		TotalConnections:         atomic.LoadInt64(&m.totalConnections),
		AuthenticatedConnections: atomic.LoadInt64(&m.authenticatedConnections),
		CtraderConnections:       atomic.LoadInt64(&m.upstreamConnections),
		Uptime:                   time.Since(m.startedAt).Seconds(),
		Memory: MemoryStats{
			HeapAllocBytes: memStats.HeapAlloc,
			HeapSysBytes:   memStats.HeapSys,
			GoroutineCount: runtime.NumGoroutine(),
		},
		APIRequests:     atomic.LoadUint64(&m.apiRequests),
		APIErrors:       atomic.LoadUint64(&m.apiErrors),
		ErrorsCount:     atomic.LoadUint64(&m.errorsCount),
		APILatency:      m.APILatency.Stats(),
		UpstreamLatency: m.UpstreamLatency.Stats(),
		PoolStats:       poolStats,
		Timestamp:       time.Now(),
	}
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{start: time.Now(), histogram: h}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
