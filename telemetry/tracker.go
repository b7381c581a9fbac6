// Package telemetry implements the resilient source-health client: monitoring
// aggregation, bounded-retry refresh, stream reconnection with fallback, and
// command dispatch, composed behind a single facade.
package telemetry

import (
	"math"
	"sort"
	"sync"
	"time"

	"sourcewatch/models"
	"sourcewatch/monitoring"
)

// StreamEventKind labels one event on the push stream.
type StreamEventKind string

const (
	StreamEventOpen       StreamEventKind = "open"
	StreamEventMessage    StreamEventKind = "message"
	StreamEventParseError StreamEventKind = "parse-error"
	StreamEventDrop       StreamEventKind = "drop"
)

// Tracker is the pure bookkeeping core: counters, a bounded latency window,
// and the current connection state. It performs no I/O and starts no timers,
// which keeps it trivially unit-testable. All methods are safe for concurrent
// use; the poll, stream, and command flows all record into the same instance.
type Tracker struct {
	mu        sync.Mutex
	samples   []float64
	capacity  int
	perf      models.PerformanceStats
	conn      models.ConnectionState
	usingMock bool

	metrics *monitoring.ClientMetrics
	now     func() time.Time
}

// NewTracker creates a tracker with the given latency window capacity.
// metrics may be nil.
func NewTracker(windowCapacity int, metrics *monitoring.ClientMetrics) *Tracker {
	if windowCapacity <= 0 {
		windowCapacity = 50
	}
	return &Tracker{
		samples:  make([]float64, 0, windowCapacity),
		capacity: windowCapacity,
		conn:     models.ConnectionState{Status: models.ConnInitializing},
		metrics:  metrics,
		now:      time.Now,
	}
}

// RecordSuccess records one successful request attempt. Consecutive failures
// reset to zero on any success.
func (t *Tracker) RecordSuccess(duration time.Duration, endpoint string) {
	t.mu.Lock()
	t.pushSample(duration)
	t.perf.TotalRequests++
	t.perf.SuccessfulRequests++
	now := t.now()
	t.conn.LastSuccessAt = &now
	t.conn.ConsecutiveFailures = 0
	t.conn.LastError = ""
	t.mu.Unlock()

	t.metrics.ObserveRequest(endpoint, "success", duration.Seconds())
}

// RecordFailure records one failed request attempt. httpStatus is zero for
// non-HTTP failures.
func (t *Tracker) RecordFailure(duration time.Duration, endpoint, message string, httpStatus int, isTimeout bool) {
	t.mu.Lock()
	t.pushSample(duration)
	t.perf.TotalRequests++
	t.perf.FailedRequests++
	if isTimeout {
		t.perf.TimeoutCount++
	}
	now := t.now()
	t.conn.LastFailureAt = &now
	t.conn.ConsecutiveFailures++
	t.conn.LastError = message
	t.mu.Unlock()

	outcome := "failure"
	switch {
	case isTimeout:
		outcome = "timeout"
	case httpStatus > 0:
		outcome = "http"
	}
	t.metrics.ObserveRequest(endpoint, outcome, duration.Seconds())
}

// RecordStreamEvent counts one stream event and refreshes the heartbeat for
// kinds that prove the stream is alive.
func (t *Tracker) RecordStreamEvent(kind StreamEventKind) {
	t.mu.Lock()
	t.perf.StreamEventCount++
	if kind == StreamEventOpen || kind == StreamEventMessage {
		now := t.now()
		t.perf.LastHeartbeatAt = &now
	}
	t.mu.Unlock()

	t.metrics.ObserveStreamEvent(string(kind))
}

// IncrementRetries counts one scheduled refresh retry.
func (t *Tracker) IncrementRetries() {
	t.mu.Lock()
	t.perf.RetryCount++
	t.mu.Unlock()

	t.metrics.ObserveRetry()
}

// ResetRetries clears the stream reconnect bookkeeping after a success.
func (t *Tracker) ResetRetries() {
	t.mu.Lock()
	t.conn.ReconnectAttempts = 0
	t.conn.ReconnectScheduledAt = nil
	t.mu.Unlock()
}

// RecordReconnectScheduled notes that one stream reconnect is pending at the
// given time. At most one reconnect is ever scheduled, so this overwrites any
// previous schedule.
func (t *Tracker) RecordReconnectScheduled(at time.Time) {
	t.mu.Lock()
	t.perf.StreamReconnects++
	t.conn.ReconnectAttempts++
	t.conn.ReconnectScheduledAt = &at
	t.mu.Unlock()

	t.metrics.ObserveReconnect()
}

// SetStatus moves the connection state machine. Entering connected clears the
// failure counter so the connected/zero-failures invariant holds regardless
// of call order. Degraded is sticky against connecting/reconnecting: retry
// churn during an outage is already surfaced as degraded, and the status only
// leaves it when a payload is accepted or the client shuts down.
func (t *Tracker) SetStatus(status models.ConnectionStatus) {
	t.mu.Lock()
	if t.conn.Status == models.ConnDegraded &&
		(status == models.ConnConnecting || status == models.ConnReconnecting) {
		t.mu.Unlock()
		return
	}
	t.conn.Status = status
	if status == models.ConnConnected {
		t.conn.ConsecutiveFailures = 0
		t.conn.ReconnectScheduledAt = nil
	}
	t.mu.Unlock()

	t.metrics.SetConnectionStatus(string(status))
}

// Status returns the current connection status.
func (t *Tracker) Status() models.ConnectionStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Status
}

// SetUsingMockData flags whether consumers are looking at fallback data.
func (t *Tracker) SetUsingMockData(using bool) {
	t.mu.Lock()
	t.usingMock = using
	t.mu.Unlock()
}

// UsingMockData reports the current fallback-data flag.
func (t *Tracker) UsingMockData() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usingMock
}

// RecordFallback notes a switch to fallback data.
func (t *Tracker) RecordFallback(reason string) {
	t.mu.Lock()
	t.conn.LastError = reason
	t.mu.Unlock()

	t.metrics.ObserveFallback(reason)
}

// RecordRecovery notes an accepted payload from the given origin ("fetch" or
// "stream"): failures reset, the last error clears, reconnect bookkeeping
// resets.
func (t *Tracker) RecordRecovery(origin string) {
	t.mu.Lock()
	now := t.now()
	t.conn.LastSuccessAt = &now
	t.conn.ConsecutiveFailures = 0
	t.conn.LastError = ""
	t.conn.ReconnectAttempts = 0
	t.conn.ReconnectScheduledAt = nil
	t.mu.Unlock()

	t.metrics.ObserveRecovery(origin)
}

// Snapshot recomputes the derived aggregate. The result is a value copy;
// consumers never mutate what they read.
func (t *Tracker) Snapshot() models.MonitoringSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	perf := t.perf
	perf.AverageLatencyMs = meanOf(t.samples)
	perf.P95LatencyMs = p95Of(t.samples)
	if t.perf.LastHeartbeatAt != nil {
		hb := *t.perf.LastHeartbeatAt
		perf.LastHeartbeatAt = &hb
	}

	conn := t.conn
	if t.conn.LastSuccessAt != nil {
		v := *t.conn.LastSuccessAt
		conn.LastSuccessAt = &v
	}
	if t.conn.LastFailureAt != nil {
		v := *t.conn.LastFailureAt
		conn.LastFailureAt = &v
	}
	if t.conn.ReconnectScheduledAt != nil {
		v := *t.conn.ReconnectScheduledAt
		conn.ReconnectScheduledAt = &v
	}

	return models.MonitoringSnapshot{Performance: perf, Connection: conn}
}

// ConnectionState returns a copy of the current connection state.
func (t *Tracker) ConnectionState() models.ConnectionState {
	return t.Snapshot().Connection
}

// pushSample appends a latency sample, evicting the oldest past capacity.
// Caller holds the lock.
func (t *Tracker) pushSample(duration time.Duration) {
	ms := float64(duration.Milliseconds())
	if len(t.samples) == t.capacity {
		t.samples = append(t.samples[1:], ms)
		return
	}
	t.samples = append(t.samples, ms)
}

func meanOf(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// p95Of is the nearest-rank 95th percentile of the window.
func p95Of(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	rank := int(math.Ceil(float64(len(sorted)) * 0.95))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
