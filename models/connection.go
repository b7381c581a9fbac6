package models

import "time"

// ConnectionStatus describes the client's relationship to the backend.
type ConnectionStatus string

const (
	ConnInitializing ConnectionStatus = "initializing"
	ConnConnecting   ConnectionStatus = "connecting"
	ConnConnected    ConnectionStatus = "connected"
	ConnReconnecting ConnectionStatus = "reconnecting"
	ConnDegraded     ConnectionStatus = "degraded"
	ConnOffline      ConnectionStatus = "offline"
)

// ConnectionState is the value object exposed to consumers. status==connected
// implies ConsecutiveFailures==0; status==offline is only set at teardown.
type ConnectionState struct {
	Status               ConnectionStatus `json:"status"`
	ConsecutiveFailures  int              `json:"consecutive_failures"`
	LastSuccessAt        *time.Time       `json:"last_success_at,omitempty"`
	LastFailureAt        *time.Time       `json:"last_failure_at,omitempty"`
	LastError            string           `json:"last_error,omitempty"`
	ReconnectAttempts    int              `json:"reconnect_attempts"`
	ReconnectScheduledAt *time.Time       `json:"reconnect_scheduled_at,omitempty"`
}

// PerformanceStats aggregates request and stream counters since process start.
type PerformanceStats struct {
	AverageLatencyMs   float64    `json:"average_latency_ms"`
	P95LatencyMs       float64    `json:"p95_latency_ms"`
	TotalRequests      int64      `json:"total_requests"`
	SuccessfulRequests int64      `json:"successful_requests"`
	FailedRequests     int64      `json:"failed_requests"`
	TimeoutCount       int64      `json:"timeout_count"`
	RetryCount         int64      `json:"retry_count"`
	StreamReconnects   int64      `json:"stream_reconnects"`
	StreamEventCount   int64      `json:"stream_event_count"`
	LastHeartbeatAt    *time.Time `json:"last_heartbeat_at,omitempty"`
}

// MonitoringSnapshot is the read-only aggregate recomputed on every recorded
// event. Never persisted; rebuilt fresh each process run.
type MonitoringSnapshot struct {
	Performance PerformanceStats `json:"performance"`
	Connection  ConnectionState  `json:"connection"`
}
