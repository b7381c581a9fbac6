package clients

import (
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns a configured HTTP transport with connection limits.
// The telemetry client retries against failing backends; without caps a dead
// backend accumulates connection-waiting goroutines across retry storms.
func DefaultTransport() *http.Transport {
	return &http.Transport{
		// Cap concurrent connections to any single host
		MaxConnsPerHost: 16,

		// Keep some connections warm for reuse between polls
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,

		// Connection establishment timeouts
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		// TLS handshake timeout
		TLSHandshakeTimeout: 10 * time.Second,

		ExpectContinueTimeout: 1 * time.Second,
	}
}

// NewHTTPClient builds a request/response client with a hard timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: DefaultTransport(),
	}
}

// NewStreamClient builds a client for the long-lived push stream. It carries
// no overall timeout: liveness is inferred from message flow, not a deadline.
func NewStreamClient() *http.Client {
	return &http.Client{
		Transport: DefaultTransport(),
	}
}
