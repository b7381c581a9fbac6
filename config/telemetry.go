package config

import "time"

// Telemetry holds every tunable of the source-health telemetry client.
// Zero values are filled in by Normalize, so a literal with just BaseURL set
// is a valid configuration.
type Telemetry struct {
	// BaseURL is the root of the health backend, e.g. "https://api.example.com".
	BaseURL string

	// RequestTimeout bounds each individual snapshot/command attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of retries after the first snapshot attempt,
	// so MaxRetries=3 means up to 4 attempts per refresh.
	MaxRetries int

	// RetryBaseDelay and RetryMaxDelay bound the refresh backoff schedule.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// PollInterval is the fallback poll period used until the backend
	// advertises refresh_interval_seconds.
	PollInterval time.Duration

	// StreamBackoffFloor/Ceiling bound the stream reconnect backoff.
	StreamBackoffFloor   time.Duration
	StreamBackoffCeiling time.Duration

	// StreamFailureThreshold is the consecutive stream-failure count at which
	// the client stops waiting for live data and falls back.
	StreamFailureThreshold int

	// CommandTimeout bounds each operator command POST.
	CommandTimeout time.Duration

	// LatencyWindow is the rolling latency sample capacity for avg/p95.
	LatencyWindow int

	// SnapshotTTL is how long a cached last-known-good snapshot is considered
	// servable during fallback.
	SnapshotTTL time.Duration
}

// Defaults for the telemetry client. Exported so tests and docs can refer to
// them instead of repeating literals.
const (
	DefaultRequestTimeout         = 15 * time.Second
	DefaultMaxRetries             = 3
	DefaultRetryBaseDelay         = 1 * time.Second
	DefaultRetryMaxDelay          = 20 * time.Second
	DefaultPollInterval           = 30 * time.Second
	DefaultStreamBackoffFloor     = 2 * time.Second
	DefaultStreamBackoffCeiling   = 60 * time.Second
	DefaultStreamFailureThreshold = 3
	DefaultCommandTimeout         = 10 * time.Second
	DefaultLatencyWindow          = 50
	DefaultSnapshotTTL            = 10 * time.Minute
)

// TelemetryFromEnv builds a Telemetry config from the process environment.
func TelemetryFromEnv() Telemetry {
	cfg := Telemetry{
		BaseURL:                GetEnv("SOURCEWATCH_BASE_URL", ""),
		RequestTimeout:         GetEnvDuration("SOURCEWATCH_REQUEST_TIMEOUT", DefaultRequestTimeout),
		MaxRetries:             GetEnvInt("SOURCEWATCH_MAX_RETRIES", DefaultMaxRetries),
		RetryBaseDelay:         GetEnvDuration("SOURCEWATCH_RETRY_BASE_DELAY", DefaultRetryBaseDelay),
		RetryMaxDelay:          GetEnvDuration("SOURCEWATCH_RETRY_MAX_DELAY", DefaultRetryMaxDelay),
		PollInterval:           GetEnvDuration("SOURCEWATCH_POLL_INTERVAL", DefaultPollInterval),
		StreamBackoffFloor:     GetEnvDuration("SOURCEWATCH_STREAM_BACKOFF_FLOOR", DefaultStreamBackoffFloor),
		StreamBackoffCeiling:   GetEnvDuration("SOURCEWATCH_STREAM_BACKOFF_CEILING", DefaultStreamBackoffCeiling),
		StreamFailureThreshold: GetEnvInt("SOURCEWATCH_STREAM_FAILURE_THRESHOLD", DefaultStreamFailureThreshold),
		CommandTimeout:         GetEnvDuration("SOURCEWATCH_COMMAND_TIMEOUT", DefaultCommandTimeout),
		LatencyWindow:          GetEnvInt("SOURCEWATCH_LATENCY_WINDOW", DefaultLatencyWindow),
		SnapshotTTL:            GetEnvDuration("SOURCEWATCH_SNAPSHOT_TTL", DefaultSnapshotTTL),
	}
	return cfg.Normalize()
}

// Normalize fills zero or nonsensical fields with defaults and returns the
// corrected config.
func (t Telemetry) Normalize() Telemetry {
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}
	// MaxRetries -1 means "no retries"; zero value gets the default.
	if t.MaxRetries < 0 {
		t.MaxRetries = 0
	} else if t.MaxRetries == 0 {
		t.MaxRetries = DefaultMaxRetries
	}
	if t.RetryBaseDelay <= 0 {
		t.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if t.RetryMaxDelay <= 0 {
		t.RetryMaxDelay = DefaultRetryMaxDelay
	}
	if t.RetryMaxDelay < t.RetryBaseDelay {
		t.RetryMaxDelay = t.RetryBaseDelay
	}
	if t.PollInterval <= 0 {
		t.PollInterval = DefaultPollInterval
	}
	if t.StreamBackoffFloor <= 0 {
		t.StreamBackoffFloor = DefaultStreamBackoffFloor
	}
	if t.StreamBackoffCeiling < t.StreamBackoffFloor {
		t.StreamBackoffCeiling = DefaultStreamBackoffCeiling
	}
	if t.StreamFailureThreshold <= 0 {
		t.StreamFailureThreshold = DefaultStreamFailureThreshold
	}
	if t.CommandTimeout <= 0 {
		t.CommandTimeout = DefaultCommandTimeout
	}
	if t.LatencyWindow <= 0 {
		t.LatencyWindow = DefaultLatencyWindow
	}
	if t.SnapshotTTL <= 0 {
		t.SnapshotTTL = DefaultSnapshotTTL
	}
	return t
}
