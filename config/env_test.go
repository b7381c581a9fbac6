package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("FOO", "")
	if got := GetEnv("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("FOO", "baz")
	if got := GetEnv("FOO", "bar"); got != "baz" {
		t.Fatalf("expected baz, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("NUM", "")
	if got := GetEnvInt("NUM", 42); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("NUM", "100")
	if got := GetEnvInt("NUM", 42); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	t.Setenv("NUM", "notint")
	if got := GetEnvInt("NUM", 7); got != 7 {
		t.Fatalf("expected 7 on parse error, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("DUR", "")
	if got := GetEnvDuration("DUR", time.Second); got != time.Second {
		t.Fatalf("expected 1s default, got %v", got)
	}
	t.Setenv("DUR", "250ms")
	if got := GetEnvDuration("DUR", time.Second); got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %v", got)
	}
	t.Setenv("DUR", "nonsense")
	if got := GetEnvDuration("DUR", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected 2s on parse error, got %v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}

func TestLoadEnv_NoFile(t *testing.T) {
	// Should not panic or error; just log debug
	logger := logrus.New()
	LoadEnv(logger)
}

func TestTelemetryNormalize(t *testing.T) {
	cfg := Telemetry{BaseURL: "http://localhost"}.Normalize()
	if cfg.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("expected default request timeout, got %v", cfg.RequestTimeout)
	}
	if cfg.MaxRetries != DefaultMaxRetries {
		t.Fatalf("expected default max retries, got %d", cfg.MaxRetries)
	}
	if cfg.StreamFailureThreshold != DefaultStreamFailureThreshold {
		t.Fatalf("expected default stream failure threshold, got %d", cfg.StreamFailureThreshold)
	}

	cfg = Telemetry{MaxRetries: -1}.Normalize()
	if cfg.MaxRetries != 0 {
		t.Fatalf("expected -1 to mean no retries, got %d", cfg.MaxRetries)
	}

	cfg = Telemetry{RetryBaseDelay: 10 * time.Second, RetryMaxDelay: time.Second}.Normalize()
	if cfg.RetryMaxDelay < cfg.RetryBaseDelay {
		t.Fatalf("expected max delay raised to base delay")
	}
}

func TestTelemetryFromEnv(t *testing.T) {
	t.Setenv("SOURCEWATCH_BASE_URL", "http://backend:9000")
	t.Setenv("SOURCEWATCH_MAX_RETRIES", "5")
	t.Setenv("SOURCEWATCH_REQUEST_TIMEOUT", "5s")
	cfg := TelemetryFromEnv()
	if cfg.BaseURL != "http://backend:9000" {
		t.Fatalf("unexpected base URL %q", cfg.BaseURL)
	}
	if cfg.MaxRetries != 5 {
		t.Fatalf("expected 5 retries, got %d", cfg.MaxRetries)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Fatalf("expected 5s timeout, got %v", cfg.RequestTimeout)
	}
}
