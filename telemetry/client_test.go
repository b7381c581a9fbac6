package telemetry

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"sourcewatch/config"
	"sourcewatch/models"
	"sourcewatch/testutil"
)

func testTelemetryConfig(baseURL string) config.Telemetry {
	return config.Telemetry{
		BaseURL:                baseURL,
		RequestTimeout:         2 * time.Second,
		MaxRetries:             -1, // single attempt keeps failure paths fast
		RetryBaseDelay:         5 * time.Millisecond,
		RetryMaxDelay:          20 * time.Millisecond,
		PollInterval:           time.Hour,
		StreamBackoffFloor:     10 * time.Millisecond,
		StreamBackoffCeiling:   50 * time.Millisecond,
		StreamFailureThreshold: 3,
		CommandTimeout:         2 * time.Second,
		LatencyWindow:          10,
		SnapshotTTL:            time.Minute,
	}
}

func startClient(t *testing.T, backend *testutil.MockHealthBackend, cfg config.Telemetry) *Client {
	t.Helper()
	client := New(cfg, Options{})
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { client.Close() }) //nolint:errcheck
	return client
}

func TestClientHappyPathStartup(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(3))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))

	waitFor(t, 5*time.Second, func() bool {
		state := client.State()
		return len(state.SourceHealth) == 3 && !state.Loading
	}, "initial snapshot never applied")

	state := client.State()
	if state.UsingMockData {
		t.Fatal("live data must not be tagged as mock")
	}
	if state.Error != "" {
		t.Fatalf("unexpected error: %q", state.Error)
	}
	if state.SourceHealth[0].SourceID != "src-0" {
		t.Fatalf("records not sorted: %q first", state.SourceHealth[0].SourceID)
	}
	if state.Metrics.TotalSources != 3 {
		t.Fatalf("TotalSources = %d", state.Metrics.TotalSources)
	}
	waitFor(t, 5*time.Second, func() bool {
		return client.State().Connection.Status == models.ConnConnected
	}, "never reached connected")
}

func TestClientFallsBackToSyntheticOnColdStartOutage(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	// No default snapshot: every fetch 503s, every stream connect fails.
	backend.FailStream(1000)

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))

	waitFor(t, 5*time.Second, func() bool {
		state := client.State()
		return state.UsingMockData && len(state.SourceHealth) > 0
	}, "never switched to synthetic fallback")

	state := client.State()
	if state.Error == "" {
		t.Fatal("fallback must surface the failure")
	}
	if state.Loading {
		t.Fatal("loading must clear once fallback data is shown")
	}
	waitFor(t, 5*time.Second, func() bool {
		return client.State().Connection.Status == models.ConnDegraded
	}, "never reached degraded")
}

func TestClientServesCachedDataDuringOutage(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(2))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 2
	}, "initial snapshot never applied")

	// Outage: snapshots now fail, streams drop and stay down.
	backend.SetDefaultSnapshot(nil)
	backend.FailStream(1000)
	backend.SeverStreams()

	if err := client.RefreshHealth(context.Background()); err == nil {
		t.Fatal("refresh during outage must report the failure")
	}

	state := client.State()
	if state.UsingMockData {
		t.Fatal("cached real data must not be tagged as mock")
	}
	if len(state.SourceHealth) != 2 {
		t.Fatalf("cached records lost: %d", len(state.SourceHealth))
	}
	if state.Error == "" {
		t.Fatal("outage must surface an error")
	}
}

func TestClientRecoversFromFallback(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.FailStream(1000)

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return client.State().UsingMockData
	}, "never fell back")

	// Backend comes back for polling.
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(4))
	if err := client.RefreshHealth(context.Background()); err != nil {
		t.Fatalf("refresh after recovery: %v", err)
	}

	state := client.State()
	if state.UsingMockData {
		t.Fatal("recovery must clear the mock tag")
	}
	if len(state.SourceHealth) != 4 {
		t.Fatalf("expected 4 live records, got %d", len(state.SourceHealth))
	}
	if state.Error != "" {
		t.Fatalf("recovery must clear the error, got %q", state.Error)
	}
}

func TestClientStreamSnapshotUpdatesState(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	fixtures := testutil.NewHealthFixtures()
	backend.SetDefaultSnapshot(fixtures.Snapshot(1))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return backend.StreamConnections() >= 1 && len(client.State().SourceHealth) >= 1
	}, "startup incomplete")

	backend.PushSnapshot(fixtures.Snapshot(5))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 5
	}, "stream snapshot never applied")
}

func TestClientStreamApplyIsIdempotent(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	fixtures := testutil.NewHealthFixtures()
	backend.SetDefaultSnapshot(fixtures.Snapshot(1))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return backend.StreamConnections() >= 1 && len(client.State().SourceHealth) >= 1
	}, "startup incomplete")

	backend.PushSnapshot(fixtures.Snapshot(4))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 4
	}, "first stream snapshot never applied")
	first := client.State()
	messages := client.Monitoring().Performance.StreamEventCount

	// The identical payload again: state must not drift.
	backend.PushSnapshot(fixtures.Snapshot(4))
	waitFor(t, 5*time.Second, func() bool {
		return client.Monitoring().Performance.StreamEventCount > messages
	}, "second stream snapshot never delivered")

	second := client.State()
	if !reflect.DeepEqual(first.SourceHealth, second.SourceHealth) {
		t.Fatal("records changed on re-applying the same payload")
	}
	if first.Metrics != second.Metrics {
		t.Fatalf("metrics changed on re-apply: %+v vs %+v", first.Metrics, second.Metrics)
	}
	if !second.LastUpdated.Equal(first.LastUpdated) {
		t.Fatalf("timestamp changed on re-apply: %v vs %v", first.LastUpdated, second.LastUpdated)
	}
}

func TestClientRejectsInvalidStreamPayload(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	fixtures := testutil.NewHealthFixtures()
	backend.SetDefaultSnapshot(fixtures.Snapshot(2))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return backend.StreamConnections() >= 1 && len(client.State().SourceHealth) == 2
	}, "startup incomplete")

	backend.PushSnapshot(fixtures.SnapshotWithBadUptime())
	time.Sleep(100 * time.Millisecond)
	if n := len(client.State().SourceHealth); n != 2 {
		t.Fatalf("invalid payload must be discarded wholesale, got %d records", n)
	}
}

func TestClientCommandTriggersReconcileRefresh(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(1))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 1
	}, "startup incomplete")

	before := backend.SnapshotRequests()
	if err := client.TriggerSourceTest(context.Background(), "src-0"); err != nil {
		t.Fatalf("trigger test: %v", err)
	}

	hits := backend.Commands()
	if len(hits) != 1 || hits[0].Action != "test" {
		t.Fatalf("unexpected command log: %+v", hits)
	}
	waitFor(t, 5*time.Second, func() bool {
		return backend.SnapshotRequests() > before
	}, "command never reconciled with a refresh")
}

func TestClientCommandValidationSkipsNetwork(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(1))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 1
	}, "startup incomplete")

	before := backend.SnapshotRequests()
	if err := client.PauseMonitoring(context.Background(), "bad id!"); err == nil {
		t.Fatal("invalid id must be rejected")
	}
	if len(backend.Commands()) != 0 {
		t.Fatal("rejected command must not reach the backend")
	}
	time.Sleep(100 * time.Millisecond)
	if backend.SnapshotRequests() != before {
		t.Fatal("rejected command must not trigger a refresh")
	}
	if client.State().Error == "" {
		t.Fatal("rejection must surface to consumers")
	}
}

func TestClientRefreshSourceValidatesID(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(1))

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	if err := client.RefreshSource(context.Background(), "no/slashes"); err == nil {
		t.Fatal("unsafe id must be rejected")
	}
	if err := client.RefreshSource(context.Background(), "src-0"); err != nil {
		t.Fatalf("valid id rejected: %v", err)
	}
}

func TestClientCloseIsSilentAndIdempotent(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	backend.SetDefaultSnapshot(testutil.NewHealthFixtures().Snapshot(2))

	client := New(testTelemetryConfig(backend.URL()), Options{})
	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 2
	}, "startup incomplete")

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if client.State().Connection.Status != models.ConnOffline {
		t.Fatalf("status after close = %s, want offline", client.State().Connection.Status)
	}

	// Nothing mutates displayed state after teardown.
	before := client.State()
	backend.PushSnapshot(testutil.NewHealthFixtures().Snapshot(5))
	time.Sleep(100 * time.Millisecond)
	after := client.State()
	if len(after.SourceHealth) != len(before.SourceHealth) {
		t.Fatal("state mutated after close")
	}

	if err := client.RefreshHealth(context.Background()); err != ErrClientClosed {
		t.Fatalf("refresh after close = %v, want ErrClientClosed", err)
	}
	if err := client.Start(context.Background()); err != ErrClientClosed {
		t.Fatalf("restart after close = %v, want ErrClientClosed", err)
	}
}

func TestClientRetriesTransientFailure(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	fixtures := testutil.NewHealthFixtures()
	// First attempt fails, retry succeeds.
	backend.QueueSnapshot(testutil.SnapshotReply{Status: http.StatusBadGateway})
	backend.SetDefaultSnapshot(fixtures.Snapshot(2))

	cfg := testTelemetryConfig(backend.URL())
	cfg.MaxRetries = 2

	client := startClient(t, backend, cfg)
	waitFor(t, 5*time.Second, func() bool {
		state := client.State()
		return len(state.SourceHealth) == 2 && !state.UsingMockData
	}, "retry never recovered the snapshot")

	if client.Monitoring().Performance.RetryCount == 0 {
		t.Fatal("retry must be recorded")
	}
}

func TestClientConcurrentRefreshesCoalesce(t *testing.T) {
	backend := testutil.NewMockHealthBackend()
	t.Cleanup(backend.Close)
	fixtures := testutil.NewHealthFixtures()
	backend.SetDefaultSnapshot(fixtures.Snapshot(1))
	backend.FailStream(1000) // keep the stream out of the request count

	client := startClient(t, backend, testTelemetryConfig(backend.URL()))
	waitFor(t, 5*time.Second, func() bool {
		return len(client.State().SourceHealth) == 1
	}, "startup incomplete")

	// Slow the backend down so concurrent refreshes overlap.
	backend.QueueSnapshot(testutil.SnapshotReply{
		Status:   http.StatusOK,
		Snapshot: fixtures.Snapshot(1),
		Delay:    200 * time.Millisecond,
	})

	before := backend.SnapshotRequests()
	done := make(chan error, 3)
	for i := 0; i < 3; i++ {
		go func() { done <- client.RefreshHealth(context.Background()) }()
	}
	for i := 0; i < 3; i++ {
		if err := <-done; err != nil {
			t.Fatalf("refresh %d: %v", i, err)
		}
	}
	if got := backend.SnapshotRequests() - before; got != 1 {
		t.Fatalf("3 concurrent refreshes produced %d requests, want 1", got)
	}
}
