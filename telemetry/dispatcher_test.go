package telemetry

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"sourcewatch/api/health"
	"sourcewatch/clients"
	"sourcewatch/clients/healthapi"
	"sourcewatch/testutil"
)

type dispatchFixture struct {
	backend   *testutil.MockHealthBackend
	tracker   *Tracker
	dispatch  *Dispatcher
	refreshes atomic.Int64
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()
	f := &dispatchFixture{
		backend: testutil.NewMockHealthBackend(),
		tracker: NewTracker(10, nil),
	}
	t.Cleanup(f.backend.Close)

	api := healthapi.NewClient(healthapi.Config{BaseURL: f.backend.URL(), Timeout: 2 * time.Second})
	f.dispatch = NewDispatcher(DispatcherConfig{
		API:            api,
		Tracker:        f.tracker,
		Timeout:        2 * time.Second,
		RequestRefresh: func() { f.refreshes.Add(1) },
	})
	return f
}

func TestDispatchSuccess(t *testing.T) {
	f := newDispatchFixture(t)

	if err := f.dispatch.Dispatch(context.Background(), "src-1", health.ActionTest); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hits := f.backend.Commands()
	if len(hits) != 1 || hits[0].SourceID != "src-1" || hits[0].Action != "test" {
		t.Fatalf("unexpected command log: %+v", hits)
	}
	if f.refreshes.Load() != 1 {
		t.Fatalf("refresh requests = %d, want 1", f.refreshes.Load())
	}
	if f.tracker.Snapshot().Performance.SuccessfulRequests != 1 {
		t.Fatal("command success not recorded")
	}
}

func TestDispatchValidationRejectsBeforeNetwork(t *testing.T) {
	f := newDispatchFixture(t)

	err := f.dispatch.Dispatch(context.Background(), "../../etc/passwd", health.ActionTest)
	if clients.KindOf(err) != clients.ErrValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
	if len(f.backend.Commands()) != 0 {
		t.Fatal("rejected command must never reach the backend")
	}
	if f.refreshes.Load() != 0 {
		t.Fatal("rejected command must not request a refresh")
	}
	if f.tracker.Snapshot().Performance.TotalRequests != 0 {
		t.Fatal("rejected command must not count as a request")
	}
}

func TestDispatchUnknownAction(t *testing.T) {
	f := newDispatchFixture(t)
	err := f.dispatch.Dispatch(context.Background(), "src-1", health.CommandAction("reboot"))
	if clients.KindOf(err) != clients.ErrValidation {
		t.Fatalf("expected validation kind, got %v", err)
	}
}

func TestDispatchBackendFailureStillRefreshes(t *testing.T) {
	f := newDispatchFixture(t)
	f.backend.SetCommandResponse(http.StatusInternalServerError, "broken")

	err := f.dispatch.Dispatch(context.Background(), "src-1", health.ActionResume)
	if clients.KindOf(err) != clients.ErrHTTP {
		t.Fatalf("expected http kind, got %v", err)
	}
	if f.refreshes.Load() != 1 {
		t.Fatal("a failed network attempt must still request a refresh")
	}
	snap := f.tracker.Snapshot()
	if snap.Performance.FailedRequests != 1 {
		t.Fatal("command failure not recorded")
	}
}

func TestDispatchEveryAction(t *testing.T) {
	f := newDispatchFixture(t)
	actions := []health.CommandAction{
		health.ActionTest, health.ActionDiagnostics, health.ActionPause, health.ActionResume,
	}
	for _, action := range actions {
		if err := f.dispatch.Dispatch(context.Background(), "src-1", action); err != nil {
			t.Fatalf("action %s: %v", action, err)
		}
	}
	hits := f.backend.Commands()
	if len(hits) != len(actions) {
		t.Fatalf("expected %d commands, got %d", len(actions), len(hits))
	}
	for i, action := range actions {
		if hits[i].Action != string(action) {
			t.Fatalf("command %d: got %q, want %q", i, hits[i].Action, action)
		}
	}
}

func TestDispatchBreakerStateExposed(t *testing.T) {
	f := newDispatchFixture(t)
	if got := f.dispatch.BreakerState(); got != "closed" {
		t.Fatalf("fresh breaker state = %q, want closed", got)
	}
}
