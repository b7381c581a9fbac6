package telemetry

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"sourcewatch/api/health"
	"sourcewatch/cache"
	"sourcewatch/clients"
	"sourcewatch/clients/healthapi"
	"sourcewatch/config"
	"sourcewatch/logging"
	"sourcewatch/models"
	"sourcewatch/monitoring"
	"sourcewatch/validation"
	"sourcewatch/version"
)

// ErrClientClosed is returned by operations on a torn-down client.
var ErrClientClosed = errors.New("telemetry client is closed")

// State is the immutable snapshot handed to rendering code. Consumers never
// mutate what they read; every call returns fresh copies.
type State struct {
	SourceHealth  []models.SourceHealthRecord
	Metrics       models.FleetMetrics
	Connection    models.ConnectionState
	Monitoring    models.MonitoringSnapshot
	UsingMockData bool
	LastUpdated   time.Time
	Loading       bool
	IsRefreshing  bool
	Error         string
}

// Options carries optional collaborators for the facade.
type Options struct {
	Logger  logging.Logger
	Metrics *monitoring.ClientMetrics
}

// Client is the public facade: it composes the tracker, the fetch-retry
// executor, the stream reconnector, the fallback supplier, and the command
// dispatcher into the single coherent state consumed by rendering code, and
// owns their lifecycle.
type Client struct {
	cfg       config.Telemetry
	logger    logging.Logger
	metrics   *monitoring.ClientMetrics
	api       *healthapi.Client
	tracker   *Tracker
	fallback  *FallbackSupplier
	store     *cache.SnapshotStore
	recon     *Reconnector
	dispatch  *Dispatcher
	validator *validation.CommandValidator

	mu             sync.RWMutex
	sources        []models.SourceHealthRecord
	fleet          models.FleetMetrics
	usingMock      bool
	lastUpdated    time.Time
	loading        bool
	refreshing     bool
	lastErr        string
	pollInterval   time.Duration
	visible        bool
	fallbackActive bool
	refreshSeq     int64
	started        bool
	closed         bool

	runCtx    context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	sf        singleflight.Group
	pollReset chan time.Duration
}

// New creates a telemetry client. Call Start to activate it.
func New(cfg config.Telemetry, opts Options) *Client {
	cfg = cfg.Normalize()

	c := &Client{
		cfg:          cfg,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		tracker:      NewTracker(cfg.LatencyWindow, opts.Metrics),
		fallback:     NewFallbackSupplier(),
		validator:    validation.NewCommandValidator(),
		pollInterval: cfg.PollInterval,
		visible:      true,
		pollReset:    make(chan time.Duration, 1),
	}
	c.api = healthapi.NewClient(healthapi.Config{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.RequestTimeout,
		Logger:  opts.Logger,
	})
	c.store = cache.New(cache.Options{
		TTL:         cfg.SnapshotTTL,
		StaleWindow: cfg.SnapshotTTL,
	}, cache.Hooks{})
	c.recon = NewReconnector(ReconnectorConfig{
		Open:             c.api.OpenStream,
		BackoffFloor:     cfg.StreamBackoffFloor,
		BackoffCeiling:   cfg.StreamBackoffCeiling,
		FailureThreshold: cfg.StreamFailureThreshold,
		Tracker:          c.tracker,
		Logger:           opts.Logger,
		OnSnapshot:       c.applyStreamSnapshot,
		OnFallback:       c.enterFallback,
	})
	c.dispatch = NewDispatcher(DispatcherConfig{
		API:            c.api,
		Tracker:        c.tracker,
		Logger:         opts.Logger,
		Timeout:        cfg.CommandTimeout,
		RequestRefresh: c.asyncRefresh,
	})
	return c
}

// Start activates the client: an initial refresh, the push stream, and the
// background poll timer. The context governs everything the client does;
// canceling it (or calling Close) tears all of it down.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	if c.started {
		c.mu.Unlock()
		return errors.New("telemetry client already started")
	}
	c.started = true
	c.loading = true
	c.runCtx, c.cancel = context.WithCancel(ctx)
	runCtx := c.runCtx
	c.mu.Unlock()

	c.tracker.SetStatus(models.ConnInitializing)
	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"version": version.Version,
			"commit":  version.GetShortCommit(),
		}).Info("Telemetry client starting")
	}

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		_ = c.refresh(runCtx, false)
	}()
	go c.pollLoop(runCtx)

	c.recon.Open(runCtx)
	return nil
}

// Close tears the client down: the poll timer stops, the stream and any
// pending reconnect are canceled, and no callback mutates state afterwards.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.recon.Close()
	c.wg.Wait()
	c.tracker.SetStatus(models.ConnOffline)
	return nil
}

// SetVisible tells the client whether the host view is on screen. While
// hidden, scheduled polls are skipped entirely rather than queued, so
// regaining visibility does not trigger a burst of catch-up requests.
func (c *Client) SetVisible(visible bool) {
	c.mu.Lock()
	c.visible = visible
	c.mu.Unlock()
}

// RefreshHealth forces a foreground snapshot refresh.
func (c *Client) RefreshHealth(ctx context.Context) error {
	return c.refresh(ctx, false)
}

// RefreshSource revalidates the id and refreshes the fleet snapshot. The
// backend only exposes fleet-wide snapshots, so a per-source refresh is a
// gated full refresh.
func (c *Client) RefreshSource(ctx context.Context, sourceID string) error {
	if err := c.validator.ValidateSourceID(sourceID); err != nil {
		reqErr := clients.NewValidationError("refresh source", err)
		c.setError(reqErr.Error())
		return reqErr
	}
	return c.refresh(ctx, true)
}

// TriggerSourceTest asks the backend to run a connectivity test for a source.
func (c *Client) TriggerSourceTest(ctx context.Context, sourceID string) error {
	return c.runCommand(ctx, sourceID, health.ActionTest)
}

// RunDiagnostics asks the backend for a full diagnostic pass on a source.
func (c *Client) RunDiagnostics(ctx context.Context, sourceID string) error {
	return c.runCommand(ctx, sourceID, health.ActionDiagnostics)
}

// PauseMonitoring suspends backend monitoring of a source.
func (c *Client) PauseMonitoring(ctx context.Context, sourceID string) error {
	return c.runCommand(ctx, sourceID, health.ActionPause)
}

// ResumeMonitoring resumes backend monitoring of a source.
func (c *Client) ResumeMonitoring(ctx context.Context, sourceID string) error {
	return c.runCommand(ctx, sourceID, health.ActionResume)
}

func (c *Client) runCommand(ctx context.Context, sourceID string, action health.CommandAction) error {
	err := c.dispatch.Dispatch(ctx, sourceID, action)
	if err != nil {
		c.setError(err.Error())
	}
	return err
}

// State returns the complete public state as value copies.
func (c *Client) State() State {
	mon := c.tracker.Snapshot()

	c.mu.RLock()
	defer c.mu.RUnlock()

	sources := make([]models.SourceHealthRecord, len(c.sources))
	for i, rec := range c.sources {
		sources[i] = rec.Clone()
	}
	return State{
		SourceHealth:  sources,
		Metrics:       c.fleet,
		Connection:    mon.Connection,
		Monitoring:    mon,
		UsingMockData: c.usingMock,
		LastUpdated:   c.lastUpdated,
		Loading:       c.loading,
		IsRefreshing:  c.refreshing,
		Error:         c.lastErr,
	}
}

// Monitoring returns just the monitoring aggregate.
func (c *Client) Monitoring() models.MonitoringSnapshot {
	return c.tracker.Snapshot()
}

// MetricsHandler returns the Prometheus scrape handler when metrics are
// configured, else nil.
func (c *Client) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// refresh performs one logical refresh, deduplicating concurrent callers:
// a poll tick landing during a user-triggered refresh joins it instead of
// doubling the request load.
func (c *Client) refresh(ctx context.Context, background bool) error {
	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		if err := c.doRefresh(ctx, background); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// doRefresh is the fetch-retry executor: a bounded sequence of timed attempts
// with exponential backoff and jitter. Exhausting every attempt never leaves
// the UI blank; it switches to fallback data instead.
func (c *Client) doRefresh(ctx context.Context, background bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.refreshSeq++
	seq := c.refreshSeq
	c.refreshing = true
	c.mu.Unlock()

	if background {
		c.tracker.SetStatus(models.ConnReconnecting)
	} else {
		c.tracker.SetStatus(models.ConnConnecting)
	}

	refreshID := uuid.NewString()[:8]
	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"refresh_id": refreshID,
			"background": background,
		}).Debug("Refreshing health snapshot")
	}

	retryCfg := clients.RetryConfig{
		MaxRetries:     c.cfg.MaxRetries,
		BaseDelay:      c.cfg.RetryBaseDelay,
		MaxDelay:       c.cfg.RetryMaxDelay,
		JitterFraction: 0.3,
		AttemptTimeout: c.cfg.RequestTimeout,
		OnAttempt: func(attempt int, duration time.Duration, reqErr *clients.RequestError) {
			if attempt > 0 {
				c.tracker.IncrementRetries()
			}
			switch {
			case reqErr == nil:
				c.tracker.RecordSuccess(duration, "snapshot")
			case reqErr.Kind == clients.ErrAbort:
				// Client-initiated cancellation is not a backend failure.
			default:
				c.tracker.RecordFailure(duration, "snapshot", reqErr.Error(), reqErr.StatusCode, reqErr.Timeout())
			}
		},
	}

	var snapshot *models.HealthSnapshot
	reqErr := clients.Do(ctx, retryCfg, func(attemptCtx context.Context) *clients.RequestError {
		snap, err := c.api.FetchSnapshot(attemptCtx)
		if err != nil {
			return clients.Classify("fetch snapshot", err)
		}
		if err := validation.ValidateSnapshot(snap); err != nil {
			return clients.NewParseError("fetch snapshot", err)
		}
		snapshot = snap
		return nil
	})

	c.mu.Lock()
	c.refreshing = false
	c.mu.Unlock()

	if reqErr == nil {
		c.applySnapshot(snapshot, "fetch", seq)
		return nil
	}
	if reqErr.Kind == clients.ErrAbort {
		return reqErr
	}

	if c.logger != nil {
		c.logger.WithFields(logging.Fields{
			"refresh_id": refreshID,
			"kind":       string(reqErr.Kind),
		}).WithError(reqErr).Warn("Refresh exhausted retries; switching to fallback data")
	}
	c.enterFallback(reqErr.Error())
	return reqErr
}

// applyStreamSnapshot is the stream side of the shared apply path. A payload
// failing sanity checks counts as a parse error and the frame is ignored.
func (c *Client) applyStreamSnapshot(snapshot *models.HealthSnapshot) {
	if err := validation.ValidateSnapshot(snapshot); err != nil {
		c.tracker.RecordStreamEvent(StreamEventParseError)
		if c.logger != nil {
			c.logger.WithError(err).Warn("Dropping invalid stream payload")
		}
		return
	}
	c.tracker.RecordStreamEvent(StreamEventMessage)
	c.applySnapshot(snapshot, "stream", 0)
}

// applySnapshot is the single serialization point for state mutation: records
// are replaced wholesale, last write wins, and the same payload applied twice
// yields the same observable state. seq guards fetch results: a refresh
// superseded by a newer one discards its payload instead of clobbering
// fresher state. Stream payloads pass seq 0 and always apply.
func (c *Client) applySnapshot(snapshot *models.HealthSnapshot, origin string, seq int64) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if seq != 0 && seq != c.refreshSeq {
		c.mu.Unlock()
		return
	}

	c.sources = snapshot.SortedRecords()
	c.fleet = monitoring.ComputeFleetMetrics(snapshot.Metrics, snapshot.Sources)
	c.usingMock = false
	c.fallbackActive = false
	c.loading = false
	c.lastErr = ""
	c.lastUpdated = snapshot.LastUpdated
	if c.lastUpdated.IsZero() {
		c.lastUpdated = time.Now()
	}
	if c.fleet.RefreshIntervalSeconds > 0 {
		interval := time.Duration(c.fleet.RefreshIntervalSeconds) * time.Second
		if interval != c.pollInterval {
			c.pollInterval = interval
			select {
			case c.pollReset <- interval:
			default:
			}
		}
	}
	c.mu.Unlock()

	c.store.Store(*snapshot, origin)
	c.tracker.SetUsingMockData(false)
	c.tracker.RecordRecovery(origin)
	c.tracker.SetStatus(models.ConnConnected)
}

// enterFallback switches consumers to the best available non-live data: the
// cached last-known-good snapshot when one is servable, else the synthetic
// fleet, tagged as mock. Once fallback is active, further triggers from
// either channel update the error message without re-switching the data,
// so one outage produces one switch.
func (c *Client) enterFallback(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	first := !c.fallbackActive
	c.fallbackActive = true
	c.lastErr = reason
	c.loading = false

	syntheticUsed := false
	if first {
		if cached, _, _, ok := c.store.Peek(); ok {
			c.sources = cached.SortedRecords()
			c.fleet = monitoring.ComputeFleetMetrics(cached.Metrics, cached.Sources)
			c.usingMock = false
		} else {
			mock := c.fallback.Supply()
			c.sources = mock.SortedRecords()
			c.fleet = mock.Metrics
			c.usingMock = true
			syntheticUsed = true
		}
	}
	c.mu.Unlock()

	if first {
		c.tracker.SetUsingMockData(syntheticUsed)
		c.tracker.RecordFallback(reason)
	}
	c.tracker.SetStatus(models.ConnDegraded)
}

// asyncRefresh requests a background refresh without blocking the caller,
// used by the dispatcher to reconcile state after commands.
func (c *Client) asyncRefresh() {
	c.mu.Lock()
	if c.closed || !c.started {
		c.mu.Unlock()
		return
	}
	ctx := c.runCtx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		_ = c.refresh(ctx, true)
	}()
}

// pollLoop arms the background poll timer. The period follows the
// server-advertised refresh interval as snapshots are accepted.
func (c *Client) pollLoop(ctx context.Context) {
	defer c.wg.Done()

	c.mu.RLock()
	interval := c.pollInterval
	c.mu.RUnlock()

	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-c.pollReset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(next)
		case <-timer.C:
			if c.isVisible() {
				_ = c.refresh(ctx, true)
			} else if c.logger != nil {
				c.logger.Debug("View hidden; skipping scheduled poll")
			}
			c.mu.RLock()
			interval = c.pollInterval
			c.mu.RUnlock()
			timer.Reset(interval)
		}
	}
}

func (c *Client) isVisible() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.visible
}

func (c *Client) setError(message string) {
	c.mu.Lock()
	if !c.closed {
		c.lastErr = message
	}
	c.mu.Unlock()
}
