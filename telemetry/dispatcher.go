package telemetry

import (
	"context"
	"time"

	"sourcewatch/api/health"
	"sourcewatch/clients"
	"sourcewatch/clients/healthapi"
	"sourcewatch/logging"
	"sourcewatch/validation"
)

// commandEndpoint labels command attempts in the tracker and metrics.
func commandEndpoint(action health.CommandAction) string {
	return "command:" + string(action)
}

// Dispatcher validates and sends per-source operator actions. Malformed
// source ids are rejected before any request is built; accepted commands go
// through a circuit breaker so a broken command endpoint fails fast. Every
// dispatched command concludes by requesting a fresh snapshot, so displayed
// state reflects whatever the command changed server-side.
type Dispatcher struct {
	api       *healthapi.Client
	validator *validation.CommandValidator
	breaker   *clients.CircuitBreaker
	tracker   *Tracker
	logger    logging.Logger
	timeout   time.Duration

	// requestRefresh is invoked after every network attempt, success or not.
	requestRefresh func()
}

// DispatcherConfig wires a Dispatcher.
type DispatcherConfig struct {
	API            *healthapi.Client
	Tracker        *Tracker
	Logger         logging.Logger
	Timeout        time.Duration
	RequestRefresh func()
}

// NewDispatcher creates a command dispatcher with its own validator and
// circuit breaker.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Dispatcher{
		api:       cfg.API,
		validator: validation.NewCommandValidator(),
		breaker: clients.NewCircuitBreaker(clients.CircuitBreakerConfig{
			Name:   "source-commands",
			Logger: cfg.Logger,
		}),
		tracker:        cfg.Tracker,
		logger:         cfg.Logger,
		timeout:        cfg.Timeout,
		requestRefresh: cfg.RequestRefresh,
	}
}

// Dispatch sends one operator action for one source. Validation failures
// return immediately with no network call. Accepted commands always conclude
// with a refresh request, regardless of outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, sourceID string, action health.CommandAction) error {
	if err := d.validator.ValidateCommand(sourceID, action); err != nil {
		if d.logger != nil {
			d.logger.WithFields(logging.Fields{
				"source_id": sourceID,
				"action":    string(action),
			}).WithError(err).Warn("Command rejected by validation")
		}
		return clients.NewValidationError("dispatch "+string(action), err)
	}

	defer func() {
		if d.requestRefresh != nil {
			d.requestRefresh()
		}
	}()

	cmdCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err := d.breaker.Call(func() error {
		return d.api.SendCommand(cmdCtx, sourceID, action)
	})
	duration := time.Since(start)

	endpoint := commandEndpoint(action)
	if err != nil {
		reqErr := clients.Classify(endpoint, err)
		d.tracker.RecordFailure(duration, endpoint, reqErr.Error(), reqErr.StatusCode, reqErr.Timeout())
		return reqErr
	}
	d.tracker.RecordSuccess(duration, endpoint)
	return nil
}

// BreakerState exposes the command circuit breaker state for observability.
func (d *Dispatcher) BreakerState() string {
	return d.breaker.State().String()
}
