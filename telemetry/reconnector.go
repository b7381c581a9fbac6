package telemetry

import (
	"context"
	"sync"
	"time"

	"sourcewatch/clients"
	"sourcewatch/clients/healthapi"
	"sourcewatch/logging"
	"sourcewatch/models"
)

// streamPhase is one state of the push-connection state machine:
// idle → connecting → open → reconnecting → connecting → ... → closed.
type streamPhase int

const (
	phaseIdle streamPhase = iota
	phaseConnecting
	phaseOpen
	phaseReconnecting
	phaseClosed
)

func (p streamPhase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseConnecting:
		return "connecting"
	case phaseOpen:
		return "open"
	case phaseReconnecting:
		return "reconnecting"
	case phaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// streamJitterFraction perturbs reconnect delays by up to 25%.
const streamJitterFraction = 0.25

// ReconnectorConfig wires the stream reconnector to its collaborators.
type ReconnectorConfig struct {
	// Open dials one stream connection attempt.
	Open func(ctx context.Context) (*healthapi.Stream, error)

	// BackoffFloor/Ceiling bound the reconnect delay schedule. The backoff
	// resets to the floor on every successful open and doubles per drop.
	BackoffFloor   time.Duration
	BackoffCeiling time.Duration

	// FailureThreshold is the consecutive-drop count at which OnFallback
	// fires, independent of the pending reconnect timer. The UI must not
	// wait out the backoff ceiling while showing nothing.
	FailureThreshold int

	Tracker *Tracker
	Logger  logging.Logger

	// OnSnapshot receives every successfully parsed stream payload.
	OnSnapshot func(snapshot *models.HealthSnapshot)

	// OnFallback fires once per outage when the failure threshold is hit.
	OnFallback func(reason string)
}

// Reconnector owns the single live push-connection: it opens it, reads it,
// and on drop backs off and reopens it. At most one reconnect timer is ever
// pending. All late callbacks from superseded connection attempts are
// discarded by generation checks, so teardown is silent.
type Reconnector struct {
	cfg ReconnectorConfig

	mu            sync.Mutex
	phase         streamPhase
	backoff       time.Duration
	failures      int
	fallbackFired bool
	timer         *time.Timer
	stream        *healthapi.Stream
	gen           int
	ctx           context.Context
}

// NewReconnector creates a reconnector; call Open to start it.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	if cfg.BackoffFloor <= 0 {
		cfg.BackoffFloor = 2 * time.Second
	}
	if cfg.BackoffCeiling < cfg.BackoffFloor {
		cfg.BackoffCeiling = 60 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	return &Reconnector{
		cfg:     cfg,
		phase:   phaseIdle,
		backoff: cfg.BackoffFloor,
	}
}

// Open starts the connection loop. Calling Open on a non-idle reconnector is
// a no-op; there is only ever one live connection.
func (r *Reconnector) Open(ctx context.Context) {
	r.mu.Lock()
	if r.phase != phaseIdle {
		r.mu.Unlock()
		return
	}
	r.ctx = ctx
	r.phase = phaseConnecting
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	go r.connect(gen)
}

// Close tears the reconnector down: the pending reconnect timer (if any) is
// canceled and the live connection closed. No callback fires afterwards.
func (r *Reconnector) Close() {
	r.mu.Lock()
	r.phase = phaseClosed
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	stream := r.stream
	r.stream = nil
	r.mu.Unlock()

	if stream != nil {
		stream.Close() //nolint:errcheck
	}
}

// connect performs one dial attempt for the given generation.
func (r *Reconnector) connect(gen int) {
	stream, err := r.cfg.Open(r.ctx)

	r.mu.Lock()
	if r.phase == phaseClosed || gen != r.gen {
		r.mu.Unlock()
		if stream != nil {
			stream.Close() //nolint:errcheck
		}
		return
	}
	if err != nil {
		r.dropLocked(err)
		r.mu.Unlock()
		return
	}

	r.stream = stream
	r.phase = phaseOpen
	r.backoff = r.cfg.BackoffFloor
	r.failures = 0
	r.fallbackFired = false
	r.mu.Unlock()

	r.cfg.Tracker.RecordStreamEvent(StreamEventOpen)
	r.cfg.Tracker.SetStatus(models.ConnConnected)
	r.cfg.Tracker.ResetRetries()
	if r.cfg.Logger != nil {
		r.cfg.Logger.Info("Status stream connected")
	}

	go r.readLoop(gen, stream)
}

// readLoop delivers parsed payloads until the stream errors. One malformed
// frame is recorded and skipped; it never corrupts connection state.
func (r *Reconnector) readLoop(gen int, stream *healthapi.Stream) {
	for {
		snapshot, err := stream.Recv()
		if err != nil {
			if clients.KindOf(err) == clients.ErrParse {
				r.cfg.Tracker.RecordStreamEvent(StreamEventParseError)
				if r.cfg.Logger != nil {
					r.cfg.Logger.WithError(err).Warn("Dropping malformed stream frame")
				}
				continue
			}
			r.drop(gen, err)
			return
		}
		if !r.alive(gen) {
			return
		}
		// The consumer records the message event once the payload passes its
		// sanity checks; a rejected frame counts as a parse error, not both.
		r.cfg.OnSnapshot(snapshot)
	}
}

func (r *Reconnector) alive(gen int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase != phaseClosed && gen == r.gen
}

// drop handles a connection failure for the given generation.
func (r *Reconnector) drop(gen int, err error) {
	r.mu.Lock()
	if r.phase == phaseClosed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.dropLocked(err)
	r.mu.Unlock()
}

// dropLocked closes the connection, schedules the single reconnect, and fires
// fallback when the failure threshold is reached. Caller holds the lock.
func (r *Reconnector) dropLocked(err error) {
	if r.stream != nil {
		r.stream.Close() //nolint:errcheck
		r.stream = nil
	}

	// A dial or read killed by the governing context is teardown, not an
	// outage: stop the state machine instead of scheduling a reconnect.
	if clients.KindOf(err) == clients.ErrAbort || (r.ctx != nil && r.ctx.Err() != nil) {
		r.phase = phaseClosed
		if r.timer != nil {
			r.timer.Stop()
			r.timer = nil
		}
		if r.cfg.Logger != nil {
			r.cfg.Logger.Debug("Status stream stopped: context canceled")
		}
		return
	}

	r.failures++
	r.phase = phaseReconnecting

	delay, next := clients.NextBackoff(r.backoff, r.cfg.BackoffCeiling, streamJitterFraction)
	r.backoff = next

	// Cancel any previous pending timer: at most one reconnect is scheduled.
	if r.timer != nil {
		r.timer.Stop()
	}
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(delay, func() { r.reconnect(gen) })

	fireFallback := r.failures >= r.cfg.FailureThreshold && !r.fallbackFired
	if fireFallback {
		r.fallbackFired = true
	}
	failures := r.failures

	r.cfg.Tracker.RecordStreamEvent(StreamEventDrop)
	r.cfg.Tracker.SetStatus(models.ConnReconnecting)
	r.cfg.Tracker.RecordReconnectScheduled(time.Now().Add(delay))

	if r.cfg.Logger != nil {
		r.cfg.Logger.WithFields(logging.Fields{
			"failures": failures,
			"delay":    delay.String(),
		}).WithError(err).Warn("Status stream dropped; reconnect scheduled")
	}

	if fireFallback && r.cfg.OnFallback != nil {
		go r.cfg.OnFallback("status stream unavailable")
	}
}

// reconnect is the timer callback for the given generation.
func (r *Reconnector) reconnect(gen int) {
	r.mu.Lock()
	if r.phase == phaseClosed || gen != r.gen {
		r.mu.Unlock()
		return
	}
	r.phase = phaseConnecting
	r.timer = nil
	r.mu.Unlock()

	r.connect(gen)
}

// Phase reports the current state machine phase, for assertions.
func (r *Reconnector) Phase() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase.String()
}

// Failures reports the consecutive stream-failure count.
func (r *Reconnector) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failures
}

// PendingReconnect reports whether a reconnect timer is currently scheduled.
func (r *Reconnector) PendingReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.timer != nil
}
