// Package health defines the wire contract of the source-health backend:
// GET /sources/health, GET /sources/status/stream (SSE, same document shape),
// and POST /sources/{id}/{action}.
package health

import "sourcewatch/models"

// SnapshotResponse is the poll endpoint body and the data field of each
// stream event.
type SnapshotResponse = models.HealthSnapshot

// CommandAction is an out-of-band per-source operator action.
type CommandAction string

const (
	ActionTest        CommandAction = "test"
	ActionDiagnostics CommandAction = "diagnostics"
	ActionPause       CommandAction = "pause"
	ActionResume      CommandAction = "resume"
)

// Valid reports whether the action is one the backend accepts.
func (a CommandAction) Valid() bool {
	switch a {
	case ActionTest, ActionDiagnostics, ActionPause, ActionResume:
		return true
	}
	return false
}

// CommandResponse is the (possibly empty) body of a command POST. Success is
// indicated by HTTP status; Error carries a backend-provided detail if any.
type CommandResponse struct {
	Status string `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}
