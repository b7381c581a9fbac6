// Package validation gates local input and inbound payloads before they reach
// the network or the client's state.
package validation

import (
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"

	"sourcewatch/api/health"
	"sourcewatch/models"
)

// sourceIDPattern is the allow-list for source identifiers used as URL path
// segments. Anything outside it is rejected before a request is built, so a
// malformed id can never reach the backend as a path.
var sourceIDPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// commandRequest is the validated shape of one operator command.
type commandRequest struct {
	SourceID string `validate:"required,max=128,source_id"`
	Action   string `validate:"required"`
}

// CommandValidator checks operator commands before dispatch.
type CommandValidator struct {
	validator *validator.Validate
}

// NewCommandValidator constructs a CommandValidator with the source_id rule
// registered.
func NewCommandValidator() *CommandValidator {
	v := validator.New()
	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("source_id", func(fl validator.FieldLevel) bool {
		return sourceIDPattern.MatchString(fl.Field().String())
	})
	return &CommandValidator{validator: v}
}

// ValidateCommand rejects empty or unsafe source ids and unknown actions.
func (v *CommandValidator) ValidateCommand(sourceID string, action health.CommandAction) error {
	if !action.Valid() {
		return fmt.Errorf("unknown action %q", action)
	}
	req := commandRequest{SourceID: sourceID, Action: string(action)}
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("invalid source id %q: %w", sourceID, err)
	}
	return nil
}

// ValidateSourceID rejects empty or unsafe source ids on their own, for
// operations that take an id but carry no action.
func (v *CommandValidator) ValidateSourceID(sourceID string) error {
	req := commandRequest{SourceID: sourceID, Action: "refresh"}
	if err := v.validator.Struct(req); err != nil {
		return fmt.Errorf("invalid source id %q: %w", sourceID, err)
	}
	return nil
}

// ValidateSnapshot applies sanity checks to an accepted payload: records must
// carry a safe id matching their map key, and percentage fields must be in
// range. One bad record rejects the snapshot wholesale; payloads are replaced
// atomically or not at all.
func ValidateSnapshot(snapshot *models.HealthSnapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot is nil")
	}
	if len(snapshot.Sources) == 0 {
		return fmt.Errorf("snapshot contains no sources")
	}
	for key, rec := range snapshot.Sources {
		id := rec.SourceID
		if id == "" {
			id = key
		}
		if !sourceIDPattern.MatchString(id) {
			return fmt.Errorf("source %q: unsafe identifier", key)
		}
		if rec.SourceID != "" && rec.SourceID != key {
			return fmt.Errorf("source %q: id field %q does not match key", key, rec.SourceID)
		}
		if rec.Uptime < 0 || rec.Uptime > 100 {
			return fmt.Errorf("source %q: uptime %v out of range", key, rec.Uptime)
		}
		if rec.ErrorRate < 0 || rec.ErrorRate > 100 {
			return fmt.Errorf("source %q: error rate %v out of range", key, rec.ErrorRate)
		}
		if rec.Credibility < 0 || rec.Credibility > 100 {
			return fmt.Errorf("source %q: credibility %v out of range", key, rec.Credibility)
		}
	}
	return nil
}
