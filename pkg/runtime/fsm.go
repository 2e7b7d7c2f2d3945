// Package runtime hosts agents as long-lived processes: one goroutine
// per agent serializing all access, a bounded signal queue, a status
// state machine, routing of incoming signals to instructions, and
// side-effecting of the directives the runner returns.
package runtime

import (
	"github.com/wilhg/sigil/pkg/errmodel"
)

// Status is the server's lifecycle state.
type Status string

const (
	StatusInitializing Status = "initializing"
	StatusIdle         Status = "idle"
	StatusPlanning     Status = "planning"
	StatusRunning      Status = "running"
	StatusPaused       Status = "paused"
	StatusError        Status = "error"
	StatusStopping     Status = "stopping"
)

// transitions is the allowed non-self edge set. Self-transitions are
// always permitted and are silent no-ops.
var transitions = map[Status][]Status{
	StatusInitializing: {StatusIdle, StatusError, StatusStopping},
	StatusIdle:         {StatusPlanning, StatusRunning, StatusPaused, StatusError, StatusStopping},
	StatusPlanning:     {StatusRunning, StatusIdle, StatusError, StatusStopping},
	StatusRunning:      {StatusIdle, StatusPaused, StatusError, StatusStopping},
	StatusPaused:       {StatusIdle, StatusRunning, StatusError, StatusStopping},
	StatusError:        {StatusIdle, StatusStopping},
	StatusStopping:     {},
}

// CanTransition reports whether from → to is an allowed edge.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// invalidTransition builds the rejection error carrying both endpoints.
func invalidTransition(from, to Status) error {
	return errmodel.InvalidState("invalid_transition", "status transition not allowed", map[string]any{
		"from": string(from),
		"to":   string(to),
	})
}
