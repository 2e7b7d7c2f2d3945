// Package signal defines the envelope format for all messages entering
// and leaving an agent runtime, and the router that maps signal types to
// action targets. Type strings form a dotted hierarchical namespace
// ("sigil.agent.event.<category>.<name>") so that both routing and
// external observers can filter by prefix or wildcard.
package signal

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wilhg/sigil/pkg/errmodel"
)

// Event types published by the runtime to the per-agent topic.
const (
	eventPrefix = "sigil.agent.event."

	TypeStarted           = eventPrefix + "lifecycle.started"
	TypeStopped           = eventPrefix + "lifecycle.stopped"
	TypeStateChanged      = eventPrefix + "lifecycle.state_changed"
	TypeTransitionOK      = eventPrefix + "lifecycle.transition_succeeded"
	TypeTransitionFailed  = eventPrefix + "lifecycle.transition_failed"
	TypeQueueOverflow     = eventPrefix + "queue.overflow"
	TypeQueueCleared      = eventPrefix + "queue.cleared"
	TypeProcessStarted    = eventPrefix + "process.started"
	TypeProcessTerminated = eventPrefix + "process.terminated"
	TypeProcessFailed     = eventPrefix + "process.failed"
	TypeActCompleted      = eventPrefix + "act.completed"
	TypeActFailed         = eventPrefix + "act.failed"
)

// AgentTopic returns the pub/sub topic for a given agent id. The
// derivation is deterministic so observers can subscribe knowing only
// the id.
func AgentTopic(agentID string) string {
	return "sigil.agent." + agentID
}

// Signal is the envelope for all inbound and outbound messages.
type Signal struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	Source        string         `json:"source,omitempty"`
	Subject       string         `json:"subject,omitempty"`
	Time          time.Time      `json:"time"`
	Data          map[string]any `json:"data,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CausationID   string         `json:"causation_id,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// Option configures optional Signal fields at construction.
type Option func(*Signal)

func WithSource(source string) Option { return func(s *Signal) { s.Source = source } }

func WithSubject(subject string) Option { return func(s *Signal) { s.Subject = subject } }

func WithCorrelationID(id string) Option { return func(s *Signal) { s.CorrelationID = id } }

func WithCausationID(id string) Option { return func(s *Signal) { s.CausationID = id } }

func WithExtensions(ext map[string]any) Option { return func(s *Signal) { s.Extensions = ext } }

// New constructs a Signal with a time-ordered unique id. The type must
// be a non-empty dotted identifier with no empty segments.
func New(typ string, data map[string]any, opts ...Option) (*Signal, error) {
	if err := validateType(typ); err != nil {
		return nil, err
	}
	s := &Signal{
		ID:   NewID(),
		Type: typ,
		Time: time.Now().UTC(),
		Data: data,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewID returns a time-ordered unique identifier. UUIDv7 ids are
// lexicographically sortable by creation order; if v7 generation fails
// the random v4 fallback still guarantees uniqueness.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

func validateType(typ string) error {
	if typ == "" {
		return errmodel.Validation("invalid_signal_type", "signal type is empty", nil)
	}
	for _, seg := range strings.Split(typ, ".") {
		if seg == "" {
			return errmodel.Validation("invalid_signal_type", "signal type has empty segment", map[string]any{"type": typ})
		}
	}
	return nil
}
