package core

import "time"

// Event is one append-only record in a run's audit log. Ordering is
// append order; the same records feed the live event stream.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Stage     string    `json:"stage"`
	Component string    `json:"component"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
	LatencyMS int64     `json:"latency_ms"`
	Error     string    `json:"error,omitempty"`
}

// Well-known event actions.
const (
	ActionStageStart        = "stage_start"
	ActionStageEnd          = "stage_end"
	ActionVerification      = "verification"
	ActionSelectionRequired = "feature_selection_required"
	ActionFeatureSelected   = "feature_selected"
	ActionApprovalRequired  = "approval_required"
	ActionApprovalRecorded  = "approval_recorded"
	ActionRunCompleted      = "run_completed"
	ActionRunFailed         = "run_failed"
	ActionCancel            = "cancel"
)

// NewEvent creates an event stamped with the current time.
func NewEvent(stage Stage, component, action, outcome string) Event {
	return Event{
		Timestamp: time.Now().UTC(),
		Stage:     string(stage),
		Component: component,
		Action:    action,
		Outcome:   outcome,
	}
}

// WithLatency records the operation latency.
func (e Event) WithLatency(d time.Duration) Event {
	e.LatencyMS = d.Milliseconds()
	return e
}

// WithError records an error message.
func (e Event) WithError(err error) Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}
