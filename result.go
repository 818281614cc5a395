package toolwire

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ExecutionResult is the final, immutable record of a call. It is the only thing the emitter
// publishes for a final state.
type ExecutionResult struct {
	CallID   string         `json:"call_id"`
	ToolName string         `json:"tool_name"`
	State    CallState      `json:"state"`
	Payload  any            `json:"payload,omitempty"`
	Error    *ErrorDetail   `json:"error,omitempty"`
	Partial  *PartialDetail `json:"partial,omitempty"`
	// Feedback is the approver's note on a rejection.
	Feedback string        `json:"feedback,omitempty"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`
}

var errInconsistent = errors.New("inconsistent execution result")

// Check verifies that the result's fields are fully defined for its state.
func (r ExecutionResult) Check() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", errInconsistent, r.State, fmt.Sprintf(format, args...))
	}
	if r.CallID == "" || r.ToolName == "" {
		return fail("missing call id or tool name")
	}
	switch r.State {
	case StateSucceeded:
		if r.Error != nil || r.Partial != nil {
			return fail("success carries error detail")
		}
	case StatePartiallySucceeded:
		p := r.Partial
		switch {
		case p == nil:
			return fail("missing partial detail")
		case r.Error != nil:
			return fail("partial result carries an error")
		case p.SuccessCount <= 0 || p.FailureCount <= 0:
			return fail("counts %d/%d are not a partial outcome", p.SuccessCount, p.FailureCount)
		case len(p.PerItemErrors) != p.FailureCount:
			return fail("%d item errors for %d failures", len(p.PerItemErrors), p.FailureCount)
		}
	case StateFailed:
		if r.Error == nil || r.Error.Kind == "" || r.Error.Message == "" {
			return fail("missing error kind or message")
		}
		if r.Payload != nil {
			return fail("failure carries a payload")
		}
		if r.Partial != nil && r.Partial.SuccessCount != 0 {
			return fail("failure reports committed items")
		}
	case StateRejected, StateCancelled:
		if r.Payload != nil || r.Error != nil || r.Partial != nil {
			return fail("carries execution output")
		}
	default:
		return fail("not a final state")
	}
	return nil
}

// Err returns the result as an error: nil for success and rejection, a *PartialError,
// *ValidationError or *ExecutionError for the failure states, and context.Canceled for a
// cancelled call.
func (r ExecutionResult) Err() error {
	switch r.State {
	case StatePartiallySucceeded:
		return &PartialError{
			SuccessCount: r.Partial.SuccessCount,
			FailureCount: r.Partial.FailureCount,
			Items:        r.Partial.PerItemErrors,
		}
	case StateFailed:
		if r.Error == nil {
			return &ExecutionError{Kind: KindUnknown}
		}
		if r.Error.Kind == KindValidation {
			return &ValidationError{
				Tool:      r.ToolName,
				FieldPath: r.Error.FieldPath,
				Message:   r.Error.Message,
				Hint:      r.Error.Hint,
			}
		}
		return &ExecutionError{Kind: r.Error.Kind, Message: r.Error.Message, Hint: r.Error.Hint}
	case StateCancelled:
		return context.Canceled
	default:
		return nil
	}
}

// Snapshot is the complete state of one call at one transition.
type Snapshot struct {
	Call  ValidatedCall `json:"call"`
	State CallState     `json:"state"`
	// Seq numbers the transitions of one call from 1.
	Seq    uint64           `json:"seq"`
	At     time.Time        `json:"at"`
	Result *ExecutionResult `json:"result,omitempty"`
}

// Event is what subscribers receive.
type Event struct {
	CallID   string    `json:"call_id"`
	ToolName string    `json:"tool_name"`
	State    CallState `json:"state"`
	Snapshot Snapshot  `json:"snapshot"`
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s #%d %s", e.ToolName, e.CallID, e.Snapshot.Seq, e.State)
}
