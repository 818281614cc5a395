package toolwire

import (
	"context"
	"time"
)

// ValidatedCall is a fully parsed, schema-validated tool invocation ready for execution.
// It is immutable once created: every handler attempt, approver and snapshot receives its
// own deep copy of Params, so writes through one copy are never seen by another.
type ValidatedCall struct {
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Params    Params    `json:"params"`
	CreatedAt time.Time `json:"created_at"`
}

func (c ValidatedCall) copy() ValidatedCall {
	c.Params = c.Params.clone()
	return c
}

// Handler performs the side-effecting work of one tool. Expected failure modes are reported
// through Outcome; a returned error or a panic is wrapped by the dispatcher.
type Handler interface {
	Execute(ctx context.Context, call ValidatedCall) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call ValidatedCall) (Outcome, error)

func (f HandlerFunc) Execute(ctx context.Context, call ValidatedCall) (Outcome, error) {
	return f(ctx, call)
}

// TimeoutHandler is implemented by handlers that declare their own execution timeout.
type TimeoutHandler interface {
	Timeout() time.Duration
}

// ErrorDetail is the final error carried by a failed result.
type ErrorDetail struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Hint      string    `json:"hint,omitempty"`
	FieldPath string    `json:"field_path,omitempty"`
}

// ItemError locates one failed sub-operation of a decomposable call.
type ItemError struct {
	Index    int    `json:"index"`
	Location string `json:"location,omitempty"`
	Message  string `json:"message"`
}

// PartialDetail reports the per-item outcome of a decomposable call.
type PartialDetail struct {
	SuccessCount     int         `json:"success_count"`
	FailureCount     int         `json:"failure_count"`
	PerItemErrors    []ItemError `json:"per_item_errors"`
	CommittedPayload any         `json:"committed_payload,omitempty"`
}

// Outcome is what a handler reports: exactly one of a payload, a failure or a partial result.
type Outcome struct {
	Payload any
	Failure *ErrorDetail
	Partial *PartialDetail
}

// Success reports a completed call.
func Success(payload any) Outcome {
	return Outcome{Payload: payload}
}

// Failure reports an expected failure; nothing was committed.
func Failure(kind ErrorKind, message, hint string) Outcome {
	if kind == "" {
		kind = KindExecution
	}
	return Outcome{Failure: &ErrorDetail{Kind: kind, Message: message, Hint: hint}}
}

// Partial reports a decomposable call in which successCount sub-operations were committed
// and the listed items failed. committed describes what was applied.
func Partial(committed any, successCount int, failures []ItemError) Outcome {
	return Outcome{Partial: &PartialDetail{
		SuccessCount:     successCount,
		FailureCount:     len(failures),
		PerItemErrors:    failures,
		CommittedPayload: committed,
	}}
}
