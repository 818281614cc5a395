package toolwire

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for toolwire. Use errors.Is to check.
var (
	ErrToolNotFound   = errors.New("tool not found")
	ErrValidation     = errors.New("validation failed")
	ErrTimeout        = errors.New("tool execution timeout")
	ErrBusy           = errors.New("call is already running")
	ErrShutdown       = errors.New("engine is shutting down")
	ErrFinalState     = errors.New("call already reached a final state")
	ErrNotExecuting   = errors.New("call is not executing")
	ErrUnknownCall    = errors.New("unknown call id")
	ErrDuplicateCall  = errors.New("duplicate call id")
	ErrRegistrySealed = errors.New("registry is sealed")
)

// ErrorKind classifies execution failures so subscribers can react without parsing messages.
type ErrorKind string

const (
	KindTimeout           ErrorKind = "Timeout"
	KindConnectionRefused ErrorKind = "ConnectionRefused"
	KindDNSFailure        ErrorKind = "DnsFailure"
	KindValidation        ErrorKind = "Validation"
	KindPermission        ErrorKind = "Permission"
	KindNotFound          ErrorKind = "NotFound"
	KindExecution         ErrorKind = "Execution"
	KindUnknown           ErrorKind = "Unknown"
)

// ValidationError describes a schema violation in a normalized parameter bag.
// It is what the LLM sees for self-correction, so Hint must name a concrete fix.
type ValidationError struct {
	Tool          string
	FieldPath     string
	ExpectedShape string
	ReceivedShape string
	Message       string
	Hint          string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("invalid tool input")
	if e.Tool != "" {
		b.WriteString(" for ")
		b.WriteString(e.Tool)
	}
	if e.FieldPath != "" {
		b.WriteString(" at ")
		b.WriteString(e.FieldPath)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Hint != "" {
		b.WriteString(" (")
		b.WriteString(e.Hint)
		b.WriteString(")")
	}
	return b.String()
}

// Is reports ErrValidation so callers can use errors.Is(err, ErrValidation).
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ExecutionError is the normalized form of anything a handler returned, panicked with, or
// timed out on. Transient errors are retried by the dispatcher before becoming final.
type ExecutionError struct {
	Kind      ErrorKind
	Message   string
	Hint      string
	Transient bool
	Err       error
}

func (e *ExecutionError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("tool execution failed (%s)", e.Kind)
	}
	return e.Message
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Is maps the timeout kind onto ErrTimeout.
func (e *ExecutionError) Is(target error) bool {
	return target == ErrTimeout && e.Kind == KindTimeout
}

// PartialError reports a decomposable call where only a subset of items was committed.
type PartialError struct {
	SuccessCount int
	FailureCount int
	Items        []ItemError
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d operations failed", e.FailureCount, e.SuccessCount+e.FailureCount)
}

// BusyError is returned when an execution request arrives for a call that is already
// awaiting approval or executing on behalf of an earlier request.
type BusyError struct {
	CallID string
	State  CallState
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("call %s is busy (%s)", e.CallID, e.State)
}

func (e *BusyError) Is(target error) bool { return target == ErrBusy }

// IsValidationError returns true if err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsExecutionError returns true if err is or wraps an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// Transient marks err as retryable by the dispatcher. Handlers use it for failures they know
// are worth another attempt (rate limits, flaky upstreams).
func Transient(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &ExecutionError{Kind: kind, Message: err.Error(), Transient: true, Err: err}
}

// panicError wraps a recovered panic value; used by the dispatcher and WithRecovery middleware.
type panicError struct{ p any }

func (e *panicError) Error() string {
	return "panic: " + fmt.Sprint(e.p)
}
