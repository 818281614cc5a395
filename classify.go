package toolwire

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

// Classify normalizes any handler error into an *ExecutionError. Errors that already are
// one are returned unchanged.
func Classify(err error) *ExecutionError {
	if err == nil {
		return nil
	}
	var ee *ExecutionError
	if errors.As(err, &ee) {
		if ee.Message == "" {
			c := *ee
			c.Message = fmt.Sprintf("tool execution failed (%s)", c.Kind)
			return &c
		}
		return ee
	}
	var (
		ve     *ValidationError
		pe     *panicError
		dnsErr *net.DNSError
	)
	switch {
	case errors.As(err, &ve):
		return &ExecutionError{Kind: KindValidation, Message: ve.Error(), Hint: ve.Hint, Err: err}
	case errors.As(err, &pe):
		return &ExecutionError{
			Kind:    KindUnknown,
			Message: "tool crashed: " + pe.Error(),
			Hint:    "the tool has a bug; try a different approach",
			Err:     err,
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return &ExecutionError{
			Kind:    KindTimeout,
			Message: "tool execution timed out",
			Hint:    "narrow the request so it finishes faster",
			Err:     err,
		}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ExecutionError{
			Kind:      KindConnectionRefused,
			Message:   err.Error(),
			Hint:      "check that the service is running and the address is right",
			Transient: true,
			Err:       err,
		}
	case errors.As(err, &dnsErr):
		return &ExecutionError{
			Kind:      KindDNSFailure,
			Message:   err.Error(),
			Hint:      "check the host name",
			Transient: dnsErr.IsTemporary || dnsErr.IsTimeout,
			Err:       err,
		}
	case errors.Is(err, fs.ErrPermission):
		return &ExecutionError{
			Kind:    KindPermission,
			Message: err.Error(),
			Hint:    "use a path you are allowed to access",
			Err:     err,
		}
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, ErrToolNotFound):
		return &ExecutionError{Kind: KindNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, context.Canceled):
		return &ExecutionError{Kind: KindUnknown, Message: "tool execution was cancelled", Err: err}
	default:
		msg := err.Error()
		if msg == "" {
			msg = "tool execution failed"
		}
		return &ExecutionError{Kind: KindUnknown, Message: msg, Err: err}
	}
}
