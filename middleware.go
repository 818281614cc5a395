package toolwire

import (
	"context"
	"log/slog"
	"time"
)

// Middleware wraps a Handler with cross-cutting behavior (logging, recovery, timeout).
type Middleware func(Handler) Handler

// WithLogging returns a middleware that logs start, end, duration, and errors.
func WithLogging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call ValidatedCall) (Outcome, error) {
			logger.Info("tool start", "tool", call.ToolName, "call_id", call.ID)
			start := time.Now()
			out, err := next.Execute(ctx, call)
			dur := time.Since(start)
			switch {
			case err != nil:
				logger.Error("tool error", "tool", call.ToolName, "call_id", call.ID, "duration", dur, "error", err)
			case out.Failure != nil:
				logger.Warn("tool failure", "tool", call.ToolName, "call_id", call.ID, "duration", dur,
					"kind", string(out.Failure.Kind), "message", out.Failure.Message)
			case out.Partial != nil:
				logger.Warn("tool partial", "tool", call.ToolName, "call_id", call.ID, "duration", dur,
					"succeeded", out.Partial.SuccessCount, "failed", len(out.Partial.PerItemErrors))
			default:
				logger.Info("tool end", "tool", call.ToolName, "call_id", call.ID, "duration", dur)
			}
			return out, err
		})
	}
}

// WithRecovery returns a middleware that turns a handler panic into an error. The dispatcher
// recovers panics too; this keeps the recovery inside outer middlewares such as logging.
func WithRecovery() Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call ValidatedCall) (out Outcome, err error) {
			defer func() {
				if p := recover(); p != nil {
					out, err = Outcome{}, &panicError{p: p}
				}
			}()
			return next.Execute(ctx, call)
		})
	}
}

// WithTimeoutMiddleware returns a middleware that bounds each attempt by d. Named with the
// "Middleware" suffix to avoid collision with the ToolOption WithTimeout; when both apply,
// the shorter one wins.
func WithTimeoutMiddleware(d time.Duration) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, call ValidatedCall) (Outcome, error) {
			if d <= 0 {
				return next.Execute(ctx, call)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next.Execute(ctx, call)
		})
	}
}
