package toolwire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryLimit caps RetryPolicy.MaxRetries.
const RetryLimit = 2

// RetryPolicy bounds how transient failures are retried.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first; 0 disables retries. Values above
	// RetryLimit are capped.
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryPolicy retries twice with exponential backoff starting at 200ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      RetryLimit,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
		Multiplier:      2,
	}
}

func (p RetryPolicy) retries() int {
	return min(max(p.MaxRetries, 0), RetryLimit)
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	return b
}

// Dispatcher resolves a call's handler and invokes it with timeout, semaphore, panic recovery
// and retries. Every failure it returns is an *ExecutionError.
type Dispatcher struct {
	reg     *Registry
	retry   RetryPolicy
	logger  *slog.Logger
	sem     chan struct{}
	done    chan struct{}
	running sync.WaitGroup
	mu      sync.Mutex
}

// NewDispatcher returns a dispatcher for the tools in reg.
func NewDispatcher(reg *Registry, retry RetryPolicy, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	var sem chan struct{}
	if reg.opts.maxConcurrency > 0 {
		sem = make(chan struct{}, reg.opts.maxConcurrency)
	}
	return &Dispatcher{reg: reg, retry: retry, logger: logger, sem: sem, done: make(chan struct{})}
}

// Dispatch runs call and reports the handler's outcome and the number of attempts made.
func (d *Dispatcher) Dispatch(ctx context.Context, call ValidatedCall) (Outcome, int, error) {
	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return Outcome{}, 0, &ExecutionError{Kind: KindUnknown, Message: ErrShutdown.Error(), Err: ErrShutdown}
	default:
	}
	t, ok := d.reg.lookup(call.ToolName)
	if !ok {
		d.mu.Unlock()
		return Outcome{}, 0, &ExecutionError{
			Kind:    KindNotFound,
			Message: "tool " + call.ToolName + " not found",
			Err:     ErrToolNotFound,
		}
	}
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()

	if err := d.acquireSemaphore(ctx); err != nil {
		return Outcome{}, 0, Classify(err)
	}
	defer d.releaseSemaphore()

	if d.reg.opts.onBefore != nil {
		d.reg.opts.onBefore(ctx, call)
	}

	timeout := d.reg.timeoutFor(t)
	attempts := 0
	op := func() (Outcome, error) {
		attempts++
		out, err := d.invoke(ctx, t.handler, timeout, call)
		if err == nil {
			return out, nil
		}
		ee := Classify(err)
		if ctx.Err() == nil && d.retryable(t, ee) {
			return Outcome{}, ee
		}
		return Outcome{}, backoff.Permanent(ee)
	}
	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(d.retry.backOff()),
		backoff.WithMaxTries(uint(d.retry.retries()+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			d.logger.Warn("retrying tool", "tool", call.ToolName, "call_id", call.ID,
				"attempt", attempts, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		var ee *ExecutionError
		if errors.As(err, &ee) {
			return Outcome{}, attempts, ee
		}
		return Outcome{}, attempts, Classify(err)
	}
	return out, attempts, nil
}

// invoke runs one attempt. A handler that returns after its deadline has passed is reported
// as timed out even if it ignored the context.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, timeout time.Duration, call ValidatedCall) (out Outcome, err error) {
	parent := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if d.reg.opts.recoverPanics {
		defer func() {
			if p := recover(); p != nil {
				d.logger.Error("tool panicked", "tool", call.ToolName, "call_id", call.ID, "panic", p)
				out, err = Outcome{}, &panicError{p: p}
			}
		}()
	}
	out, err = h.Execute(ctx, call.copy())
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return Outcome{}, context.DeadlineExceeded
	}
	return out, err
}

func (d *Dispatcher) retryable(t *registeredTool, ee *ExecutionError) bool {
	switch {
	case ee.Kind == KindValidation:
		return false
	case ee.Transient, ee.Kind == KindConnectionRefused:
		return true
	case ee.Kind == KindTimeout:
		return t.opts.retryable
	default:
		return false
	}
}

func (d *Dispatcher) acquireSemaphore(ctx context.Context) error {
	if d.sem == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case d.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) releaseSemaphore() {
	if d.sem != nil {
		<-d.sem
	}
}

// Shutdown closes the dispatcher for new calls and waits for in-flight executions or ctx to
// cancel.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	select {
	case <-d.done:
		d.mu.Unlock()
		return nil
	default:
		close(d.done)
	}
	d.mu.Unlock()
	done := make(chan struct{})
	go func() {
		d.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
