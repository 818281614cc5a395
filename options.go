package toolwire

import (
	"context"
	"log/slog"
	"time"
)

// toolOptions hold optional per-tool settings (timeout, network class, tags, etc.).
type toolOptions struct {
	timeout   time.Duration
	network   bool
	retryable bool
	tags      []string
	version   string
	dangerous bool
}

// ToolOption configures a registered tool (e.g. WithTimeout, WithNetwork).
type ToolOption func(*toolOptions)

// WithTimeout sets a per-tool execution timeout. It takes precedence over a Timeout method
// on the handler and over the registry defaults.
func WithTimeout(d time.Duration) ToolOption {
	return func(o *toolOptions) {
		o.timeout = d
	}
}

// WithNetwork marks the tool as network-class; without an explicit timeout it gets the
// registry's network timeout instead of the general default.
func WithNetwork() ToolOption {
	return func(o *toolOptions) {
		o.network = true
	}
}

// WithRetryable allows the dispatcher to retry the tool after a timeout.
func WithRetryable() ToolOption {
	return func(o *toolOptions) {
		o.retryable = true
	}
}

// WithTags sets tool tags (metadata for discovery/orchestrator).
func WithTags(tags ...string) ToolOption {
	return func(o *toolOptions) {
		o.tags = tags
	}
}

// WithVersion sets the tool version.
func WithVersion(version string) ToolOption {
	return func(o *toolOptions) {
		o.version = version
	}
}

// WithDangerous marks the tool as dangerous. Approvers see the flag on ApprovalRequest.
func WithDangerous() ToolOption {
	return func(o *toolOptions) {
		o.dangerous = true
	}
}

// RegistryOption configures a Registry.
type RegistryOption func(*registryOptions)

type registryOptions struct {
	timeout        time.Duration
	networkTimeout time.Duration
	maxConcurrency int
	recoverPanics  bool
	onBefore       func(context.Context, ValidatedCall)
	onAfter        func(context.Context, ValidatedCall, ExecutionResult, time.Duration)
}

// WithDefaultTimeout sets the execution timeout for tools that declare none.
func WithDefaultTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.timeout = d
	}
}

// WithNetworkTimeout sets the execution timeout for network-class tools that declare none.
func WithNetworkTimeout(d time.Duration) RegistryOption {
	return func(o *registryOptions) {
		o.networkTimeout = d
	}
}

// WithMaxConcurrency limits concurrent handler executions (semaphore).
// Pass 0 or negative to disable the semaphore (unlimited concurrency).
func WithMaxConcurrency(n int) RegistryOption {
	return func(o *registryOptions) {
		o.maxConcurrency = n
	}
}

// WithRecoverPanics enables panic recovery around handlers (on by default).
func WithRecoverPanics(enable bool) RegistryOption {
	return func(o *registryOptions) {
		o.recoverPanics = enable
	}
}

// WithOnBeforeExecute sets a hook called before each handler execution.
func WithOnBeforeExecute(fn func(context.Context, ValidatedCall)) RegistryOption {
	return func(o *registryOptions) {
		o.onBefore = fn
	}
}

// WithOnAfterExecute sets a hook called with the final result of each dispatched call.
func WithOnAfterExecute(fn func(context.Context, ValidatedCall, ExecutionResult, time.Duration)) RegistryOption {
	return func(o *registryOptions) {
		o.onAfter = fn
	}
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	logger         *slog.Logger
	maxParallelism int
	retry          RetryPolicy
	approver       Approver
	newID          func() string
}

// WithLogger sets the logger used by the engine and its components.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// WithMaxParallelism bounds how many calls RunAll executes at once.
// Pass 0 or negative for no bound.
func WithMaxParallelism(n int) Option {
	return func(o *engineOptions) {
		o.maxParallelism = n
	}
}

// WithRetryPolicy replaces the default retry policy for transient failures. MaxRetries is
// capped at RetryLimit.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *engineOptions) {
		o.retry = p
	}
}

// WithApprover sets who decides on AwaitingApproval calls. The default approves everything.
func WithApprover(a Approver) Option {
	return func(o *engineOptions) {
		o.approver = a
	}
}

// WithIDGenerator replaces the call id generator (uuid.NewString by default).
func WithIDGenerator(fn func() string) Option {
	return func(o *engineOptions) {
		o.newID = fn
	}
}
