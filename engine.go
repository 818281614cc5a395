package toolwire

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Engine wires the pipeline: scanner → normalizer → validator → manager → dispatcher →
// emitter. Create it once per conversation.
type Engine struct {
	reg        *Registry
	logger     *slog.Logger
	normalizer *Normalizer
	validator  *Validator
	dispatcher *Dispatcher
	manager    *Manager
	emitter    *Emitter
}

// New seals reg and returns an engine executing its tools.
func New(reg *Registry, opts ...Option) *Engine {
	o := engineOptions{retry: DefaultRetryPolicy()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	reg.Seal()
	em := NewEmitter()
	d := NewDispatcher(reg, o.retry, o.logger)
	return &Engine{
		reg:        reg,
		logger:     o.logger,
		normalizer: NewNormalizer(reg, o.logger),
		validator:  NewValidator(reg),
		dispatcher: d,
		manager:    NewManager(d, em, opts...),
		emitter:    em,
	}
}

// Registry returns the sealed registry.
func (e *Engine) Registry() *Registry { return e.reg }

// Manager returns the call lifecycle manager.
func (e *Engine) Manager() *Manager { return e.manager }

// Subscribe streams every call transition from now on.
func (e *Engine) Subscribe(ctx context.Context) <-chan Event { return e.emitter.Subscribe(ctx) }

// Run executes a submitted call. See Manager.Run.
func (e *Engine) Run(ctx context.Context, id string) (ExecutionResult, error) {
	return e.manager.Run(ctx, id)
}

// RunAll executes submitted calls concurrently. See Manager.RunAll.
func (e *Engine) RunAll(ctx context.Context, ids []string) ([]ExecutionResult, error) {
	return e.manager.RunAll(ctx, ids)
}

// Cancel asks an executing call to stop.
func (e *Engine) Cancel(id string) error { return e.manager.Cancel(id) }

// CancelAll cancels every executing call, e.g. when the user aborts the stream.
func (e *Engine) CancelAll() int { return e.manager.CancelAll() }

// Invoke is the programmatic path: typed values are normalized, validated, submitted and run.
// A validation failure is recorded as a Failed call and returned as its result.
func (e *Engine) Invoke(ctx context.Context, tool string, values map[string]any) (ExecutionResult, error) {
	call, res, err := e.submit(e.normalizer.NormalizeValues(tool, values))
	if err != nil {
		return ExecutionResult{}, err
	}
	if res != nil {
		return *res, nil
	}
	return e.manager.Run(ctx, call.ID)
}

// submit validates n and hands it to the manager. Exactly one of call or res is set on success.
func (e *Engine) submit(n Normalized) (ValidatedCall, *ExecutionResult, error) {
	call, err := e.validator.Validate(n)
	if err != nil {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			return ValidatedCall{}, nil, err
		}
		e.logger.Debug("tool call rejected by validator", "tool", n.Tool, "field", verr.FieldPath, "error", verr.Message)
		res, rerr := e.manager.Reject(ValidatedCall{ToolName: n.Tool, Params: n.Params}, verr)
		if rerr != nil {
			return ValidatedCall{}, nil, rerr
		}
		return ValidatedCall{}, &res, nil
	}
	call, err = e.manager.Submit(call)
	return call, nil, err
}

// Shutdown stops accepting executions, waits for running handlers or ctx, then closes
// subscriptions and tears down handlers that implement io.Closer.
func (e *Engine) Shutdown(ctx context.Context) error {
	err := e.dispatcher.Shutdown(ctx)
	e.emitter.Close()
	return errors.Join(err, e.reg.Close())
}

// UpdateKind identifies a Turn update.
type UpdateKind int

const (
	// UpdateText is assistant prose outside tool blocks.
	UpdateText UpdateKind = iota
	// UpdatePreview is an open tool block with its fields so far.
	UpdatePreview
	// UpdateSubmitted is a validated call now awaiting approval.
	UpdateSubmitted
	// UpdateInvalid is a closed block that failed validation; the call is Failed.
	UpdateInvalid
	// UpdateDiscarded is an open block dropped because the stream ended.
	UpdateDiscarded
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateText:
		return "text"
	case UpdatePreview:
		return "preview"
	case UpdateSubmitted:
		return "submitted"
	case UpdateInvalid:
		return "invalid"
	case UpdateDiscarded:
		return "discarded"
	default:
		return "unknown"
	}
}

// Update is one outcome of feeding text to a Turn.
type Update struct {
	Kind  UpdateKind
	Text  string
	Draft Draft
	// Params holds the normalized preview fields for UpdatePreview.
	Params Params
	Call   ValidatedCall
	Result *ExecutionResult
}

// Turn consumes one streamed assistant message. Feed and Close must not be called
// concurrently; Run, RunAll and Cancel may be called from other goroutines.
type Turn struct {
	e       *Engine
	scanner *Scanner

	mu    sync.Mutex
	calls []string
	err   error
}

// NewTurn starts a new assistant message. Registered tool names are accepted in the
// direct element form.
func (e *Engine) NewTurn() *Turn {
	return &Turn{e: e, scanner: NewScanner(e.reg.Names()...)}
}

// Feed consumes a chunk of streamed text.
func (t *Turn) Feed(chunk string) []Update {
	return t.handle(t.scanner.Feed(chunk))
}

// Close ends the stream. An unterminated tool block is discarded, never executed.
func (t *Turn) Close() []Update {
	return t.handle(t.scanner.Finish())
}

// Calls returns the ids of the calls submitted so far, in stream order.
func (t *Turn) Calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

// Err returns the first manager error met while submitting (e.g. a duplicate id).
func (t *Turn) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// RunAll executes every call submitted by this turn.
func (t *Turn) RunAll(ctx context.Context) ([]ExecutionResult, error) {
	return t.e.manager.RunAll(ctx, t.Calls())
}

// Cancel cancels the executing calls of this turn.
func (t *Turn) Cancel() int {
	n := 0
	for _, id := range t.Calls() {
		if t.e.manager.Cancel(id) == nil {
			n++
		}
	}
	return n
}

func (t *Turn) handle(events []ScanEvent) []Update {
	updates := make([]Update, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case EventText:
			updates = append(updates, Update{Kind: UpdateText, Text: ev.Text})
		case EventDraft:
			n := t.e.normalizer.Normalize(ev.Draft)
			updates = append(updates, Update{Kind: UpdatePreview, Draft: ev.Draft, Params: n.Params})
		case EventDiscarded:
			t.e.logger.Debug("discarding unterminated tool block", "tool", ev.Draft.ToolName)
			updates = append(updates, Update{Kind: UpdateDiscarded, Draft: ev.Draft})
		case EventClosed:
			call, res, err := t.e.submit(t.e.normalizer.Normalize(ev.Draft))
			if err != nil {
				t.mu.Lock()
				if t.err == nil {
					t.err = err
				}
				t.mu.Unlock()
				continue
			}
			if res != nil {
				updates = append(updates, Update{Kind: UpdateInvalid, Draft: ev.Draft, Result: res})
				continue
			}
			t.mu.Lock()
			t.calls = append(t.calls, call.ID)
			t.mu.Unlock()
			updates = append(updates, Update{Kind: UpdateSubmitted, Draft: ev.Draft, Call: call})
		}
	}
	return updates
}
