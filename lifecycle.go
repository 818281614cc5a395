package toolwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Manager drives each call from Queued to a final state. Its calls-by-id table is the only
// shared mutable state of the engine; every transition is decided and published under its
// lock, so each call's events leave in causal order.
type Manager struct {
	dispatcher     *Dispatcher
	emitter        *Emitter
	approver       Approver
	logger         *slog.Logger
	newID          func() string
	now            func() time.Time
	maxParallelism int
	onAfter        func(context.Context, ValidatedCall, ExecutionResult, time.Duration)

	mu    sync.Mutex
	calls map[string]*callEntry
	order []string
}

type callEntry struct {
	call      ValidatedCall
	info      ToolInfo
	state     CallState
	seq       uint64
	busy      bool
	cancel    context.CancelFunc
	cancelled bool
	result    *ExecutionResult
}

// NewManager returns a manager dispatching through d and publishing to em.
func NewManager(d *Dispatcher, em *Emitter, opts ...Option) *Manager {
	o := engineOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Manager{
		dispatcher:     d,
		emitter:        em,
		approver:       o.approver,
		logger:         o.logger,
		newID:          o.newID,
		now:            time.Now,
		maxParallelism: o.maxParallelism,
		onAfter:        d.reg.opts.onAfter,
		calls:          make(map[string]*callEntry),
	}
	if m.approver == nil {
		m.approver = AutoApprove
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.newID == nil {
		m.newID = uuid.NewString
	}
	return m
}

// Submit records a validated call and moves it to AwaitingApproval, publishing both
// transitions. A call without an id gets one. The stored call is returned.
func (m *Manager) Submit(call ValidatedCall) (ValidatedCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.add(call)
	if err != nil {
		return ValidatedCall{}, err
	}
	m.transition(e, StateAwaitingApproval, nil)
	return e.call.copy(), nil
}

// Reject records a call that failed validation: Queued then Failed with kind Validation.
// It never reaches the dispatcher.
func (m *Manager) Reject(call ValidatedCall, verr *ValidationError) (ExecutionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.add(call)
	if err != nil {
		return ExecutionResult{}, err
	}
	msg := verr.Message
	if verr.ExpectedShape != "" && verr.ReceivedShape != "" && verr.ExpectedShape != verr.ReceivedShape {
		msg = fmt.Sprintf("%s (expected %s, received %s)", msg, verr.ExpectedShape, verr.ReceivedShape)
	}
	res := ExecutionResult{
		CallID:   e.call.ID,
		ToolName: e.call.ToolName,
		State:    StateFailed,
		Error: &ErrorDetail{
			Kind:      KindValidation,
			Message:   msg,
			Hint:      verr.Hint,
			FieldPath: verr.FieldPath,
		},
	}
	return m.finish(e, res), nil
}

func (m *Manager) add(call ValidatedCall) (*callEntry, error) {
	if call.ID == "" {
		call.ID = m.newID()
	}
	if _, ok := m.calls[call.ID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, call.ID)
	}
	if call.CreatedAt.IsZero() {
		call.CreatedAt = m.now()
	}
	call = call.copy()
	e := &callEntry{call: call, state: StateQueued}
	if info, ok := m.dispatcher.reg.Info(call.ToolName); ok {
		e.info = info
	}
	m.calls[call.ID] = e
	m.order = append(m.order, call.ID)
	m.publish(e, nil)
	return e, nil
}

// Run asks for approval and executes the call. It returns the final result, or:
//   - ErrUnknownCall for an id never submitted;
//   - ErrFinalState (with the stored result) for a call that already finished;
//   - a *BusyError while an earlier Run of the same id is awaiting approval or executing;
//   - ctx.Err() when ctx ends during approval; the call stays AwaitingApproval.
func (m *Manager) Run(ctx context.Context, id string) (ExecutionResult, error) {
	m.mu.Lock()
	e, ok := m.calls[id]
	if !ok {
		m.mu.Unlock()
		return ExecutionResult{}, fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if e.state.Final() {
		res := *e.result
		m.mu.Unlock()
		return res, ErrFinalState
	}
	if e.busy {
		state := e.state
		m.mu.Unlock()
		return ExecutionResult{}, &BusyError{CallID: id, State: state}
	}
	e.busy = true
	call, info := e.call, e.info
	m.mu.Unlock()

	decision, err := m.approver.Approve(ctx, ApprovalRequest{Call: call.copy(), Dangerous: info.Dangerous, Tags: info.Tags})
	if err != nil {
		m.mu.Lock()
		e.busy = false
		m.mu.Unlock()
		return ExecutionResult{}, err
	}
	if !decision.Approved {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.finish(e, ExecutionResult{
			CallID:   id,
			ToolName: call.ToolName,
			State:    StateRejected,
			Feedback: decision.Feedback,
		}), nil
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.mu.Lock()
	e.cancel = cancel
	m.transition(e, StateExecuting, nil)
	m.mu.Unlock()

	start := time.Now()
	out, attempts, derr := m.dispatcher.Dispatch(execCtx, call.copy())
	res := aggregate(call, out, derr)
	res.Attempts = attempts
	res.Duration = time.Since(start)

	m.mu.Lock()
	if e.cancelled || errors.Is(ctx.Err(), context.Canceled) {
		res = ExecutionResult{CallID: id, ToolName: call.ToolName, State: StateCancelled, Attempts: attempts, Duration: res.Duration}
	}
	e.cancel = nil
	res = m.finish(e, res)
	m.mu.Unlock()

	if m.onAfter != nil {
		m.onAfter(ctx, call.copy(), res, res.Duration)
	}
	return res, nil
}

// RunAll runs the calls concurrently, at most WithMaxParallelism at a time. Results are in
// the order of ids; a call whose Run failed has a zero result. The first Run error is returned.
func (m *Manager) RunAll(ctx context.Context, ids []string) ([]ExecutionResult, error) {
	results := make([]ExecutionResult, len(ids))
	var g errgroup.Group
	if m.maxParallelism > 0 {
		g.SetLimit(m.maxParallelism)
	}
	for i, id := range ids {
		g.Go(func() error {
			res, err := m.Run(ctx, id)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	return results, g.Wait()
}

// Cancel asks an executing call to stop. The handler's context is cancelled; when it
// returns, the call ends Cancelled and its result is discarded. Effects already committed
// are not rolled back. Calls in any other state yield ErrNotExecuting.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCall, id)
	}
	if e.state != StateExecuting || e.cancelled {
		return fmt.Errorf("%w: %s is %s", ErrNotExecuting, id, e.state)
	}
	e.cancelled = true
	e.cancel()
	return nil
}

// CancelAll cancels every executing call and returns how many were signalled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.calls {
		if e.state == StateExecuting && !e.cancelled {
			e.cancelled = true
			e.cancel()
			n++
		}
	}
	return n
}

// Snapshot returns the current snapshot of a call.
func (m *Manager) Snapshot(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.calls[id]
	if !ok {
		return Snapshot{}, false
	}
	return m.snapshot(e), true
}

// Calls returns the snapshots of all calls in submission order.
func (m *Manager) Calls() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.snapshot(m.calls[id]))
	}
	return out
}

func (m *Manager) snapshot(e *callEntry) Snapshot {
	s := Snapshot{Call: e.call.copy(), State: e.state, Seq: e.seq, At: m.now()}
	if e.result != nil {
		r := *e.result
		s.Result = &r
	}
	return s
}

// transition moves e to state and publishes it. Callers hold m.mu.
func (m *Manager) transition(e *callEntry, state CallState, res *ExecutionResult) {
	if !canTransition(e.state, state) {
		panic(fmt.Sprintf("toolwire: illegal transition %s -> %s for call %s", e.state, state, e.call.ID))
	}
	e.state = state
	e.result = res
	m.publish(e, res)
}

// finish stores a final result, replacing an inconsistent one. Callers hold m.mu.
func (m *Manager) finish(e *callEntry, res ExecutionResult) ExecutionResult {
	if err := res.Check(); err != nil {
		m.logger.Error("replacing inconsistent result", "tool", e.call.ToolName, "call_id", e.call.ID, "error", err)
		res = ExecutionResult{
			CallID:   e.call.ID,
			ToolName: e.call.ToolName,
			State:    StateFailed,
			Error:    &ErrorDetail{Kind: KindUnknown, Message: "tool produced an inconsistent result: " + err.Error()},
			Attempts: res.Attempts,
			Duration: res.Duration,
		}
	}
	e.busy = false
	m.transition(e, res.State, &res)
	return res
}

func (m *Manager) publish(e *callEntry, res *ExecutionResult) {
	e.seq++
	s := Snapshot{Call: e.call.copy(), State: e.state, Seq: e.seq, At: m.now()}
	if res != nil {
		r := *res
		s.Result = &r
	}
	m.emitter.Publish(s)
	m.logger.Debug("call transition", "tool", e.call.ToolName, "call_id", e.call.ID, "state", e.state.String())
}

// aggregate turns a dispatch outcome into a final result.
func aggregate(call ValidatedCall, out Outcome, err error) ExecutionResult {
	res := ExecutionResult{CallID: call.ID, ToolName: call.ToolName}
	if err != nil {
		ee := Classify(err)
		res.State = StateFailed
		res.Error = &ErrorDetail{Kind: ee.Kind, Message: ee.Message, Hint: ee.Hint}
		return res
	}
	switch {
	case out.Failure != nil:
		detail := *out.Failure
		if detail.Kind == "" {
			detail.Kind = KindExecution
		}
		if detail.Message == "" {
			detail.Message = "tool reported a failure"
		}
		res.State = StateFailed
		res.Error = &detail
	case out.Partial != nil:
		p := *out.Partial
		p.FailureCount = len(p.PerItemErrors)
		switch {
		case p.FailureCount == 0:
			res.State = StateSucceeded
			res.Payload = p.CommittedPayload
		case p.SuccessCount <= 0:
			p.SuccessCount = 0
			p.CommittedPayload = nil
			res.State = StateFailed
			res.Partial = &p
			res.Error = &ErrorDetail{
				Kind:    KindExecution,
				Message: fmt.Sprintf("all %d operations failed; nothing was changed", p.FailureCount),
				Hint:    p.PerItemErrors[0].Message,
			}
		default:
			res.State = StatePartiallySucceeded
			res.Partial = &p
		}
	default:
		res.State = StateSucceeded
		res.Payload = out.Payload
	}
	return res
}
