package toolwire

import (
	"context"
	"slices"
	"sync"
)

// ApprovalRequest asks whether a call may execute.
type ApprovalRequest struct {
	Call      ValidatedCall `json:"call"`
	Dangerous bool          `json:"dangerous"`
	Tags      []string      `json:"tags,omitempty"`
}

// Decision is an approver's answer. Feedback is passed to the Rejected result.
type Decision struct {
	Approved bool
	Feedback string
}

// Approver decides on calls in AwaitingApproval. Approve may block until a decision is made;
// it returns ctx.Err() when ctx ends first.
type Approver interface {
	Approve(ctx context.Context, req ApprovalRequest) (Decision, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, req ApprovalRequest) (Decision, error)

func (f ApproverFunc) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	return f(ctx, req)
}

// AutoApprove approves every call. The lifecycle still passes through AwaitingApproval.
var AutoApprove Approver = ApproverFunc(func(context.Context, ApprovalRequest) (Decision, error) {
	return Decision{Approved: true}, nil
})

// ApprovalQueue holds approval requests until a person or policy grants or denies them.
// Requests are announced on Requests; tools allowed with AllowTool skip the queue.
type ApprovalQueue struct {
	requests *broker[ApprovalRequest]

	mu      sync.Mutex
	pending map[string]*pendingApproval
	allowed map[string]bool
	skip    bool
}

type pendingApproval struct {
	req ApprovalRequest
	ch  chan Decision
}

// NewApprovalQueue returns a queue that asks about every call.
func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{
		requests: newBroker[ApprovalRequest](),
		pending:  make(map[string]*pendingApproval),
		allowed:  make(map[string]bool),
	}
}

// Requests returns a channel announcing each request that needs a decision.
func (q *ApprovalQueue) Requests(ctx context.Context) <-chan ApprovalRequest {
	return q.requests.subscribe(ctx)
}

// Approve implements Approver.
func (q *ApprovalQueue) Approve(ctx context.Context, req ApprovalRequest) (Decision, error) {
	q.mu.Lock()
	if q.skip || q.allowed[req.Call.ToolName] {
		q.mu.Unlock()
		return Decision{Approved: true}, nil
	}
	p := &pendingApproval{req: req, ch: make(chan Decision, 1)}
	q.pending[req.Call.ID] = p
	q.mu.Unlock()
	q.requests.publish(req)

	select {
	case d := <-p.ch:
		return d, nil
	case <-ctx.Done():
		q.mu.Lock()
		if q.pending[req.Call.ID] == p {
			delete(q.pending, req.Call.ID)
		}
		q.mu.Unlock()
		return Decision{}, ctx.Err()
	}
}

// Grant approves the pending call.
func (q *ApprovalQueue) Grant(callID string) error {
	return q.decide(callID, Decision{Approved: true})
}

// Deny rejects the pending call with optional feedback for the model.
func (q *ApprovalQueue) Deny(callID, feedback string) error {
	return q.decide(callID, Decision{Feedback: feedback})
}

// AllowTool grants the pending calls of the tool and approves its future calls without asking.
func (q *ApprovalQueue) AllowTool(name string) {
	q.mu.Lock()
	q.allowed[name] = true
	var ids []string
	for id, p := range q.pending {
		if p.req.Call.ToolName == name {
			ids = append(ids, id)
		}
	}
	q.mu.Unlock()
	for _, id := range ids {
		_ = q.Grant(id)
	}
}

// SetSkipRequests approves everything without asking while skip is true.
func (q *ApprovalQueue) SetSkipRequests(skip bool) {
	q.mu.Lock()
	q.skip = skip
	q.mu.Unlock()
}

// Pending returns the undecided requests ordered by call creation time.
func (q *ApprovalQueue) Pending() []ApprovalRequest {
	q.mu.Lock()
	out := make([]ApprovalRequest, 0, len(q.pending))
	for _, p := range q.pending {
		out = append(out, p.req)
	}
	q.mu.Unlock()
	slices.SortFunc(out, func(a, b ApprovalRequest) int {
		return a.Call.CreatedAt.Compare(b.Call.CreatedAt)
	})
	return out
}

// Close ends all Requests subscriptions.
func (q *ApprovalQueue) Close() { q.requests.close() }

func (q *ApprovalQueue) decide(callID string, d Decision) error {
	q.mu.Lock()
	p, ok := q.pending[callID]
	if ok {
		delete(q.pending, callID)
	}
	q.mu.Unlock()
	if !ok {
		return ErrUnknownCall
	}
	p.ch <- d
	return nil
}
