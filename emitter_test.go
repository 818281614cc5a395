package toolwire

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snap(id string, state CallState, seq uint64) Snapshot {
	return Snapshot{Call: ValidatedCall{ID: id, ToolName: "x"}, State: state, Seq: seq}
}

func TestEmitter_OrderedAndLossless(t *testing.T) {
	em := NewEmitter()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	slow := em.Subscribe(ctx)
	fast := em.Subscribe(ctx)
	require.Equal(t, 2, em.SubscriberCount())

	const n = 500
	for i := range n {
		em.Publish(snap("c", StateQueued, uint64(i+1)))
	}
	em.Close()

	got := drain(t, fast)
	require.Len(t, got, n)
	time.Sleep(5 * time.Millisecond)
	gotSlow := drain(t, slow)
	require.Len(t, gotSlow, n)
	for i := range n {
		assert.Equal(t, uint64(i+1), got[i].Snapshot.Seq)
		assert.Equal(t, uint64(i+1), gotSlow[i].Snapshot.Seq)
	}
	assert.Equal(t, "c", got[0].CallID)
	assert.Equal(t, "x", got[0].ToolName)
}

func TestEmitter_ContextEndsSubscription(t *testing.T) {
	em := NewEmitter()
	defer em.Close()
	ctx, cancel := context.WithCancel(context.Background())
	ch := em.Subscribe(ctx)
	em.Publish(snap("a", StateQueued, 1))
	cancel()
	drain(t, ch)
	require.Eventually(t, func() bool { return em.SubscriberCount() == 0 }, time.Second, time.Millisecond)
	em.Publish(snap("a", StateAwaitingApproval, 2))
}

func TestEmitter_SubscribeAfterClose(t *testing.T) {
	em := NewEmitter()
	em.Close()
	em.Close()
	em.Publish(snap("a", StateQueued, 1))
	assert.Empty(t, drain(t, em.Subscribe(context.Background())))
}

func TestEmitter_LateSubscriberSeesOnlyNewEvents(t *testing.T) {
	em := NewEmitter()
	em.Publish(snap("a", StateQueued, 1))
	ch := em.Subscribe(context.Background())
	em.Publish(snap("a", StateAwaitingApproval, 2))
	em.Close()
	got := drain(t, ch)
	require.Len(t, got, 1)
	assert.Equal(t, StateAwaitingApproval, got[0].State)
}

func TestEvent_String(t *testing.T) {
	e := Event{CallID: "c1", ToolName: "x", State: StatePartiallySucceeded}
	assert.Contains(t, e.String(), "c1")
	assert.Contains(t, e.String(), "PartiallySucceeded")
}
