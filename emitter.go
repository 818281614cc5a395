package toolwire

import (
	"context"
	"sync"
)

// broker fans values out to subscribers without blocking publishers and without dropping:
// each subscriber owns an unbounded FIFO drained by its own goroutine.
type broker[T any] struct {
	mu     sync.Mutex
	subs   map[*subscription[T]]struct{}
	closed bool
}

func newBroker[T any]() *broker[T] {
	return &broker[T]{subs: make(map[*subscription[T]]struct{})}
}

// subscribe registers for future values. The channel closes when ctx is done, or after the
// queued values are delivered once the broker is closed.
func (b *broker[T]) subscribe(ctx context.Context) <-chan T {
	s := &subscription[T]{out: make(chan T), wake: make(chan struct{}, 1)}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.out)
		return s.out
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		s.run(ctx)
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
	}()
	return s.out
}

// publish queues v for every current subscriber. It never blocks on a slow reader.
func (b *broker[T]) publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for s := range b.subs {
		s.push(v)
	}
}

// close stops accepting values; subscribers drain what is queued and then see their
// channel closed.
func (b *broker[T]) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for s := range b.subs {
		s.finish()
	}
}

func (b *broker[T]) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type subscription[T any] struct {
	out  chan T
	wake chan struct{}

	mu       sync.Mutex
	queue    []T
	finished bool
}

func (s *subscription[T]) push(v T) {
	s.mu.Lock()
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.signal()
}

func (s *subscription[T]) finish() {
	s.mu.Lock()
	s.finished = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscription[T]) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription[T]) run(ctx context.Context) {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch, finished := s.queue, s.finished
		s.queue = nil
		s.mu.Unlock()

		for _, v := range batch {
			select {
			case s.out <- v:
			case <-ctx.Done():
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if finished {
			return
		}
		select {
		case <-s.wake:
		case <-ctx.Done():
			return
		}
	}
}

// Emitter publishes call snapshots to subscribers. Delivery is lossless and ordered per
// subscriber; publishing never blocks.
type Emitter struct {
	b *broker[Event]
}

// NewEmitter returns an emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{b: newBroker[Event]()}
}

// Subscribe returns a channel of every event published from now on. It closes when ctx is
// done or after Close, once queued events are delivered.
func (e *Emitter) Subscribe(ctx context.Context) <-chan Event {
	return e.b.subscribe(ctx)
}

// Publish queues s for all subscribers.
func (e *Emitter) Publish(s Snapshot) {
	e.b.publish(Event{
		CallID:   s.Call.ID,
		ToolName: s.Call.ToolName,
		State:    s.State,
		Snapshot: s,
	})
}

// Close ends all subscriptions after their queued events are delivered.
func (e *Emitter) Close() { e.b.close() }

// SubscriberCount returns the number of live subscriptions.
func (e *Emitter) SubscriberCount() int { return e.b.count() }
