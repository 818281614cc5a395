package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/skosovsky/toolwire"
)

// Tool pairs a schema with its handler for NewTestRegistry.
type Tool struct {
	Schema  toolwire.ToolSchema
	Handler toolwire.Handler
}

// NewTestRegistry returns a Registry with long timeout and panic recovery enabled,
// suitable for tests. A Tool without a handler gets a fresh MockHandler.
func NewTestRegistry(tools ...Tool) *toolwire.Registry {
	reg := toolwire.NewRegistry(
		toolwire.WithDefaultTimeout(30*time.Second),
		toolwire.WithRecoverPanics(true),
	)
	for _, t := range tools {
		h := t.Handler
		if h == nil {
			h = &MockHandler{}
		}
		reg.MustRegister(t.Schema, h)
	}
	return reg
}

// Recorder collects engine events in the background.
type Recorder struct {
	mu     sync.Mutex
	events []toolwire.Event
	done   chan struct{}
}

// Record subscribes to eng and collects events until ctx ends or the engine shuts down.
func Record(ctx context.Context, eng *toolwire.Engine) *Recorder {
	r := &Recorder{done: make(chan struct{})}
	ch := eng.Subscribe(ctx)
	go func() {
		defer close(r.done)
		for ev := range ch {
			r.mu.Lock()
			r.events = append(r.events, ev)
			r.mu.Unlock()
		}
	}()
	return r
}

// Events returns the events collected so far.
func (r *Recorder) Events() []toolwire.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]toolwire.Event(nil), r.events...)
}

// States returns the states the call passed through, in order.
func (r *Recorder) States(callID string) []toolwire.CallState {
	var out []toolwire.CallState
	for _, ev := range r.Events() {
		if ev.CallID == callID {
			out = append(out, ev.State)
		}
	}
	return out
}

// Wait blocks until the subscription has closed and returns every event.
func (r *Recorder) Wait() []toolwire.Event {
	<-r.done
	return r.Events()
}
