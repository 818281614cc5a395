package toolwire

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type closingHandler struct {
	closed int
	err    error
}

func (h *closingHandler) Execute(context.Context, ValidatedCall) (Outcome, error) {
	return Success(nil), nil
}

func (h *closingHandler) Close() error {
	h.closed++
	return h.err
}

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(itemsSchema(), echo()))
	require.NoError(t, reg.Register(editsSchema(), echo()))
	assert.Equal(t, []string{"edit", "x"}, reg.Names())

	schema, ok := reg.Schema("edit")
	require.True(t, ok)
	assert.Equal(t, "Apply edits", schema.Description)
	_, ok = reg.Schema("missing")
	assert.False(t, ok)
}

func TestRegistry_Register_Errors(t *testing.T) {
	tests := []struct {
		name   string
		schema ToolSchema
		h      Handler
		expect string
	}{
		{"nil handler", itemsSchema(), nil, "nil handler"},
		{"duplicate", itemsSchema(), echo(), "already registered"},
		{"bad tool name", ToolSchema{Name: "has space"}, echo(), "invalid tool name"},
		{"bad field name", ToolSchema{Name: "t", Fields: []Field{{Name: "a b"}}}, echo(), "invalid field name"},
		{"duplicate field", ToolSchema{Name: "t", Fields: []Field{{Name: "a"}, {Name: "a"}}}, echo(), "duplicate field"},
		{"enum on number", ToolSchema{Name: "t", Fields: []Field{{Name: "n", Shape: ShapeNumber, Enum: []string{"1"}}}}, echo(), "string fields only"},
		{"bad pattern", ToolSchema{Name: "t", Fields: []Field{{Name: "s", Pattern: "("}}}, echo(), "failed to compile schema"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewRegistry()
			require.NoError(t, reg.Register(itemsSchema(), echo()))
			err := reg.Register(tt.schema, tt.h)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expect)
		})
	}
}

func TestRegistry_MustRegister(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(itemsSchema(), echo())
	assert.Panics(t, func() { reg.MustRegister(itemsSchema(), echo()) })
}

func TestRegistry_Seal(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(itemsSchema(), echo()))
	assert.False(t, reg.Sealed())
	reg.Seal()
	reg.Seal()
	assert.True(t, reg.Sealed())
	assert.ErrorIs(t, reg.Register(editsSchema(), echo()), ErrRegistrySealed)
	assert.Equal(t, []string{"x"}, reg.Names())
}

func TestRegistry_Definitions(t *testing.T) {
	reg := newTestRegistry(t)
	defs := reg.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "edit", defs[0].Name)
	assert.Equal(t, "x", defs[1].Name)

	data, err := json.Marshal(defs[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"name": "edit",
		"description": "Apply edits",
		"parameters": {
			"type": "object",
			"description": "Apply edits",
			"required": ["path", "edits"],
			"properties": {
				"path": {"type": "string"},
				"edits": {
					"type": "array",
					"minItems": 1,
					"items": {
						"type": "object",
						"required": ["old_string", "new_string"],
						"properties": {
							"old_string": {"type": "string"},
							"new_string": {"type": "string"},
							"count": {"type": "number"},
							"replace_all": {"type": "boolean"}
						}
					}
				}
			}
		}
	}`, string(data))
}

func TestRegistry_Close(t *testing.T) {
	failing := &closingHandler{err: errors.New("flush failed")}
	ok := &closingHandler{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(itemsSchema(), failing))
	require.NoError(t, reg.Register(editsSchema(), ok))

	err := reg.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close x")
	assert.Equal(t, 1, failing.closed)
	assert.Equal(t, 1, ok.closed)
}

func TestRegistry_Close_ThroughMiddleware(t *testing.T) {
	h := &closingHandler{}
	reg := NewRegistry()
	require.NoError(t, reg.Register(itemsSchema(), h))
	require.NoError(t, reg.Use(WithRecovery()))
	require.NoError(t, reg.Close())
	assert.Equal(t, 1, h.closed, "the raw handler is closed, not the wrapper")
}

func TestRegistry_TimeoutFor(t *testing.T) {
	reg := NewRegistry(WithDefaultTimeout(time.Minute), WithNetworkTimeout(10*time.Second))
	require.NoError(t, reg.Register(ToolSchema{Name: "plain"}, echo()))
	require.NoError(t, reg.Register(ToolSchema{Name: "net"}, echo(), WithNetwork()))
	require.NoError(t, reg.Register(ToolSchema{Name: "declared"}, echo(), WithNetwork(), WithTimeout(time.Second)))
	require.NoError(t, reg.Register(ToolSchema{Name: "method"}, timeoutHandler{d: 3 * time.Second}, WithNetwork()))
	require.NoError(t, reg.Register(ToolSchema{Name: "override"}, timeoutHandler{d: 3 * time.Second}, WithTimeout(2*time.Second)))

	tests := map[string]time.Duration{
		"plain":    time.Minute,
		"net":      10 * time.Second,
		"declared": time.Second,
		"method":   3 * time.Second,
		"override": 2 * time.Second,
	}
	for name, want := range tests {
		tool, ok := reg.lookup(name)
		require.True(t, ok)
		assert.Equal(t, want, reg.timeoutFor(tool), name)
	}
}

func TestRegistry_ObservabilityHooks(t *testing.T) {
	var beforeCalls, afterCalls int
	var lastCall ValidatedCall
	var lastResult ExecutionResult
	var lastDuration time.Duration
	reg := NewRegistry(
		WithOnBeforeExecute(func(_ context.Context, call ValidatedCall) {
			beforeCalls++
			lastCall = call
		}),
		WithOnAfterExecute(func(_ context.Context, _ ValidatedCall, result ExecutionResult, duration time.Duration) {
			afterCalls++
			lastResult = result
			lastDuration = duration
		}),
	)
	require.NoError(t, reg.Register(itemsSchema(), echo()))
	eng := newTestEngine(t, reg, WithIDGenerator(func() string { return "h1" }))
	res, err := eng.Invoke(context.Background(), "x", map[string]any{"items": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, 1, beforeCalls)
	assert.Equal(t, 1, afterCalls)
	assert.Equal(t, "h1", lastCall.ID)
	assert.Equal(t, "x", lastCall.ToolName)
	assert.Equal(t, "h1", lastResult.CallID)
	assert.GreaterOrEqual(t, lastDuration, time.Duration(0))
}

func TestRegistry_OnAfter_ErrorPath(t *testing.T) {
	errSentinel := errors.New("tool error")
	var afterCalls int
	var lastResult ExecutionResult
	reg := NewRegistry(WithOnAfterExecute(func(_ context.Context, _ ValidatedCall, result ExecutionResult, _ time.Duration) {
		afterCalls++
		lastResult = result
	}))
	require.NoError(t, reg.Register(itemsSchema(), HandlerFunc(func(context.Context, ValidatedCall) (Outcome, error) {
		return Outcome{}, errSentinel
	})))
	eng := newTestEngine(t, reg)
	res, err := eng.Invoke(context.Background(), "x", map[string]any{"items": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, 1, afterCalls)
	assert.Equal(t, "x", lastResult.ToolName)
	assert.Equal(t, "tool error", lastResult.Error.Message)
}

func TestRegistry_MaxConcurrency_Unlimited(t *testing.T) {
	for _, n := range []int{0, -1} {
		name := "Zero"
		if n < 0 {
			name = "Negative"
		}
		t.Run(name, func(t *testing.T) {
			reg := NewRegistry(WithMaxConcurrency(n), WithDefaultTimeout(time.Second))
			require.NoError(t, reg.Register(itemsSchema(), echo()))
			eng := newTestEngine(t, reg)
			turn := eng.NewTurn()
			turn.Feed(`<x><items><item>1</item></items></x><x><items><item>2</item></items></x>`)
			results, err := turn.RunAll(context.Background())
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, StateSucceeded, results[0].State)
			assert.Equal(t, StateSucceeded, results[1].State)
		})
	}
}
