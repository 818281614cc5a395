package toolwire

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type addArgs struct {
	X int `json:"x" jsonschema:"description=Number to increment"`
}

type addResult struct {
	Y int `json:"y"`
}

type positiveArgs struct {
	N int `json:"n"`
}

func (a positiveArgs) Validate() error {
	if a.N <= 0 {
		return &ValidationError{FieldPath: "n", Message: "must be positive", Hint: "use a number above zero"}
	}
	return nil
}

type ptrArgs struct {
	Name string `json:"name"`
}

func (a *ptrArgs) Validate() error {
	if a.Name == "" {
		return errors.New("name is empty")
	}
	return nil
}

func TestNewTool_Simple(t *testing.T) {
	schema, h, err := NewTool("add_one", "Add one", func(_ context.Context, a addArgs) (addResult, error) {
		return addResult{Y: a.X + 1}, nil
	})
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "add_one", schema.Name)
	assert.Equal(t, "Add one", schema.Description)
	f, ok := schema.Field("x")
	require.True(t, ok)
	assert.Equal(t, ShapeNumber, f.Shape)
	assert.True(t, f.Required)
	assert.Equal(t, "Number to increment", f.Description)
}

func TestNewTool_EndToEnd(t *testing.T) {
	schema, h, err := NewTool("add_one", "Add one", func(_ context.Context, a addArgs) (addResult, error) {
		return addResult{Y: a.X + 1}, nil
	})
	require.NoError(t, err)
	reg := NewRegistry()
	require.NoError(t, reg.Register(schema, h))
	eng := newTestEngine(t, reg)

	id := submitOne(t, eng, `<add_one><x>5</x></add_one>`)
	res, err := eng.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, res.State)
	assert.Equal(t, addResult{Y: 6}, res.Payload)

	res, err = eng.Invoke(context.Background(), "add_one", map[string]any{"x": "many"})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, res.State)
	assert.Equal(t, KindValidation, res.Error.Kind)
	assert.Equal(t, "x", res.Error.FieldPath)
}

func TestNewHandler_DecodeFailure(t *testing.T) {
	h := NewHandler(func(_ context.Context, a addArgs) (addResult, error) {
		return addResult{}, nil
	})
	out, err := h.Execute(context.Background(), ValidatedCall{Params: Params{"x": "not a number"}})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, KindValidation, out.Failure.Kind)
}

func TestNewHandler_Validatable(t *testing.T) {
	called := false
	h := NewHandler(func(_ context.Context, a positiveArgs) (int, error) {
		called = true
		return a.N, nil
	})
	out, err := h.Execute(context.Background(), ValidatedCall{Params: Params{"n": -1.0}})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, "n", out.Failure.FieldPath)
	assert.Equal(t, "use a number above zero", out.Failure.Hint)
	assert.False(t, called)

	out, err = h.Execute(context.Background(), ValidatedCall{Params: Params{"n": 2.0}})
	require.NoError(t, err)
	assert.Nil(t, out.Failure)
	assert.Equal(t, 2, out.Payload)
}

func TestNewHandler_PointerReceiverValidatable(t *testing.T) {
	h := NewHandler(func(_ context.Context, a ptrArgs) (string, error) {
		return a.Name, nil
	})
	out, err := h.Execute(context.Background(), ValidatedCall{Params: Params{}})
	require.NoError(t, err)
	require.NotNil(t, out.Failure)
	assert.Equal(t, "name is empty", out.Failure.Message)

	h2 := NewHandler(func(_ context.Context, a *ptrArgs) (string, error) {
		return a.Name, nil
	})
	out, err = h2.Execute(context.Background(), ValidatedCall{Params: Params{"name": "ok"}})
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Payload)
}

func TestNewHandler_ErrorGoesToDispatcher(t *testing.T) {
	sentinel := errors.New("upstream down")
	h := NewHandler(func(context.Context, addArgs) (addResult, error) {
		return addResult{}, sentinel
	})
	_, err := h.Execute(context.Background(), ValidatedCall{Params: Params{"x": 1.0}})
	assert.ErrorIs(t, err, sentinel)
}

func BenchmarkNewHandler_Execute(b *testing.B) {
	h := NewHandler(func(_ context.Context, a addArgs) (addResult, error) {
		return addResult{Y: a.X + 1}, nil
	})
	call := ValidatedCall{ID: "1", ToolName: "add_one", Params: Params{"x": 5.0}}
	ctx := context.Background()
	b.ResetTimer()
	for b.Loop() {
		_, _ = h.Execute(ctx, call)
	}
}
