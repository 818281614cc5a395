// Package toolwire turns an LLM's streamed, loosely structured tool-call text into
// validated calls and drives each one through approval, execution and a final result.
//
// # Overview
//
// Models write tool calls inline, as pseudo-XML blocks that arrive a few bytes at a time:
//
//	<tool name="multi_replace">
//	<edits><edit><path>main.go</path><old_string>a</old_string><new_string>b</new_string></edit></edits>
//	</tool>
//
// The same parameter may come as a plain value, a JSON string or repeating sub-elements.
// This package reconciles all of them into one typed shape and never lets malformed or
// truncated input reach a handler.
//
// Pipeline: chunk → Buffer → Scanner (Draft) → Normalizer (Normalized) → Validator
// (ValidatedCall) → Manager → Dispatcher → Handler → ExecutionResult → Emitter → subscriber.
//
// # Key concepts
//
//   - One schema per tool: ToolSchema drives the normalizer, the validator and the
//     definition shown to the model (ToolSchema.Definition).
//   - Uniform lifecycle: every call passes Queued and AwaitingApproval, even under
//     auto-approval; final states are never left.
//   - Partial failure: decomposable handlers report per-item errors with Partial; zero
//     successes is a Failed call with nothing committed.
//   - Self-correction: ValidationError and ErrorDetail carry a message and a concrete hint
//     for the model.
//
// # Example
//
//	reg := toolwire.NewRegistry()
//	reg.MustRegister(toolwire.ToolSchema{
//	    Name:   "echo",
//	    Fields: []toolwire.Field{{Name: "text", Shape: toolwire.ShapeString, Required: true}},
//	}, toolwire.HandlerFunc(func(_ context.Context, c toolwire.ValidatedCall) (toolwire.Outcome, error) {
//	    return toolwire.Success(c.Params.String("text")), nil
//	}))
//	eng := toolwire.New(reg)
//	turn := eng.NewTurn()
//	turn.Feed(`Sure. <tool name="echo"><text>hi</text></tool>`)
//	turn.Close()
//	results, err := turn.RunAll(ctx)
//
// Ready-made tools live in toolkits/fstool (file edits, reads and glob search) and
// toolkits/httptool (web_fetch); ext/toolwireotel adds tracing.
package toolwire
