package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/skosovsky/toolwire"
)

const shutdownTimeout = 30 * time.Second

// ReplayCmd feeds a recorded assistant message to the engine in fixed-size chunks.
type ReplayCmd struct {
	Transcript string `arg:"" help:"Transcript file, or - for stdin"`
	Chunk      int    `help:"Chunk size in runes (overrides engine.chunk_size)"`
	Approval   string `help:"Approval mode: auto, deny or deny-dangerous (overrides engine.approval)"`
	Previews   bool   `help:"Also print open tool-block previews"`
}

// record is one JSON line of replay output.
type record struct {
	Type   string                    `json:"type"`
	Text   string                    `json:"text,omitempty"`
	Tool   string                    `json:"tool,omitempty"`
	CallID string                    `json:"call_id,omitempty"`
	Params toolwire.Params           `json:"params,omitempty"`
	Event  *toolwire.Event           `json:"event,omitempty"`
	Result *toolwire.ExecutionResult `json:"result,omitempty"`
	States map[string]int            `json:"states,omitempty"`
}

// lineWriter serializes records from the feeding goroutine and the subscriber.
type lineWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
	err error
}

func (w *lineWriter) write(r record) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err == nil {
		w.err = w.enc.Encode(r)
	}
}

func (c *ReplayCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	if c.Chunk > 0 {
		cfg.Engine.ChunkSize = c.Chunk
	}
	if c.Approval != "" {
		cfg.Engine.Approval = c.Approval
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, g.Err)
	if err != nil {
		return err
	}
	text, err := readTranscript(c.Transcript)
	if err != nil {
		return err
	}
	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	ctx := g.Context
	if ctx == nil {
		ctx = context.Background()
	}
	out := &lineWriter{enc: json.NewEncoder(g.Out)}
	subCtx, stopSub := context.WithCancel(context.Background())
	defer stopSub()
	events := eng.Subscribe(subCtx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			out.write(record{Type: "event", Event: &ev})
		}
	}()

	turn := eng.NewTurn()
	for _, chunk := range chunks(text, cfg.Engine.ChunkSize) {
		c.print(out, turn.Feed(chunk))
	}
	c.print(out, turn.Close())
	_, runErr := turn.RunAll(ctx)
	if errors.Is(ctx.Err(), context.Canceled) {
		eng.CancelAll()
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutErr := eng.Shutdown(shutCtx)
	<-done

	counts := map[string]int{}
	for _, s := range eng.Manager().Calls() {
		counts[s.State.String()]++
	}
	out.write(record{Type: "summary", States: counts})
	return errors.Join(turn.Err(), runErr, shutErr, out.err)
}

func (c *ReplayCmd) print(out *lineWriter, updates []toolwire.Update) {
	for _, u := range updates {
		switch u.Kind {
		case toolwire.UpdateText:
			out.write(record{Type: "text", Text: u.Text})
		case toolwire.UpdatePreview:
			if c.Previews {
				out.write(record{Type: "preview", Tool: u.Draft.ToolName, Params: u.Params})
			}
		case toolwire.UpdateSubmitted:
			out.write(record{Type: "submitted", Tool: u.Call.ToolName, CallID: u.Call.ID})
		case toolwire.UpdateInvalid:
			out.write(record{Type: "invalid", Tool: u.Draft.ToolName, Result: u.Result})
		case toolwire.UpdateDiscarded:
			out.write(record{Type: "discarded", Tool: u.Draft.ToolName})
		}
	}
}

func readTranscript(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	return string(data), nil
}

// chunks splits s into pieces of at most n runes.
func chunks(s string, n int) []string {
	if n < 1 {
		n = 1
	}
	var out []string
	runes := []rune(s)
	for len(runes) > 0 {
		k := min(n, len(runes))
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}
