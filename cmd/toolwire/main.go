// Command toolwire replays recorded model output through the tool-call engine and prints
// the resulting call events as JSON lines.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/skosovsky/toolwire/internal/config"
)

// Build-time variables (set via ldflags).
var (
	version = "dev"
	commit  = "unknown"
)

// Globals are shared by every command.
type Globals struct {
	Config string `short:"c" type:"existingfile" help:"TOML config file"`

	Context context.Context `kong:"-"`
	Out     io.Writer       `kong:"-"`
	Err     io.Writer       `kong:"-"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Replay  ReplayCmd  `cmd:"" help:"Feed a transcript through the engine and print events"`
	Tools   ToolsCmd   `cmd:"" help:"Print the definitions of the configured tools"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (VersionCmd) Run(g *Globals) error {
	_, err := fmt.Fprintf(g.Out, "toolwire %s (commit: %s)\n", version, commit)
	return err
}

// load returns the configured settings, or the defaults when no file was given.
func (g *Globals) load() (*config.Config, error) {
	if g.Config == "" {
		return config.Default(), nil
	}
	return config.LoadFile(g.Config)
}

func newLogger(c config.LogConfig, w io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cli CLI
	cli.Context, cli.Out, cli.Err = ctx, os.Stdout, os.Stderr
	kctx := kong.Parse(&cli,
		kong.Name("toolwire"),
		kong.Description("Streamed tool-call engine for LLM output."),
		kong.UsageOnError(),
	)
	if err := kctx.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "toolwire:", err)
		stop()
		os.Exit(1)
	}
}
