package main

import (
	"encoding/json"
	"errors"
)

// ToolsCmd prints the definitions of the configured tools as a JSON array.
type ToolsCmd struct {
	Compact bool `help:"Print without indentation"`
}

func (c *ToolsCmd) Run(g *Globals) error {
	cfg, err := g.load()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.Log, g.Err)
	if err != nil {
		return err
	}
	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(g.Out)
	if !c.Compact {
		enc.SetIndent("", "  ")
	}
	return errors.Join(enc.Encode(reg.Definitions()), reg.Close())
}
