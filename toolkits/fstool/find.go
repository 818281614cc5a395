package fstool

import (
	"context"
	"os"
	"path"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/skosovsky/toolwire"
)

// FindResult is the find_files payload. Paths are relative to the toolkit root.
type FindResult struct {
	Pattern   string   `json:"pattern"`
	Paths     []string `json:"paths"`
	Truncated bool     `json:"truncated,omitempty"`
}

func (t *Toolkit) findFiles(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	pattern := strings.TrimPrefix(strings.TrimSpace(call.Params.String("pattern")), "./")
	if !doublestar.ValidatePattern(pattern) || strings.HasPrefix(pattern, "/") {
		return toolwire.Failure(toolwire.KindValidation, "invalid glob pattern: "+pattern,
			"use a relative pattern such as **/*.go"), nil
	}
	dir, err := t.resolve(call.Params.String("path"))
	if err != nil {
		return outside(err), nil
	}
	if err := ctx.Err(); err != nil {
		return toolwire.Outcome{}, err
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return toolwire.Outcome{}, err
	}
	prefix := t.rel(dir)
	for i, m := range matches {
		if prefix != "." {
			matches[i] = path.Join(prefix, m)
		}
	}
	slices.Sort(matches)
	res := FindResult{Pattern: pattern, Paths: matches}
	if len(matches) > t.opts.maxResults {
		res.Paths = matches[:t.opts.maxResults]
		res.Truncated = true
	}
	if res.Paths == nil {
		res.Paths = []string{}
	}
	return toolwire.Success(res), nil
}
