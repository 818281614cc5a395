package fstool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/skosovsky/toolwire"
)

// FileContent is the read_file payload.
type FileContent struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	StartLine int    `json:"start_line,omitempty"`
	EndLine   int    `json:"end_line,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// WriteResult is the write_file payload.
type WriteResult struct {
	Path    string `json:"path"`
	Bytes   int    `json:"bytes"`
	Created bool   `json:"created"`
	DiffStat
}

func (t *Toolkit) readFile(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	abs, err := t.resolve(call.Params.String("path"))
	if err != nil {
		return outside(err), nil
	}
	if err := ctx.Err(); err != nil {
		return toolwire.Outcome{}, err
	}
	f, err := os.Open(abs)
	if err != nil {
		return toolwire.Outcome{}, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return toolwire.Outcome{}, err
	}
	if info.IsDir() {
		return toolwire.Failure(toolwire.KindValidation, t.rel(abs)+" is a directory", "use find_files to list directories"), nil
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(t.opts.maxReadBytes)+1))
	if err != nil {
		return toolwire.Outcome{}, err
	}
	out := FileContent{Path: t.rel(abs)}
	if len(data) > t.opts.maxReadBytes {
		data = data[:t.opts.maxReadBytes]
		out.Truncated = true
	}
	out.Content = string(data)

	start, end := call.Params.Int("start_line"), call.Params.Int("end_line")
	if start > 0 || end > 0 {
		if end > 0 && start > end {
			return toolwire.Failure(toolwire.KindValidation,
				fmt.Sprintf("start_line %d is after end_line %d", start, end), "swap the line numbers"), nil
		}
		out.Content, out.StartLine, out.EndLine = lineRange(out.Content, start, end)
	}
	return toolwire.Success(out), nil
}

// lineRange returns lines start..end (1-based, inclusive) and the range actually returned.
func lineRange(content string, start, end int) (string, int, int) {
	lines := strings.SplitAfter(content, "\n")
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if start < 1 {
		start = 1
	}
	if end < 1 || end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return "", start, end
	}
	return strings.Join(lines[start-1:end], ""), start, end
}

func (t *Toolkit) writeFile(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	abs, err := t.resolve(call.Params.String("path"))
	if err != nil {
		return outside(err), nil
	}
	if abs == t.root {
		return toolwire.Failure(toolwire.KindValidation, "path names the workspace root", "give a file path"), nil
	}
	if err := ctx.Err(); err != nil {
		return toolwire.Outcome{}, err
	}
	content := call.Params.String("content")
	before, err := os.ReadFile(abs)
	created := errors.Is(err, os.ErrNotExist)
	if err != nil && !created {
		return toolwire.Outcome{}, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return toolwire.Outcome{}, err
	}
	if err := writeAtomic(abs, []byte(content)); err != nil {
		return toolwire.Outcome{}, err
	}
	rel := t.rel(abs)
	return toolwire.Success(WriteResult{
		Path:       rel,
		Bytes:      len(content),
		Created:    created,
		DiffStat: diffStat(rel, string(before), content),
	}), nil
}

// writeAtomic replaces path through a temporary file in the same directory, keeping the
// existing file mode.
func writeAtomic(path string, data []byte) (err error) {
	mode := os.FileMode(0o644)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
