// Package fstool provides file system tools confined to a root directory: multi_replace,
// write_file, read_file and find_files.
package fstool

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/skosovsky/toolwire"
)

// Tool names.
const (
	MultiReplaceName = "multi_replace"
	WriteFileName    = "write_file"
	ReadFileName     = "read_file"
	FindFilesName    = "find_files"
)

const (
	defaultMaxResults   = 200
	defaultMaxReadBytes = 256 << 10
)

// ErrOutsideRoot is returned for paths that resolve outside the toolkit root.
var ErrOutsideRoot = errors.New("path outside allowed root")

type options struct {
	maxResults   int
	maxReadBytes int
	readOnly     bool
}

// Option configures a Toolkit.
type Option func(*options)

// WithMaxResults caps the number of paths find_files returns. Non-positive values are ignored.
func WithMaxResults(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResults = n
		}
	}
}

// WithMaxReadBytes caps how much of a file read_file returns. Non-positive values are ignored.
func WithMaxReadBytes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxReadBytes = n
		}
	}
}

// WithReadOnly registers only read_file and find_files.
func WithReadOnly() Option {
	return func(o *options) { o.readOnly = true }
}

// Toolkit owns the root directory every tool path is resolved against.
type Toolkit struct {
	root string
	opts options
}

// New returns a Toolkit rooted at root, which must be an existing directory.
func New(root string, opts ...Option) (*Toolkit, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fstool: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fstool: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fstool: %s is not a directory", abs)
	}
	o := options{maxResults: defaultMaxResults, maxReadBytes: defaultMaxReadBytes}
	for _, opt := range opts {
		opt(&o)
	}
	return &Toolkit{root: abs, opts: o}, nil
}

// Root returns the absolute root directory.
func (t *Toolkit) Root() string { return t.root }

// Register adds the toolkit's tools to reg. Writing tools are marked dangerous so they go
// through the approval gate.
func (t *Toolkit) Register(reg *toolwire.Registry) error {
	if err := reg.Register(readFileSchema(), toolwire.HandlerFunc(t.readFile), toolwire.WithTags("fs", "read")); err != nil {
		return err
	}
	if err := reg.Register(findFilesSchema(), toolwire.HandlerFunc(t.findFiles), toolwire.WithTags("fs", "read")); err != nil {
		return err
	}
	if t.opts.readOnly {
		return nil
	}
	if err := reg.Register(writeFileSchema(), toolwire.HandlerFunc(t.writeFile),
		toolwire.WithTags("fs", "write"), toolwire.WithDangerous()); err != nil {
		return err
	}
	return reg.Register(multiReplaceSchema(), toolwire.HandlerFunc(t.multiReplace),
		toolwire.WithTags("fs", "write"), toolwire.WithDangerous())
}

// resolve maps a tool-supplied path onto an absolute path inside the root.
func (t *Toolkit) resolve(candidate string) (string, error) {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return t.root, nil
	}
	var abs string
	if filepath.IsAbs(trimmed) {
		abs = filepath.Clean(trimmed)
	} else {
		abs = filepath.Clean(filepath.Join(t.root, trimmed))
	}
	if !within(t.root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, trimmed)
	}
	return abs, nil
}

// rel returns abs relative to the root with forward slashes.
func (t *Toolkit) rel(abs string) string {
	r, err := filepath.Rel(t.root, abs)
	if err != nil {
		return filepath.ToSlash(abs)
	}
	return filepath.ToSlash(r)
}

func within(base, target string) bool {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

// outside reports a path escaping the root as a permission failure.
func outside(err error) toolwire.Outcome {
	return toolwire.Failure(toolwire.KindPermission, err.Error(), "use a path inside the workspace root")
}
