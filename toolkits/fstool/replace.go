package fstool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	udiff "github.com/aymanbagabas/go-udiff"

	"github.com/skosovsky/toolwire"
)

// DiffStat summarizes a file change as a unified diff.
type DiffStat struct {
	Diff      string `json:"diff,omitempty"`
	Additions int    `json:"additions"`
	Removals  int    `json:"removals"`
}

// FileChange is one committed file of a multi_replace call.
type FileChange struct {
	Path    string `json:"path"`
	Applied int    `json:"applied"`
	DiffStat
}

// edit is one multi_replace item with its position in the call.
type edit struct {
	index      int
	oldString  string
	newString  string
	replaceAll bool
}

// fileEdits groups the edits aimed at one file, in call order.
type fileEdits struct {
	path  string // as given by the caller
	abs   string
	edits []edit
}

// multiReplace applies every edit it can. Edits are grouped per file; each file is read
// once, edited in memory and committed with a single atomic write, so a file never holds
// a half-applied group. Items that cannot be applied are reported by index.
func (t *Toolkit) multiReplace(ctx context.Context, call toolwire.ValidatedCall) (toolwire.Outcome, error) {
	var (
		groups   []*fileEdits
		byPath   = map[string]*fileEdits{}
		failures []toolwire.ItemError
	)
	for i, rec := range call.Params.Records("edits") {
		path := rec.String("path")
		abs, err := t.resolve(path)
		if err != nil {
			failures = append(failures, toolwire.ItemError{Index: i, Location: path, Message: err.Error()})
			continue
		}
		g, ok := byPath[abs]
		if !ok {
			g = &fileEdits{path: t.rel(abs), abs: abs}
			byPath[abs] = g
			groups = append(groups, g)
		}
		g.edits = append(g.edits, edit{
			index:      i,
			oldString:  rec.String("old_string"),
			newString:  rec.String("new_string"),
			replaceAll: rec.Bool("replace_all"),
		})
	}

	var (
		changes []FileChange
		applied int
	)
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			for _, e := range g.edits {
				failures = append(failures, toolwire.ItemError{Index: e.index, Location: g.path, Message: "not applied: " + err.Error()})
			}
			continue
		}
		change, itemErrs := applyFile(g)
		failures = append(failures, itemErrs...)
		if change.Applied > 0 {
			changes = append(changes, change)
			applied += change.Applied
		}
	}
	slices.SortFunc(failures, func(a, b toolwire.ItemError) int { return a.Index - b.Index })
	return toolwire.Partial(changes, applied, failures), nil
}

// applyFile runs the group's edits against the file content and commits the result.
func applyFile(g *fileEdits) (FileChange, []toolwire.ItemError) {
	change := FileChange{Path: g.path}
	failAll := func(msg string) []toolwire.ItemError {
		out := make([]toolwire.ItemError, len(g.edits))
		for i, e := range g.edits {
			out[i] = toolwire.ItemError{Index: e.index, Location: g.path, Message: msg}
		}
		return out
	}

	data, err := os.ReadFile(g.abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return change, failAll("file not found: " + g.path)
		}
		return change, failAll(err.Error())
	}
	before := string(data)
	content := before
	var failures []toolwire.ItemError
	var done int
	for _, e := range g.edits {
		next, err := replace(content, e)
		if err != nil {
			failures = append(failures, toolwire.ItemError{Index: e.index, Location: g.path, Message: err.Error()})
			continue
		}
		content = next
		done++
	}
	if done == 0 {
		return change, failures
	}
	if content != before {
		if err := writeAtomic(g.abs, []byte(content)); err != nil {
			return change, append(failures, failAllApplied(g, failures, err)...)
		}
	}
	change.Applied = done
	change.DiffStat = diffStat(g.path, before, content)
	return change, failures
}

// failAllApplied reports the edits that matched but could not be written.
func failAllApplied(g *fileEdits, failed []toolwire.ItemError, err error) []toolwire.ItemError {
	var out []toolwire.ItemError
	for _, e := range g.edits {
		if slices.ContainsFunc(failed, func(f toolwire.ItemError) bool { return f.Index == e.index }) {
			continue
		}
		out = append(out, toolwire.ItemError{Index: e.index, Location: g.path, Message: "write failed: " + err.Error()})
	}
	return out
}

func replace(content string, e edit) (string, error) {
	if e.oldString == "" {
		return "", errors.New("old_string is empty")
	}
	if e.oldString == e.newString {
		return "", errors.New("old_string and new_string are identical")
	}
	n := strings.Count(content, e.oldString)
	switch {
	case n == 0:
		return "", fmt.Errorf("old_string not found: %q", preview(e.oldString))
	case n > 1 && !e.replaceAll:
		return "", fmt.Errorf("old_string matches %d times; add surrounding context or set replace_all", n)
	case e.replaceAll:
		return strings.ReplaceAll(content, e.oldString, e.newString), nil
	default:
		return strings.Replace(content, e.oldString, e.newString, 1), nil
	}
}

func preview(s string) string {
	const limit = 60
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

// diffStat renders a unified diff of the change and counts changed lines.
func diffStat(name, before, after string) DiffStat {
	if before == after {
		return DiffStat{}
	}
	name = strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(name)), "/")
	if name == "" {
		name = "file"
	}
	diff := udiff.Unified("a/"+name, "b/"+name, before, after)
	var st DiffStat
	st.Diff = diff
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			st.Additions++
		case strings.HasPrefix(line, "-"):
			st.Removals++
		}
	}
	return st
}
