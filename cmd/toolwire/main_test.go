package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/skosovsky/toolwire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const transcript = `I'll update the greeting and list the Go files.
<multi_replace><edits>
<edit><path>hello.txt</path><old_string>hello</old_string><new_string>goodbye</new_string></edit>
<edit><path>hello.txt</path><old_string>missing</old_string><new_string>x</new_string></edit>
</edits></multi_replace>
<find_files><pattern>**/*.go</pattern></find_files>
<read_file><path>../outside.txt</path></read_file>
Done.
<write_file><path>never.txt</path><content>unterminated`

// workspace creates a root with fixture files and a config pointing at it.
func workspace(t *testing.T, extra string) (root, cfgPath string) {
	t.Helper()
	root = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hello world\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "pkg", "a.go"), []byte("package pkg\n"), 0o644))

	cfgPath = filepath.Join(t.TempDir(), "toolwire.toml")
	body := fmt.Sprintf("[fs]\nroot = %q\n\n[log]\nlevel = \"error\"\n%s", root, extra)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o644))
	return root, cfgPath
}

func globals(cfgPath string, out io.Writer) *Globals {
	return &Globals{Config: cfgPath, Context: context.Background(), Out: out, Err: io.Discard}
}

func parseLines(t *testing.T, data []byte) []record {
	t.Helper()
	var out []record
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for sc.Scan() {
		var r record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r), sc.Text())
		out = append(out, r)
	}
	require.NoError(t, sc.Err())
	return out
}

func byType(records []record, typ string) []record {
	var out []record
	for _, r := range records {
		if r.Type == typ {
			out = append(out, r)
		}
	}
	return out
}

func TestCLI_Parse(t *testing.T) {
	var cli CLI
	parser, err := kong.New(&cli)
	require.NoError(t, err)

	_, err = parser.Parse([]string{"replay", "--chunk", "8", "--approval", "deny", "--previews", "session.txt"})
	require.NoError(t, err)
	assert.Equal(t, "session.txt", cli.Replay.Transcript)
	assert.Equal(t, 8, cli.Replay.Chunk)
	assert.Equal(t, "deny", cli.Replay.Approval)
	assert.True(t, cli.Replay.Previews)

	_, err = parser.Parse([]string{"tools", "--compact"})
	require.NoError(t, err)
	assert.True(t, cli.Tools.Compact)
}

func TestReplay(t *testing.T) {
	root, cfgPath := workspace(t, "")
	tr := filepath.Join(t.TempDir(), "transcript.txt")
	require.NoError(t, os.WriteFile(tr, []byte(transcript), 0o644))

	var buf bytes.Buffer
	cmd := &ReplayCmd{Transcript: tr, Chunk: 7}
	require.NoError(t, cmd.Run(globals(cfgPath, &buf)))

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "goodbye world\n", string(data))
	_, err = os.Stat(filepath.Join(root, "never.txt"))
	assert.ErrorIs(t, err, os.ErrNotExist, "unterminated blocks never run")

	records := parseLines(t, buf.Bytes())
	require.NotEmpty(t, records)
	submitted := byType(records, "submitted")
	require.Len(t, submitted, 3)
	assert.Equal(t, "multi_replace", submitted[0].Tool)
	assert.Equal(t, "find_files", submitted[1].Tool)
	assert.Equal(t, "read_file", submitted[2].Tool)
	discarded := byType(records, "discarded")
	require.Len(t, discarded, 1)
	assert.Equal(t, "write_file", discarded[0].Tool)
	assert.NotEmpty(t, byType(records, "text"))
	assert.Empty(t, byType(records, "preview"))

	summary := records[len(records)-1]
	assert.Equal(t, "summary", summary.Type)
	assert.Equal(t, map[string]int{"PartiallySucceeded": 1, "Succeeded": 1, "Failed": 1}, summary.States)

	final := map[string]toolwire.CallState{}
	for _, r := range byType(records, "event") {
		require.NotNil(t, r.Event)
		if r.Event.State.Final() {
			final[r.Event.ToolName] = r.Event.State
		}
	}
	assert.Equal(t, toolwire.StatePartiallySucceeded, final["multi_replace"])
	assert.Equal(t, toolwire.StateSucceeded, final["find_files"])
	assert.Equal(t, toolwire.StateFailed, final["read_file"])
}

func TestReplay_DenyDangerous(t *testing.T) {
	root, cfgPath := workspace(t, "")
	tr := filepath.Join(t.TempDir(), "transcript.txt")
	require.NoError(t, os.WriteFile(tr, []byte(transcript), 0o644))

	var buf bytes.Buffer
	cmd := &ReplayCmd{Transcript: tr, Approval: "deny-dangerous", Previews: true}
	require.NoError(t, cmd.Run(globals(cfgPath, &buf)))

	data, err := os.ReadFile(filepath.Join(root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))

	records := parseLines(t, buf.Bytes())
	assert.NotEmpty(t, byType(records, "preview"))
	summary := records[len(records)-1]
	assert.Equal(t, map[string]int{"Rejected": 1, "Succeeded": 1, "Failed": 1}, summary.States)
}

func TestReplay_Invalid(t *testing.T) {
	_, cfgPath := workspace(t, "")
	tr := filepath.Join(t.TempDir(), "transcript.txt")
	require.NoError(t, os.WriteFile(tr, []byte(`<read_file></read_file>`), 0o644))

	var buf bytes.Buffer
	require.NoError(t, (&ReplayCmd{Transcript: tr}).Run(globals(cfgPath, &buf)))
	records := parseLines(t, buf.Bytes())
	invalid := byType(records, "invalid")
	require.Len(t, invalid, 1)
	require.NotNil(t, invalid[0].Result)
	assert.Equal(t, toolwire.KindValidation, invalid[0].Result.Error.Kind)
	assert.Equal(t, "path", invalid[0].Result.Error.FieldPath)
}

func TestReplay_Errors(t *testing.T) {
	_, cfgPath := workspace(t, "")
	err := (&ReplayCmd{Transcript: filepath.Join(t.TempDir(), "missing.txt")}).Run(globals(cfgPath, io.Discard))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read transcript")

	tr := filepath.Join(t.TempDir(), "t.txt")
	require.NoError(t, os.WriteFile(tr, []byte("hi"), 0o644))
	err = (&ReplayCmd{Transcript: tr, Approval: "sometimes"}).Run(globals(cfgPath, io.Discard))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.approval")
}

func TestTools(t *testing.T) {
	_, cfgPath := workspace(t, "\n[web]\nenabled = true\n")
	var buf bytes.Buffer
	require.NoError(t, (&ToolsCmd{}).Run(globals(cfgPath, &buf)))

	var defs []toolwire.Definition
	require.NoError(t, json.Unmarshal(buf.Bytes(), &defs))
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
		assert.NotEmpty(t, d.Description)
		require.NotNil(t, d.Parameters)
	}
	assert.Equal(t, []string{"find_files", "multi_replace", "read_file", "web_fetch", "write_file"}, names)
}

func TestTools_ReadOnly(t *testing.T) {
	_, cfgPath := workspace(t, "")
	data, err := os.ReadFile(cfgPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cfgPath, bytes.Replace(data, []byte("[fs]\n"), []byte("[fs]\nread_only = true\n"), 1), 0o644))

	var buf bytes.Buffer
	require.NoError(t, (&ToolsCmd{Compact: true}).Run(globals(cfgPath, &buf)))
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("\n")), "compact output is one line")
	assert.Contains(t, buf.String(), `"read_file"`)
	assert.NotContains(t, buf.String(), `"write_file"`)
}

func TestVersion(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, VersionCmd{}.Run(&Globals{Out: &buf}))
	assert.Contains(t, buf.String(), "toolwire dev")
}

func TestChunks(t *testing.T) {
	assert.Equal(t, []string{"ab", "cd", "e"}, chunks("abcde", 2))
	assert.Equal(t, []string{"hé", "ll", "o"}, chunks("héllo", 2), "splits on runes")
	assert.Equal(t, []string{"a", "b"}, chunks("ab", 0))
	assert.Nil(t, chunks("", 3))
}
