package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const medJSONL = `{"id":"A","text":"복식호흡의 기초","metadata":{"title":"breathing"}}
{"id":"B","text":"마음챙김 기초"}

{"text":"걷기 명상"}
`

// cliEnv isolates a test from the user's home and config and points storage
// at a sqlite catalog in a temp dir. It returns the --config-dir to use.
func cliEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	dir := t.TempDir()
	cfg := "storage:\n  backend: sqlite\n  path: " + filepath.Join(dir, "data") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".woochi.yaml"), []byte(cfg), 0o644))
	return dir
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCLI executes the root command and returns stdout.
func runCLI(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	stdout := new(bytes.Buffer)
	cmd.SetOut(stdout)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--config-dir", dir}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func ingestMed(t *testing.T, dir string) {
	t.Helper()
	_, err := runCLI(t, dir, "ingest", "meditation_recursive", writeFile(t, "med.jsonl", medJSONL))
	require.NoError(t, err)
}
