package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "hitstore", cmd.Use)
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"serve", "insert", "list", "get", "count", "first", "last", "purge", "retry", "rewrite", "export", "flush"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("backend"))
}

// run executes the CLI against dataDir and returns stdout.
func run(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--data-dir", dataDir}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestInvalidFormat(t *testing.T) {
	_, err := run(t, t.TempDir(), "--format", "xml", "count")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRewriteCommand(t *testing.T) {
	out, err := run(t, t.TempDir(), "rewrite", "--olt", "1700000000.000000", "https://h.example.com/p?ts=1&cn=wifi")
	require.NoError(t, err)
	assert.Equal(t, "https://h.example.com/p?ts=1&olt=1700000000.000000&cn=offline\n", out)
}

func TestInsertCountListPurge(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "insert", "--olt", "1700000000.000000", "https://h.example.com/p?ts=1&cn=wifi")
	require.NoError(t, err)
	hit := strings.TrimSpace(out)
	assert.Equal(t, "https://h.example.com/p?ts=1&olt=1700000000.000000&cn=offline", hit)

	// Same raw hit and origin time: deduplicated.
	_, err = run(t, dir, "insert", "--olt", "1700000000.000000", "https://h.example.com/p?ts=1&cn=wifi")
	require.NoError(t, err)

	out, err = run(t, dir, "count")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	out, err = run(t, dir, "--format", "json", "list")
	require.NoError(t, err)
	var listed []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, hit, listed[0]["url"])
	assert.Equal(t, true, listed[0]["is_offline"])

	_, err = run(t, dir, "retry", hit, "2")
	require.NoError(t, err)
	out, err = run(t, dir, "first")
	require.NoError(t, err)
	assert.Contains(t, out, "retries=2")

	_, err = run(t, dir, "purge")
	assert.Error(t, err, "purge without a selector is refused")

	out, err = run(t, dir, "--format", "json", "purge", "--hit", "https://h.example.com/missing")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": 0}`, out)

	out, err = run(t, dir, "purge", "--hit", hit)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, dir, "insert", "https://h.example.com/p?s=2")
	require.NoError(t, err)
	out, err = run(t, dir, "purge", "--all")
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)

	_, err = run(t, dir, "last")
	assert.ErrorIs(t, err, errNotFound)
}

func TestExportCommand(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, dir, "insert", "https://h.example.com/p?s=1")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "hits.parquet")
	out, err := run(t, dir, "export", "--out", dest)
	require.NoError(t, err)
	assert.Equal(t, "1\n", out)
	assert.FileExists(t, dest)
}
