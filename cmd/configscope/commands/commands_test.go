package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/configscope/pkg/stores"
)

const testSource = `def base(seed):
    port = 8000
    seed = seed + 1

def tuned(port):
    port = port + 1
`

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	telemetryPath, dbPath, verbose, jsonOutput = "", "", false, false

	var stdout, stderr bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestEval(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)
	fallback := writeFile(t, dir, "fallback.yaml", "seed: 1\n")

	stdout, stderr, err := execute(t, "eval", source, "--fallback", fallback, "--set", "port=10")
	require.NoError(t, err)

	assert.Contains(t, stdout, "port: 10\n")
	assert.Contains(t, stdout, "seed: 2\n")
	assert.Contains(t, stderr, "succeeded")
	assert.Contains(t, stderr, "base: wrote fallback-only keys [seed]")
	assert.Contains(t, stderr, "fixed keys kept [port]")
}

func TestEvalJSONAndHistory(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)
	db := filepath.Join(dir, "history.db")

	stdout, _, err := execute(t, "eval", source, "tuned", "--preset", writeFile(t, dir, "p.json", `{"port": 1}`),
		"--json", "--db", db)
	require.NoError(t, err)

	var report struct {
		RunID  string                 `json:"run_id"`
		Status string                 `json:"status"`
		Config map[string]interface{} `json:"config"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "succeeded", report.Status)
	assert.Equal(t, float64(2), report.Config["port"])

	stdout, _, err = execute(t, "history", "list", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, report.RunID)
	assert.Contains(t, stdout, "(1 runs)")

	stdout, _, err = execute(t, "history", "show", report.RunID, "--db", db)
	require.NoError(t, err)
	assert.Contains(t, stdout, "[0] tuned")

	_, _, err = execute(t, "history", "delete", report.RunID, "--db", db)
	require.NoError(t, err)
	_, _, err = execute(t, "history", "delete", report.RunID, "--db", db)
	assert.ErrorContains(t, err, "not found")
}

func TestEvalRejected(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)
	schema := writeFile(t, dir, "config.cue", "#Config: {port: <100, seed: int}\n")

	_, stderr, err := execute(t, "eval", source, "--preset", writeFile(t, dir, "p.yaml", "seed: 0\n"), "--schema", schema)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rejected")
	assert.Contains(t, stderr, "schema: port")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)

	stdout, _, err := execute(t, "validate", source)
	require.NoError(t, err)
	assert.Equal(t, []string{"base", "tuned"}, strings.Fields(stdout))

	_, _, err = execute(t, "validate", source, "missing")
	assert.Error(t, err)

	_, _, err = execute(t, "validate")
	assert.ErrorContains(t, err, "Source is required")
}

func TestRequestFile(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)
	reqFile := writeFile(t, dir, "request.yaml", "source: "+source+"\nentries: [tuned]\n")
	preset := writeFile(t, dir, "p.yaml", "port: 41\n")

	stdout, _, err := execute(t, "eval", "-f", reqFile, "--preset", preset)
	require.NoError(t, err)
	assert.Equal(t, "port: 42\n", stdout)
}

func TestHistoryRequiresDB(t *testing.T) {
	_, _, err := execute(t, "history", "list")
	assert.ErrorContains(t, err, "--db is required")
}

func TestRenderRuns(t *testing.T) {
	fp := "0123456789abcdef0123"
	var buf bytes.Buffer
	renderRuns(&buf, []*stores.Run{{
		ID:          "run-1",
		Source:      "config.star",
		Entries:     `["base"]`,
		Status:      stores.RunStatusSucceeded,
		Fingerprint: &fp,
		StartedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}})

	out := buf.String()
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "FINGERPRINT")
	assert.Contains(t, out, "run-1")
	assert.Contains(t, out, "0123456789ab")
	assert.NotContains(t, out, fp)
	assert.Contains(t, out, "(1 runs)")

	buf.Reset()
	renderRuns(&buf, nil)
	assert.Equal(t, "(0 runs)\n", buf.String())
}
