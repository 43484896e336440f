package commands

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/configscope/pkg/layers"
)

func TestWatchPaths(t *testing.T) {
	req := &layers.Request{
		Source:   "config.star",
		Entries:  []string{"base", "@local.yaml"},
		Fixed:    []string{"fixed.yaml"},
		Preset:   []string{"preset.json"},
		Fallback: []string{"fallback.yaml"},
		Schema:   "config.cue",
		Policies: []string{"policies"},
	}

	assert.Equal(t, []string{
		"config.star", "local.yaml", "fixed.yaml", "preset.json", "fallback.yaml", "config.cue", "policies",
	}, paths(req))
}

func TestInputWatcherRelevant(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)
	writeFile(t, dir, "notes.txt", "")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policies", "team"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "policies-old"), 0o755))

	w, err := newInputWatcher([]string{source, filepath.Join(dir, "policies")})
	require.NoError(t, err)
	defer w.close()

	assert.True(t, w.relevant(source))
	assert.True(t, w.relevant(filepath.Join(dir, "policies", "limit.rego")))
	assert.True(t, w.relevant(filepath.Join(dir, "policies", "team", "limit.rego")))
	assert.False(t, w.relevant(filepath.Join(dir, "notes.txt")))
	assert.False(t, w.relevant(filepath.Join(dir, "policies-old", "limit.rego")))
}

func TestInputWatcherMissingPath(t *testing.T) {
	_, err := newInputWatcher([]string{filepath.Join(t.TempDir(), "missing.star")})
	assert.ErrorContains(t, err, "failed to stat")
}

func TestInputWatcherLoop(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)

	w, err := newInputWatcher([]string{source})
	require.NoError(t, err)
	defer w.close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var calls atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		// A sibling file in the watched directory must not trigger a run.
		_ = os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("draft"), 0o600)
		for i := 0; i < 3; i++ {
			_ = os.WriteFile(source, []byte(testSource+"\n"), 0o600)
			time.Sleep(20 * time.Millisecond)
		}
	}()

	require.NoError(t, w.loop(ctx, func() {
		calls.Add(1)
		cancel()
	}))
	<-done

	assert.Equal(t, int32(1), calls.Load())
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestInputWatcherLoopIgnoresUnrelated(t *testing.T) {
	dir := t.TempDir()
	source := writeFile(t, dir, "config.star", testSource)

	w, err := newInputWatcher([]string{source})
	require.NoError(t, err)
	defer w.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*rerunDelay)
	defer cancel()

	var calls atomic.Int32
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("draft"), 0o600))

	require.NoError(t, w.loop(ctx, func() { calls.Add(1) }))
	assert.Zero(t, calls.Load())
}
