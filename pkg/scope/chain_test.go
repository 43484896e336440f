package scope

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainLiteralThenScope(t *testing.T) {
	lit, err := NewLiteral(map[string]interface{}{"a": 1})
	require.NoError(t, err)
	sc := mustScope(t, "def cfg(a):\n    b = a * 2\n", "cfg")

	final, summaries, err := Chain([]Entry{lit, sc}, nil, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"a": int64(1), "b": int64(2)}, final)
	require.Len(t, summaries, 2)
	assert.Equal(t, []string{"a"}, summaries[0].AddedValues.Sorted())
	assert.Equal(t, []string{"b"}, summaries[1].AddedValues.Sorted())
}

func TestChainEmpty(t *testing.T) {
	final, summaries, err := Chain(nil,
		map[string]interface{}{"x": 1},
		map[string]interface{}{"x": 0, "y": 2},
		map[string]interface{}{"z": 3})
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"x": int64(1), "y": int64(2)}, final)
	assert.Empty(t, summaries)
}

func TestChainFixedThroughout(t *testing.T) {
	first := mustScope(t, "def first():\n    x = 1\n    y = 1\n", "first")
	second := mustScope(t, "def second(y):\n    x = 2\n    y = y + 1\n", "second")

	final, summaries, err := Chain([]Entry{first, second},
		map[string]interface{}{"x": 100}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"x": int64(100), "y": int64(2)}, final)
	assert.True(t, summaries[0].Modified.Has("x"))
	assert.True(t, summaries[1].Modified.Has("x"))
}

func TestChainLiteralKeepsPresetUnderFixedMapping(t *testing.T) {
	first, err := NewLiteral(map[string]interface{}{
		"y": map[string]interface{}{"q": 2},
	})
	require.NoError(t, err)
	second, err := NewLiteral(map[string]interface{}{"a": 1})
	require.NoError(t, err)

	final, summaries, err := Chain([]Entry{first, second},
		map[string]interface{}{"y": map[string]interface{}{"p": 1}}, nil, nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"a": int64(1),
		"y": map[string]interface{}{"p": int64(1), "q": int64(2)},
	}, final)
	assert.Equal(t, []string{"a"}, summaries[1].AddedValues.Sorted())
	assert.Empty(t, summaries[1].Modified)
}

func TestChainFoldMatchesManualEvaluation(t *testing.T) {
	entries := []Entry{
		mustScope(t, "def a():\n    n = 1\n    tags = ['a']\n", "a"),
		mustScope(t, "def b(n, tags):\n    n += 1\n    tags = tags + ['b']\n", "b"),
		mustScope(t, "def c(n):\n    total = n * 10\n", "c"),
	}
	fixed := map[string]interface{}{"env": "prod"}
	preset := map[string]interface{}{"seed": 7}

	final, summaries, err := Chain(entries, fixed, preset, nil)
	require.NoError(t, err)

	running := CopyMap(preset)
	for i, e := range entries {
		s, err := e.Evaluate(fixed, running, nil)
		require.NoError(t, err)
		assert.Equal(t, s.Values, summaries[i].Values)
		for k, v := range s.Values {
			running[k] = v
		}
	}
	assert.Equal(t, running, final)
	assert.Equal(t, int64(20), final["total"])
	assert.Equal(t, "prod", final["env"])
}

func TestChainError(t *testing.T) {
	ok := mustScope(t, "def ok():\n    a = 1\n", "ok")
	bad := mustScope(t, "def bad(missing):\n    b = missing\n", "bad")

	_, _, err := Chain([]Entry{ok, bad}, nil, nil, nil)
	require.Error(t, err)

	var chainErr *ChainError
	require.True(t, errors.As(err, &chainErr))
	assert.Equal(t, 1, chainErr.Index)
	assert.Equal(t, "bad", chainErr.Entry)
	assert.True(t, errors.Is(err, ErrUnresolvedParameter))
}

func TestChainDoesNotMutateInputs(t *testing.T) {
	sc := mustScope(t, "def cfg(y):\n    y.p = 100\n", "cfg")
	preset := map[string]interface{}{"y": map[string]interface{}{"p": 1}}

	_, _, err := Chain([]Entry{sc}, nil, preset, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, preset["y"].(map[string]interface{})["p"])
}

type recordingObserver struct {
	mu       sync.Mutex
	entries  []string
	statuses []string
	errors   []string
	added    int
}

func (r *recordingObserver) RecordEntry(entry, status string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	r.statuses = append(r.statuses, status)
}

func (r *recordingObserver) RecordProvenance(_ string, added, _, _, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added += added
}

func (r *recordingObserver) RecordError(class, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, class)
}

func TestChainEvaluatorObserver(t *testing.T) {
	obs := &recordingObserver{}
	c := NewChainEvaluator(WithObserver(obs))

	lit, err := NewLiteral(map[string]interface{}{"a": 1, "b": 2})
	require.NoError(t, err)
	bad := mustScope(t, "def bad():\n    c = 1 // 0\n", "bad")

	_, err = c.Evaluate(context.Background(), []Entry{lit}, Layers{})
	require.NoError(t, err)
	_, err = c.Evaluate(context.Background(), []Entry{lit, bad}, Layers{})
	require.Error(t, err)

	assert.Equal(t, []string{"literal", "literal", "bad"}, obs.entries)
	assert.Equal(t, []string{"succeeded", "succeeded", "failed"}, obs.statuses)
	assert.Equal(t, []string{string(KindExecution)}, obs.errors)
	assert.Equal(t, 4, obs.added)
}

func TestChainEvaluatorCancelled(t *testing.T) {
	lit, err := NewLiteral(map[string]interface{}{"a": 1})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = NewChainEvaluator().Evaluate(ctx, []Entry{lit}, Layers{})
	assert.ErrorIs(t, err, context.Canceled)
}
