package layers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDecodeFormats(t *testing.T) {
	want := map[string]interface{}{
		"name":  "svc",
		"port":  int64(8080),
		"ratio": 0.5,
		"tags":  []interface{}{"a", "b"},
		"db":    map[string]interface{}{"host": "localhost"},
	}

	tests := []struct {
		file    string
		content string
	}{
		{"layer.yaml", "name: svc\nport: 8080\nratio: 0.5\ntags: [a, b]\ndb:\n  host: localhost\n"},
		{"layer.yml", "name: svc\nport: 8080\nratio: 0.5\ntags: [a, b]\ndb: {host: localhost}\n"},
		{"layer.json", `{"name": "svc", "port": 8080, "ratio": 0.5, "tags": ["a", "b"], "db": {"host": "localhost"}}`},
		{"layer.cue", "name: \"svc\"\nport: 8000 + 80\nratio: 0.5\ntags: [\"a\", \"b\"]\ndb: host: \"localhost\"\n"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			got, err := Decode(tt.file, []byte(tt.content))
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unknown extension", "layer.toml", "a = 1"},
		{"top-level list", "layer.yaml", "- a\n- b\n"},
		{"bad json", "layer.json", "{"},
		{"non-string keys", "layer.yaml", "1: one\n"},
		{"open cue", "layer.cue", "port: int\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.file, []byte(tt.content))
			assert.Error(t, err)
		})
	}
}

func TestDecodeEmpty(t *testing.T) {
	got, err := Decode("empty.yaml", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLoadFilesMerges(t *testing.T) {
	dir := t.TempDir()
	a := write(t, dir, "a.yaml", "db:\n  host: a\n  port: 1\nmode: a\n")
	b := write(t, dir, "b.json", `{"db": {"host": "b"}, "extra": [1]}`)

	got, err := LoadFiles([]string{a, b})
	require.NoError(t, err)

	want := map[string]interface{}{
		"db":    map[string]interface{}{"host": "b", "port": int64(1)},
		"mode":  "a",
		"extra": []interface{}{int64(1)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadFiles() mismatch (-want +got):\n%s", diff)
	}

	_, err = LoadFiles([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)
}

func TestMergeReplacesNonMappings(t *testing.T) {
	dst := map[string]interface{}{"a": map[string]interface{}{"x": int64(1)}, "b": int64(1)}
	src := map[string]interface{}{"a": int64(2), "b": map[string]interface{}{"y": int64(2)}}

	Merge(dst, src)

	assert.Equal(t, int64(2), dst["a"])
	assert.Equal(t, map[string]interface{}{"y": int64(2)}, dst["b"])

	// dst holds a copy.
	src["b"].(map[string]interface{})["y"] = int64(3)
	assert.Equal(t, int64(2), dst["b"].(map[string]interface{})["y"])
}

func TestParseAssignments(t *testing.T) {
	got, err := ParseAssignments([]string{
		"port=8080",
		"debug=true",
		"name=svc",
		"ratio=0.25",
		"db.host=localhost",
		"db.pool.size=4",
		"tags=[a, b]",
		"empty=",
		"quoted='42'",
		"db.pool={max: 8}",
	})
	require.NoError(t, err)

	want := map[string]interface{}{
		"port":   int64(8080),
		"debug":  true,
		"name":   "svc",
		"ratio":  0.25,
		"tags":   []interface{}{"a", "b"},
		"empty":  "",
		"quoted": "42",
		"db": map[string]interface{}{
			"host": "localhost",
			"pool": map[string]interface{}{"size": int64(4), "max": int64(8)},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseAssignments() mismatch (-want +got):\n%s", diff)
	}
}

func TestParseAssignmentsErrors(t *testing.T) {
	tests := []struct {
		name string
		sets []string
	}{
		{"missing equals", []string{"port"}},
		{"invalid key", []string{"1port=1"}},
		{"private key", []string{"_secret=1"}},
		{"empty segment", []string{"db..host=x"}},
		{"scalar parent", []string{"db=1", "db.host=x"}},
		{"bad yaml", []string{"tags=[a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAssignments(tt.sets)
			assert.Error(t, err)
		})
	}
}

func TestParseEntryRef(t *testing.T) {
	ref, err := ParseEntryRef("base")
	require.NoError(t, err)
	assert.Equal(t, EntryRef{Function: "base"}, ref)

	ref, err = ParseEntryRef("@overrides.yaml")
	require.NoError(t, err)
	assert.Equal(t, EntryRef{Literal: "overrides.yaml"}, ref)

	for _, bad := range []string{"", "@", "two words", "9lives"} {
		_, err := ParseEntryRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestRequestValidate(t *testing.T) {
	dir := t.TempDir()
	source := write(t, dir, "config.star", "def base():\n    a = 1\n")
	layer := write(t, dir, "fixed.yaml", "a: 2\n")

	valid := Request{
		Source:  source,
		Entries: []string{"base", "@" + layer},
		Fixed:   []string{layer},
		Set:     []string{"a=3"},
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Request)
		want   string
	}{
		{"missing source", func(r *Request) { r.Source = "" }, "Source is required"},
		{"source not found", func(r *Request) { r.Source = filepath.Join(dir, "nope.star") }, "does not exist"},
		{"bad entry", func(r *Request) { r.Entries = []string{"not valid"} }, "Entries[0]"},
		{"missing layer", func(r *Request) { r.Preset = []string{filepath.Join(dir, "nope.yaml")} }, "Preset[0]"},
		{"bad assignment", func(r *Request) { r.Set = []string{"novalue"} }, "Set[0]"},
		{"missing schema", func(r *Request) { r.Schema = filepath.Join(dir, "nope.cue") }, "Schema"},
		{"negative timeout", func(r *Request) { r.Timeout = -time.Second }, "Timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			err := req.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRequestLayers(t *testing.T) {
	dir := t.TempDir()
	req := Request{
		Fixed:    []string{write(t, dir, "fixed.yaml", "db:\n  host: prod\n")},
		Preset:   []string{write(t, dir, "preset.json", `{"port": 80}`)},
		Fallback: []string{write(t, dir, "fallback.yaml", "seed: 7\n")},
		Set:      []string{"db.port=5432"},
	}

	got, err := req.Layers()
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{"db": map[string]interface{}{"host": "prod", "port": int64(5432)}}, got.Fixed)
	assert.Equal(t, map[string]interface{}{"port": int64(80)}, got.Preset)
	assert.Equal(t, map[string]interface{}{"seed": int64(7)}, got.Fallback)
}

func TestLoadRequest(t *testing.T) {
	dir := t.TempDir()
	path := write(t, dir, "run.yaml", `
source: config.star
entries: [base, "@local.yaml"]
set: ["port=81"]
strip_fallback_writes: true
max_steps: 10000
timeout: 2s
`)

	req, err := LoadRequest(path)
	require.NoError(t, err)
	assert.Equal(t, "config.star", req.Source)
	assert.Equal(t, []string{"base", "@local.yaml"}, req.Entries)
	assert.Equal(t, []string{"port=81"}, req.Set)
	assert.True(t, req.StripFallbackWrites)
	assert.Equal(t, uint64(10000), req.MaxSteps)
	assert.Equal(t, 2*time.Second, req.Timeout)
}
