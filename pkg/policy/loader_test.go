package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const replicasRego = `# Limits the replica count.
# Applies to every environment.
package acme.replicas

import rego.v1

deny contains v if {
	input.config.replicas > 10
	v := {"message": "too many replicas", "key": "replicas"}
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
}

func TestLoadFromFile_Rego(t *testing.T) {
	loader := NewLoader(zerolog.Nop())

	policyFile := filepath.Join(t.TempDir(), "replicas.rego")
	writeFile(t, policyFile, replicasRego)

	policy, err := loader.loadFromFile(context.Background(), policyFile)
	if err != nil {
		t.Fatalf("Failed to load policy: %v", err)
	}

	if policy.Name != "replicas" {
		t.Errorf("Expected name 'replicas', got '%s'", policy.Name)
	}
	if policy.Description != "Limits the replica count. Applies to every environment." {
		t.Errorf("Description = %q", policy.Description)
	}
	if policy.Rego != replicasRego {
		t.Error("Rego content doesn't match")
	}
	if !policy.Enabled || policy.Severity != SeverityWarning {
		t.Errorf("unexpected defaults: enabled=%v severity=%s", policy.Enabled, policy.Severity)
	}
	if policy.Metadata["source"] != policyFile {
		t.Errorf("source metadata = %v", policy.Metadata["source"])
	}
}

func TestLoadFromFile_Definitions(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    Severity
		enabled bool
		wantErr bool
	}{
		{
			name:    "json",
			file:    "limits.json",
			content: `{"name": "limits", "severity": "error", "rego": "package limits\n"}`,
			want:    SeverityError,
			enabled: true,
		},
		{
			name:    "yaml",
			file:    "limits.yaml",
			content: "name: limits\nenabled: false\nrego: |\n  package limits\n",
			want:    SeverityWarning,
			enabled: false,
		},
		{
			name:    "missing name",
			file:    "anon.yml",
			content: "rego: package x\n",
			wantErr: true,
		},
		{
			name:    "missing rego",
			file:    "empty.json",
			content: `{"name": "empty"}`,
			wantErr: true,
		},
		{
			name:    "malformed",
			file:    "bad.json",
			content: `{"name":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := NewLoader(zerolog.Nop())
			path := filepath.Join(t.TempDir(), tt.file)
			writeFile(t, path, tt.content)

			policy, err := loader.loadFromFile(context.Background(), path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadFromFile() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if policy.Severity != tt.want {
				t.Errorf("Severity = %s, want %s", policy.Severity, tt.want)
			}
			if policy.Enabled != tt.enabled {
				t.Errorf("Enabled = %v, want %v", policy.Enabled, tt.enabled)
			}
		})
	}
}

func TestLoadFromDirectory(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "replicas.rego"), replicasRego)
	writeFile(t, filepath.Join(dir, "nested", "other.rego"), "package other\n")
	writeFile(t, filepath.Join(dir, "README.md"), "ignored")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths() error = %v", err)
	}
	if len(policies) != 2 {
		t.Errorf("expected 2 policies, got %d", len(policies))
	}
}

func TestLoadFromPaths_Missing(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{"/does/not/exist"}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestEngineLoadPolicies(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "replicas.json"), `{"name": "replicas", "severity": "error", "rego": "package acme.replicas\n\nimport rego.v1\n\ndeny contains \"too many\" if input.config.replicas > 10\n"}`)

	if err := eng.LoadPolicies(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{Config: map[string]interface{}{"replicas": int64(20)}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if result.Allowed || len(result.Violations) != 1 {
		t.Errorf("expected one blocking violation, got %+v", result)
	}
}

func TestEngineWatch(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "limit.rego")
	writeFile(t, path, "package acme.limit\n\nimport rego.v1\n\ndeny contains \"v1\" if input.config.x\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeFile(t, path, "package acme.limit\n\nimport rego.v1\n\ndeny contains \"v2\" if input.config.x\n")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := eng.Evaluate(ctx, &Input{Config: map[string]interface{}{"x": true}})
		if err != nil {
			t.Fatalf("Evaluate() error = %v", err)
		}
		for _, w := range result.Warnings {
			if w.Policy == "limit" && w.Message == "v2" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("policy change was not picked up")
}

func TestLoaderClearCache(t *testing.T) {
	loader := NewLoader(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "replicas.rego")
	writeFile(t, path, replicasRego)

	first, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}

	writeFile(t, path, "# Edited.\npackage acme.replicas\n")
	cached, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if cached != first {
		t.Error("expected the cached policy before ClearCache")
	}

	loader.ClearCache()
	fresh, err := loader.loadFromFile(context.Background(), path)
	if err != nil {
		t.Fatalf("loadFromFile() error = %v", err)
	}
	if fresh.Description != "Edited." {
		t.Errorf("Description = %q, want %q", fresh.Description, "Edited.")
	}
}

func TestEngineWatchDirectoryRename(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	oldPath := filepath.Join(dir, "team", "limit.rego")
	writeFile(t, oldPath, "package acme.limit\n\nimport rego.v1\n\ndeny contains \"v1\" if input.config.x\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := os.Rename(filepath.Join(dir, "team"), filepath.Join(dir, "renamed")); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		eng.loader.mu.RLock()
		_, stale := eng.loader.cache[oldPath]
		eng.loader.mu.RUnlock()
		if !stale {
			if _, err := eng.GetPolicy("limit"); err != nil {
				t.Errorf("policy lost after directory rename: %v", err)
			}
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Error("cache still holds the renamed directory's policy")
}

func TestEngineStopWatching(t *testing.T) {
	eng := newTestEngine(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "limit.rego")
	writeFile(t, path, "package acme.limit\n\nimport rego.v1\n\ndeny contains \"v1\" if input.config.x\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies() error = %v", err)
	}
	if err := eng.Watch(ctx, []string{dir}); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if err := eng.StopWatching(); err != nil {
		t.Fatalf("StopWatching() error = %v", err)
	}

	writeFile(t, path, "package acme.limit\n\nimport rego.v1\n\ndeny contains \"v2\" if input.config.x\n")
	time.Sleep(2 * reloadDelay)

	result, err := eng.Evaluate(ctx, &Input{Config: map[string]interface{}{"x": true}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for _, w := range result.Warnings {
		if w.Policy == "limit" && w.Message != "v1" {
			t.Errorf("policy reloaded after StopWatching: %q", w.Message)
		}
	}
}

func TestExtractDescription(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"# one\n# two\npackage x\n# later", "one two"},
		{"package x\n", ""},
		{"\n#\n# only\n\npackage x", "only"},
	}
	for _, tt := range tests {
		if got := extractDescription(tt.content); got != tt.want {
			t.Errorf("extractDescription(%q) = %q, want %q", tt.content, got, tt.want)
		}
	}
}
