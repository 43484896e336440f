package schema

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const appSchema = `
#Config: {
	name:  string
	port:  int & >0 & <65536
	debug: bool | *false
	db?: {
		host: string
		pool: int | *4
	}
}
`

func TestRegistryValidate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("app", appSchema); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	tests := []struct {
		name     string
		data     map[string]interface{}
		wantErr  bool
		wantPath string
	}{
		{
			name: "valid",
			data: map[string]interface{}{"name": "svc", "port": int64(8080)},
		},
		{
			name: "valid nested",
			data: map[string]interface{}{
				"name": "svc",
				"port": int64(80),
				"db":   map[string]interface{}{"host": "localhost", "pool": int64(2)},
			},
		},
		{
			name:     "port out of range",
			data:     map[string]interface{}{"name": "svc", "port": int64(70000)},
			wantErr:  true,
			wantPath: "port",
		},
		{
			name:     "wrong type",
			data:     map[string]interface{}{"name": "svc", "port": "80"},
			wantErr:  true,
			wantPath: "port",
		},
		{
			name: "nested field",
			data: map[string]interface{}{
				"name": "svc",
				"port": int64(80),
				"db":   map[string]interface{}{"host": "localhost", "pool": "many"},
			},
			wantErr:  true,
			wantPath: "db.pool",
		},
		{
			name:    "missing required",
			data:    map[string]interface{}{"port": int64(80)},
			wantErr: true,
		},
		{
			name:    "unknown field",
			data:    map[string]interface{}{"name": "svc", "port": int64(80), "extra": true},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Validate(context.Background(), "app", tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr {
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("error %T is not a *ValidationError", err)
			}
			if len(verr.Violations) == 0 {
				t.Fatal("expected at least one violation")
			}
			if tt.wantPath == "" {
				return
			}
			for _, v := range verr.Violations {
				if v.Path == tt.wantPath {
					return
				}
			}
			t.Errorf("no violation at path %q in %+v", tt.wantPath, verr.Violations)
		})
	}
}

func TestRegistryWholeSchema(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("loose", `replicas: int`); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.Validate(context.Background(), "loose", map[string]interface{}{"replicas": int64(3)}); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := reg.Validate(context.Background(), "loose", map[string]interface{}{"replicas": 1.5}); err == nil {
		t.Error("expected error for float replicas")
	}
}

func TestRegistryUnknownSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Validate(context.Background(), "missing", map[string]interface{}{})
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Validate() error = %v, want not found", err)
	}
}

func TestRegisterInvalidSchema(t *testing.T) {
	reg := NewRegistry()
	err := reg.Register("broken", "#Config: {")
	if err == nil {
		t.Fatal("expected compile error")
	}
	if _, ok := reg.Get("broken"); ok {
		t.Error("broken schema should not be registered")
	}
}

func TestRegisterFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.cue")
	if err := os.WriteFile(path, []byte(appSchema), 0o600); err != nil {
		t.Fatal(err)
	}

	reg := NewRegistry()
	if err := reg.RegisterFile("app", path); err != nil {
		t.Fatalf("RegisterFile() error = %v", err)
	}

	err := reg.Validate(context.Background(), "app", map[string]interface{}{"name": "svc", "port": int64(0)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if verr.Violations[0].File == "" || verr.Violations[0].Line == 0 {
		t.Errorf("violation missing position: %+v", verr.Violations[0])
	}

	names := reg.List()
	if len(names) != 2 || names[0] != "app" || names[1] != "summary" {
		t.Errorf("List() = %v", names)
	}
}

func TestValidateSummary(t *testing.T) {
	reg := NewRegistry()

	good := map[string]interface{}{
		"entry":                   "base",
		"values":                  map[string]interface{}{"a": int64(1)},
		"added_values":            []interface{}{"a"},
		"modified":                []interface{}{},
		"typechanges":             map[string]interface{}{"b": map[string]interface{}{"old": "int", "new": "float"}},
		"ignored_fallback_writes": []interface{}{},
	}
	if err := reg.ValidateSummary(context.Background(), good); err != nil {
		t.Errorf("ValidateSummary() error = %v", err)
	}

	bad := map[string]interface{}{
		"entry":  "",
		"values": map[string]interface{}{},
	}
	if err := reg.ValidateSummary(context.Background(), bad); err == nil {
		t.Error("expected error for incomplete summary")
	}
}

func TestDecode(t *testing.T) {
	reg := NewRegistry()

	got, err := reg.Decode("layer.cue", []byte(`
name: "svc"
port: 8000 + 80
tags: ["a", "b"]
`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got["name"] != "svc" {
		t.Errorf("name = %v", got["name"])
	}
	if tags, ok := got["tags"].([]interface{}); !ok || len(tags) != 2 {
		t.Errorf("tags = %v", got["tags"])
	}

	if _, err := reg.Decode("open.cue", []byte(`port: int`)); err == nil {
		t.Error("expected error for non-concrete layer")
	}
}
