package policy

import (
	"context"
	"testing"

	"github.com/openfroyo/configscope/pkg/scope"
	"github.com/rs/zerolog"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func summary(entry string) *scope.Summary {
	return &scope.Summary{
		Entry:                 entry,
		Values:                map[string]interface{}{},
		AddedValues:           scope.NewKeySet(),
		Modified:              scope.NewKeySet(),
		TypeChanges:           map[string]scope.TypeChange{},
		IgnoredFallbackWrites: []string{},
	}
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	policies := eng.ListPolicies()
	want := []string{"blocked-overrides", "fallback-writes", "key-naming", "type-changes"}
	if len(policies) != len(want) {
		t.Fatalf("ListPolicies() returned %d policies, want %d", len(policies), len(want))
	}
	for i, p := range policies {
		if p.Name != want[i] {
			t.Errorf("policy %d = %s, want %s", i, p.Name, want[i])
		}
		if !p.Builtin || !p.Enabled {
			t.Errorf("policy %s should be an enabled built-in", p.Name)
		}
	}
}

func TestEvaluate_CleanChain(t *testing.T) {
	eng := newTestEngine(t)

	s := summary("base")
	s.AddedValues.Add("port")

	result, err := eng.Evaluate(context.Background(), &Input{
		Config:    map[string]interface{}{"port": int64(80), "name": "svc"},
		Summaries: []*scope.Summary{s},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if !result.Allowed {
		t.Error("clean chain should be allowed")
	}
	if n := len(result.All()); n != 0 {
		t.Errorf("expected no violations, got %d: %+v", n, result.All())
	}
	if len(result.EvaluatedPolicies) != 4 {
		t.Errorf("EvaluatedPolicies = %v", result.EvaluatedPolicies)
	}
}

func TestEvaluate_BuiltinFindings(t *testing.T) {
	eng := newTestEngine(t)

	base := summary("base")
	base.IgnoredFallbackWrites = []string{"seed"}
	base.TypeChanges["port"] = scope.TypeChange{Old: "int", New: "string"}

	override := summary("override")
	override.Modified.Add("db.host")

	result, err := eng.Evaluate(context.Background(), &Input{
		Config:    map[string]interface{}{"port": "80", "bad-key": true},
		Summaries: []*scope.Summary{base, override},
		Context:   &Context{Operation: "eval"},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if !result.Allowed {
		t.Error("built-in findings should not block")
	}
	if len(result.Violations) != 0 {
		t.Errorf("expected no blocking violations, got %+v", result.Violations)
	}

	got := make(map[string]Violation)
	for _, v := range result.Warnings {
		got[v.Policy] = v
	}

	tests := []struct {
		policy   string
		entry    string
		key      string
		severity Severity
	}{
		{"fallback-writes", "base", "seed", SeverityWarning},
		{"type-changes", "base", "port", SeverityWarning},
		{"blocked-overrides", "override", "db.host", SeverityInfo},
		{"key-naming", "", "bad-key", SeverityWarning},
	}
	for _, tt := range tests {
		v, ok := got[tt.policy]
		if !ok {
			t.Errorf("no violation from %s", tt.policy)
			continue
		}
		if v.Entry != tt.entry || v.Key != tt.key {
			t.Errorf("%s: entry/key = %s/%s, want %s/%s", tt.policy, v.Entry, v.Key, tt.entry, tt.key)
		}
		if v.Severity != tt.severity {
			t.Errorf("%s: severity = %s, want %s", tt.policy, v.Severity, tt.severity)
		}
		if v.Message == "" {
			t.Errorf("%s: empty message", tt.policy)
		}
	}

	if tc := got["type-changes"]; tc.Details["old"] != "int" || tc.Details["new"] != "string" {
		t.Errorf("type-changes details = %v", tc.Details)
	}
}

func TestAddPolicy_Blocking(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{
		Name:     "max-replicas",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package acme.replicas

import rego.v1

deny contains v if {
	input.config.replicas > 10
	v := {"message": sprintf("replicas %d exceeds 10", [input.config.replicas]), "key": "replicas"}
}
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	tests := []struct {
		name     string
		replicas int64
		allowed  bool
	}{
		{"within limit", 3, true},
		{"over limit", 12, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), &Input{
				Config: map[string]interface{}{"replicas": tt.replicas},
			})
			if err != nil {
				t.Fatalf("Evaluate() error = %v", err)
			}
			if result.Allowed != tt.allowed {
				t.Errorf("Allowed = %v, want %v", result.Allowed, tt.allowed)
			}
			if !tt.allowed {
				if len(result.Violations) != 1 || result.Violations[0].Key != "replicas" {
					t.Errorf("Violations = %+v", result.Violations)
				}
			}
		})
	}
}

func TestAddPolicy_StringMessagesAndSeverityOverride(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{
		Name:    "mixed",
		Enabled: true,
		Rego: `package acme.mixed

import rego.v1

deny contains "plain message" if input.config.a

deny contains {"message": "escalated", "severity": "critical"} if input.config.b
`,
	})
	if err != nil {
		t.Fatalf("AddPolicy() error = %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{
		Config: map[string]interface{}{"a": true, "b": true},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}

	if result.Allowed {
		t.Error("critical violation should block")
	}
	if len(result.Violations) != 1 || result.Violations[0].Message != "escalated" {
		t.Errorf("Violations = %+v", result.Violations)
	}
	if len(result.Warnings) != 1 || result.Warnings[0].Message != "plain message" {
		t.Errorf("Warnings = %+v", result.Warnings)
	}
}

func TestAddPolicy_Invalid(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.AddPolicy(context.Background(), Policy{Name: "broken", Rego: "package x\n\ndeny contains"})
	if err == nil {
		t.Fatal("expected compile error")
	}
	if _, err := eng.GetPolicy("broken"); err == nil {
		t.Error("broken policy should not be registered")
	}
}

func TestEnableDisablePolicy(t *testing.T) {
	eng := newTestEngine(t)

	if err := eng.DisablePolicy("key-naming"); err != nil {
		t.Fatalf("DisablePolicy() error = %v", err)
	}

	result, err := eng.Evaluate(context.Background(), &Input{
		Config: map[string]interface{}{"bad-key": 1},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(result.Warnings) != 0 {
		t.Errorf("disabled policy produced warnings: %+v", result.Warnings)
	}

	if err := eng.EnablePolicy("key-naming"); err != nil {
		t.Fatalf("EnablePolicy() error = %v", err)
	}
	p, err := eng.GetPolicy("key-naming")
	if err != nil || !p.Enabled {
		t.Errorf("GetPolicy() = %+v, %v", p, err)
	}

	if err := eng.DisablePolicy("missing"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestReplacePoliciesKeepsBuiltins(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	custom := Policy{Name: "custom", Enabled: true, Severity: SeverityWarning, Rego: "package c\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"}
	if err := eng.ReplacePolicies(ctx, []Policy{custom}); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}
	if len(eng.ListPolicies()) != 5 {
		t.Errorf("expected 5 policies, got %d", len(eng.ListPolicies()))
	}

	if err := eng.ReplacePolicies(ctx, nil); err != nil {
		t.Fatalf("ReplacePolicies() error = %v", err)
	}
	if _, err := eng.GetPolicy("custom"); err == nil {
		t.Error("custom policy should have been removed")
	}
	if len(eng.ListPolicies()) != 4 {
		t.Errorf("expected built-ins to remain, got %d", len(eng.ListPolicies()))
	}

	// A failing set leaves the engine untouched.
	if err := eng.ReplacePolicies(ctx, []Policy{custom, {Name: "bad", Rego: "not rego"}}); err == nil {
		t.Error("expected compile error")
	}
	if _, err := eng.GetPolicy("custom"); err == nil {
		t.Error("partial replacement should not be applied")
	}
}

func TestEvaluate_CancelledContext(t *testing.T) {
	eng := newTestEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := eng.Evaluate(ctx, &Input{}); err == nil {
		t.Error("expected context error")
	}
}
