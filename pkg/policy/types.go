package policy

import (
	"sort"
	"time"

	"github.com/openfroyo/configscope/pkg/scope"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed.
	SeverityWarning Severity = "warning"

	// SeverityError is for errors that should block the configuration.
	SeverityError Severity = "error"

	// SeverityCritical is for critical violations that must be addressed immediately.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether violations of this severity reject a
// configuration.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name" yaml:"name"`

	// Description provides a human-readable description.
	Description string `json:"description" yaml:"description"`

	// Rego contains the Rego policy code. Violations are the members of the
	// module's deny set.
	Rego string `json:"rego" yaml:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity" yaml:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Builtin marks policies shipped with the engine.
	Builtin bool `json:"builtin,omitempty" yaml:"-"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Violation represents a single policy violation.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Entry is the config entry the violation refers to, if any.
	Entry string `json:"entry,omitempty"`

	// Key is the configuration key the violation refers to, if any.
	Key string `json:"key,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`

	// Details contains additional violation details.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Result represents the result of policy evaluation.
type Result struct {
	// Allowed is false when any violation has a blocking severity.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists violations that don't block the configuration.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// All returns blocking violations followed by warnings.
func (r *Result) All() []Violation {
	out := make([]Violation, 0, len(r.Violations)+len(r.Warnings))
	out = append(out, r.Violations...)
	return append(out, r.Warnings...)
}

// Input is the document policies are evaluated against.
type Input struct {
	// Config is the final configuration of a chain.
	Config map[string]interface{} `json:"config"`

	// Summaries holds one summary per evaluated entry.
	Summaries []*scope.Summary `json:"summaries"`

	// Context provides additional evaluation context.
	Context *Context `json:"context,omitempty"`
}

// Context provides context information for policy evaluation.
type Context struct {
	// Environment is the environment (e.g., "production", "staging").
	Environment string `json:"environment,omitempty"`

	// Source is the config file the chain was loaded from.
	Source string `json:"source,omitempty"`

	// Operation is the operation being performed (e.g., "eval", "validate").
	Operation string `json:"operation,omitempty"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}

// document converts the input into the plain value tree handed to Rego.
func (in *Input) document() map[string]interface{} {
	summaries := make([]interface{}, 0, len(in.Summaries))
	for _, s := range in.Summaries {
		typechanges := make(map[string]interface{}, len(s.TypeChanges))
		for k, tc := range s.TypeChanges {
			typechanges[k] = map[string]interface{}{"old": tc.Old, "new": tc.New}
		}
		summaries = append(summaries, map[string]interface{}{
			"entry":                   s.Entry,
			"added_values":            stringList(s.AddedValues.Sorted()),
			"modified":                stringList(s.Modified.Sorted()),
			"typechanges":             typechanges,
			"ignored_fallback_writes": stringList(s.IgnoredFallbackWrites),
		})
	}

	doc := map[string]interface{}{
		"config":    scope.CopyMap(in.Config),
		"summaries": summaries,
	}
	if in.Context != nil {
		doc["context"] = map[string]interface{}{
			"environment": in.Context.Environment,
			"source":      in.Context.Source,
			"operation":   in.Context.Operation,
			"timestamp":   in.Context.Timestamp.Format(time.RFC3339),
		}
	}
	return doc
}

func stringList(keys []string) []interface{} {
	out := make([]interface{}, len(keys))
	for i, k := range keys {
		out[i] = k
	}
	return out
}

func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		if vs[i].Policy != vs[j].Policy {
			return vs[i].Policy < vs[j].Policy
		}
		if vs[i].Entry != vs[j].Entry {
			return vs[i].Entry < vs[j].Entry
		}
		return vs[i].Key < vs[j].Key
	})
}
