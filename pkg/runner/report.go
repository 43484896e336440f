package runner

import (
	"time"

	"github.com/openfroyo/configscope/pkg/policy"
	"github.com/openfroyo/configscope/pkg/schema"
	"github.com/openfroyo/configscope/pkg/scope"
	"github.com/openfroyo/configscope/pkg/stores"
)

// Report is the outcome of one run.
type Report struct {
	RunID       string                 `json:"run_id"`
	Source      string                 `json:"source"`
	Entries     []string               `json:"entries"`
	Status      stores.RunStatus       `json:"status"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Fingerprint string                 `json:"fingerprint,omitempty"`
	Summaries   []*scope.Summary       `json:"summaries,omitempty"`

	// Stripped lists fallback-only writes removed from Config.
	Stripped []string `json:"stripped,omitempty"`

	SchemaViolations []schema.Violation `json:"schema_violations,omitempty"`
	Policy           *policy.Result     `json:"policy,omitempty"`

	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`

	recorded bool
}

// Accepted reports whether the run produced a configuration that passed
// every check.
func (r *Report) Accepted() bool {
	return r.Status == stores.RunStatusSucceeded
}

// StripIgnoredFallbackWrites deletes from config every top-level key that
// an entry wrote while the name was only provided by the fallback layer,
// unless fixed holds it. It returns the removed keys, sorted.
func StripIgnoredFallbackWrites(config, fixed map[string]interface{}, summaries []*scope.Summary) []string {
	removed := scope.NewKeySet()
	for _, s := range summaries {
		for _, key := range s.IgnoredFallbackWrites {
			if _, ok := fixed[key]; ok {
				continue
			}
			if _, ok := config[key]; ok {
				delete(config, key)
				removed.Add(key)
			}
		}
	}
	return removed.Sorted()
}
