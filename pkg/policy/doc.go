// Package policy provides Open Policy Agent (OPA) checks for evaluated
// configurations.
//
// Policies are Rego modules whose deny set lists violations. They are
// evaluated against a document holding the final configuration and the
// per-entry summaries of a chain:
//
//	{
//	  "config": {...},
//	  "summaries": [
//	    {"entry": "base", "added_values": [...], "modified": [...],
//	     "typechanges": {"k": {"old": "int", "new": "float"}},
//	     "ignored_fallback_writes": [...]}
//	  ],
//	  "context": {"environment": "...", "source": "...", "operation": "..."}
//	}
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, &policy.Input{
//	    Config:    chain.Config,
//	    Summaries: chain.Summaries,
//	})
//
// # Writing policies
//
// A deny member is either a string or an object. Object members may carry
// "message", "severity", "entry" and "key"; other fields land in the
// violation's Details.
//
//	package acme.config
//
//	import rego.v1
//
//	deny contains v if {
//	    input.config.replicas > 10
//	    v := {"message": "too many replicas", "key": "replicas", "severity": "error"}
//	}
//
// Policies may also be JSON or YAML definitions with name, description,
// severity and rego fields. Violations with severity error or critical
// make Result.Allowed false.
//
// # Built-in policies
//
//   - fallback-writes: assignments to fallback-only names (warning)
//   - blocked-overrides: attempts to change fixed values (info)
//   - type-changes: keys rebound to another type (warning)
//   - key-naming: top-level keys that are not identifiers (warning)
//
// Engine.Watch reloads file-based policies through fsnotify when they
// change. Built-in policies are never replaced.
package policy
