package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		fallbackWritesPolicy(),
		blockedOverridesPolicy(),
		typeChangesPolicy(),
		keyNamingPolicy(),
	}
}

func builtin(name, description string, severity Severity, tags []string, src string) Policy {
	now := time.Now()
	return Policy{
		Name:        name,
		Description: description,
		Severity:    severity,
		Enabled:     true,
		Builtin:     true,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
		Rego:        src,
	}
}

// fallbackWritesPolicy reports entries that assigned to names only the
// fallback layer provides. Those writes never reach the result.
func fallbackWritesPolicy() Policy {
	return builtin("fallback-writes",
		"Reports writes to fallback-only names, which are discarded",
		SeverityWarning,
		[]string{"provenance"},
		`package configscope.policies.fallback

import rego.v1

deny contains violation if {
	some summary in input.summaries
	some key in summary.ignored_fallback_writes
	violation := {
		"message": sprintf("entry %s assigned to fallback-only name %s; the value was discarded", [summary.entry, key]),
		"entry": summary.entry,
		"key": key,
	}
}
`)
}

// blockedOverridesPolicy reports attempts to change a fixed value.
func blockedOverridesPolicy() Policy {
	return builtin("blocked-overrides",
		"Reports assignments that tried to change a fixed value",
		SeverityInfo,
		[]string{"provenance"},
		`package configscope.policies.overrides

import rego.v1

deny contains violation if {
	some summary in input.summaries
	some key in summary.modified
	violation := {
		"message": sprintf("entry %s tried to override fixed value %s", [summary.entry, key]),
		"entry": summary.entry,
		"key": key,
	}
}
`)
}

// typeChangesPolicy reports keys whose type changed during evaluation.
func typeChangesPolicy() Policy {
	return builtin("type-changes",
		"Reports config keys rebound to a value of a different type",
		SeverityWarning,
		[]string{"types"},
		`package configscope.policies.types

import rego.v1

deny contains violation if {
	some summary in input.summaries
	some key, change in summary.typechanges
	violation := {
		"message": sprintf("entry %s changed the type of %s from %s to %s", [summary.entry, key, change.old, change.new]),
		"entry": summary.entry,
		"key": key,
		"old": change.old,
		"new": change.new,
	}
}
`)
}

// keyNamingPolicy reports top-level keys that config bodies cannot refer to
// by name.
func keyNamingPolicy() Policy {
	return builtin("key-naming",
		"Top-level config keys should be valid identifiers",
		SeverityWarning,
		[]string{"naming", "conventions"},
		`package configscope.policies.naming

import rego.v1

deny contains violation if {
	some key, _ in input.config
	not regex.match("^[A-Za-z_][A-Za-z0-9_]*$", key)
	violation := {
		"message": sprintf("config key '%s' is not an identifier and cannot be referenced from a config function", [key]),
		"key": key,
	}
}
`)
}
