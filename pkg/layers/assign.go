package layers

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/configscope/pkg/scope"
)

// ParseAssignments turns "a.b=value" strings into a nested mapping. Values
// are read as YAML, so "3" is an int, "true" a bool and "[1, 2]" a list;
// an empty value is the empty string.
func ParseAssignments(assignments []string) (map[string]interface{}, error) {
	out := make(map[string]interface{})
	for _, a := range assignments {
		if err := assign(out, a); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func assign(out map[string]interface{}, assignment string) error {
	path, text, ok := strings.Cut(assignment, "=")
	if !ok {
		return fmt.Errorf("invalid assignment %q: expected key=value", assignment)
	}

	keys := strings.Split(strings.TrimSpace(path), ".")
	if err := scope.ValidateKey(keys[0]); err != nil {
		return fmt.Errorf("invalid assignment %q: %w", assignment, err)
	}
	for _, k := range keys[1:] {
		if k == "" {
			return fmt.Errorf("invalid assignment %q: empty key segment", assignment)
		}
	}

	value, err := parseValue(text)
	if err != nil {
		return fmt.Errorf("invalid assignment %q: %w", assignment, err)
	}

	m := out
	for i, k := range keys[:len(keys)-1] {
		next, exists := m[k]
		if !exists {
			child := make(map[string]interface{})
			m[k] = child
			m = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return fmt.Errorf("invalid assignment %q: %s is not a mapping", assignment, strings.Join(keys[:i+1], "."))
		}
		m = child
	}

	last := keys[len(keys)-1]
	if sm, ok := value.(map[string]interface{}); ok {
		if dm, ok := m[last].(map[string]interface{}); ok {
			Merge(dm, sm)
			return nil
		}
	}
	m[last] = value
	return nil
}

func parseValue(text string) (interface{}, error) {
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	var raw interface{}
	if err := yaml.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse value: %w", err)
	}
	return scope.Normalize(raw)
}
