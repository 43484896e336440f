package layers

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/configscope/pkg/scope"
)

// LiteralPrefix marks an entry reference naming a literal layer file
// rather than a config function.
const LiteralPrefix = "@"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Request describes one chain evaluation.
type Request struct {
	// Source is the Starlark file holding the config functions.
	Source string `json:"source" yaml:"source" validate:"required,file"`

	// Entries lists the chain in order: config function names, or
	// "@path" for a literal layer file. Empty means every public function
	// of Source in file order.
	Entries []string `json:"entries,omitempty" yaml:"entries,omitempty" validate:"dive,entryref"`

	// Fixed, Preset and Fallback list layer files merged in order.
	Fixed    []string `json:"fixed,omitempty" yaml:"fixed,omitempty" validate:"dive,file"`
	Preset   []string `json:"preset,omitempty" yaml:"preset,omitempty" validate:"dive,file"`
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty" validate:"dive,file"`

	// Set holds key=value assignments applied over the fixed layer.
	Set []string `json:"set,omitempty" yaml:"set,omitempty" validate:"dive,assignment"`

	// Schema is a CUE file the final config must satisfy.
	Schema string `json:"schema,omitempty" yaml:"schema,omitempty" validate:"omitempty,file"`

	// Policies lists Rego policy files or directories.
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty" validate:"dive,required"`

	// Environment is passed to policies as context.
	Environment string `json:"environment,omitempty" yaml:"environment,omitempty" validate:"omitempty,max=64,printascii"`

	// DropUnserializable drops values that have no JSON form instead of
	// failing.
	DropUnserializable bool `json:"drop_unserializable,omitempty" yaml:"drop_unserializable,omitempty"`

	// StripFallbackWrites removes ignored fallback writes from the final
	// config.
	StripFallbackWrites bool `json:"strip_fallback_writes,omitempty" yaml:"strip_fallback_writes,omitempty"`

	// MaxSteps bounds Starlark execution per entry; zero means unbounded.
	MaxSteps uint64 `json:"max_steps,omitempty" yaml:"max_steps,omitempty"`

	// Timeout bounds the wall-clock time of each entry; zero means
	// unbounded.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"min=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func requestValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		_ = validate.RegisterValidation("entryref", func(fl validator.FieldLevel) bool {
			_, err := ParseEntryRef(fl.Field().String())
			return err == nil
		})
		_ = validate.RegisterValidation("assignment", func(fl validator.FieldLevel) bool {
			path, _, ok := strings.Cut(fl.Field().String(), "=")
			return ok && strings.TrimSpace(path) != ""
		})
	})
	return validate
}

// Validate checks the request's fields.
func (r *Request) Validate() error {
	err := requestValidator().Struct(r)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("request validation failed: %w", err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("invalid request: %s", strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "Request.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "file":
		return fmt.Sprintf("%s: file %q does not exist", field, fe.Value())
	case "entryref":
		return fmt.Sprintf("%s: %q is neither a function name nor @file", field, fe.Value())
	case "assignment":
		return fmt.Sprintf("%s: %q is not key=value", field, fe.Value())
	default:
		return fmt.Sprintf("%s: failed %s", field, fe.Tag())
	}
}

// LoadRequest reads a YAML request file.
func LoadRequest(path string) (*Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file: %w", err)
	}

	var req Request
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to parse request file: %w", err)
	}
	return &req, nil
}

// Layers loads the request's layer files and assignments.
func (r *Request) Layers() (scope.Layers, error) {
	fixed, err := LoadFiles(r.Fixed)
	if err != nil {
		return scope.Layers{}, err
	}
	sets, err := ParseAssignments(r.Set)
	if err != nil {
		return scope.Layers{}, err
	}
	Merge(fixed, sets)

	preset, err := LoadFiles(r.Preset)
	if err != nil {
		return scope.Layers{}, err
	}
	fallback, err := LoadFiles(r.Fallback)
	if err != nil {
		return scope.Layers{}, err
	}

	return scope.Layers{Fixed: fixed, Preset: preset, Fallback: fallback}, nil
}

// EntryRef is a parsed entry reference.
type EntryRef struct {
	// Function is the config function name, or empty for a literal file.
	Function string

	// Literal is the literal layer file path.
	Literal string
}

// ParseEntryRef parses "name" or "@path".
func ParseEntryRef(ref string) (EntryRef, error) {
	if path, ok := strings.CutPrefix(ref, LiteralPrefix); ok {
		if path == "" {
			return EntryRef{}, fmt.Errorf("entry %q: missing literal file path", ref)
		}
		return EntryRef{Literal: path}, nil
	}
	if !identPattern.MatchString(ref) {
		return EntryRef{}, fmt.Errorf("entry %q is not a valid function name", ref)
	}
	return EntryRef{Function: ref}, nil
}
