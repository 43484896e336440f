package schema

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
)

// ConfigDefinition is the definition a schema file declares for the
// evaluated configuration. A schema without it is applied as a whole.
const ConfigDefinition = "#Config"

// SummaryDefinition is the definition of the built-in summary schema.
const SummaryDefinition = "#Summary"

// Registry manages CUE schemas for validating evaluated configurations.
type Registry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewRegistry creates a new registry with the built-in schemas.
func NewRegistry() *Registry {
	r := &Registry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	if err := r.Register("summary", builtinSummarySchema); err != nil {
		panic(fmt.Sprintf("built-in summary schema: %v", err))
	}
	return r
}

// Register compiles schema and stores it under name.
func (r *Registry) Register(name, schema string) error {
	return r.register(name, r.ctx.CompileString(schema, cue.Filename(name)))
}

// RegisterFile compiles the CUE file at path and stores it under name.
func (r *Registry) RegisterFile(name, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}
	return r.register(name, r.ctx.CompileBytes(src, cue.Filename(path)))
}

func (r *Registry) register(name string, val cue.Value) error {
	if err := val.Err(); err != nil {
		return &ValidationError{Schema: name, Violations: convertErrors(err)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[name] = val
	return nil
}

// Get retrieves a schema by name.
func (r *Registry) Get(name string) (cue.Value, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	val, ok := r.schemas[name]
	return val, ok
}

// List returns all registered schema names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks data against the named schema's #Config definition, or
// the whole schema if it has none. All values must be concrete after
// unification.
func (r *Registry) Validate(ctx context.Context, name string, data interface{}) error {
	return r.ValidateDefinition(ctx, name, ConfigDefinition, data)
}

// ValidateSummary checks a serialized summary against the built-in summary
// schema.
func (r *Registry) ValidateSummary(ctx context.Context, summary interface{}) error {
	return r.ValidateDefinition(ctx, "summary", SummaryDefinition, summary)
}

// ValidateDefinition checks data against definition def of the named schema.
func (r *Registry) ValidateDefinition(ctx context.Context, name, def string, data interface{}) error {
	schema, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}
	if d := schema.LookupPath(cue.ParsePath(def)); d.Exists() {
		schema = d
	}

	dataVal := r.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &ValidationError{Schema: name, Violations: convertErrors(err)}
	}
	return nil
}

// Decode compiles CUE source and decodes it into a plain mapping. It lets
// CUE files act as configuration layers.
func (r *Registry) Decode(filename string, src []byte) (map[string]interface{}, error) {
	val := r.ctx.CompileBytes(src, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, &ValidationError{Schema: filename, Violations: convertErrors(err)}
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &ValidationError{Schema: filename, Violations: convertErrors(err)}
	}
	out := make(map[string]interface{})
	if err := val.Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return out, nil
}

// Violation is one schema failure.
type Violation struct {
	Path    string `json:"path,omitempty"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Message string `json:"message"`
}

// ValidationError reports every violation found by a schema check.
type ValidationError struct {
	Schema     string
	Violations []Violation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("schema %s: validation failed", e.Schema)
	}
	v := e.Violations[0]
	msg := fmt.Sprintf("schema %s: %s", e.Schema, v.Message)
	if len(e.Violations) > 1 {
		msg += fmt.Sprintf(" (and %d more)", len(e.Violations)-1)
	}
	return msg
}

func convertErrors(err error) []Violation {
	var out []Violation
	for _, e := range errors.Errors(err) {
		v := Violation{Message: errors.Details(e, nil)}
		if sels := selectors(e.Path()); len(sels) > 0 {
			v.Path = cue.MakePath(sels...).String()
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			v.File = pos[0].Filename()
			v.Line = pos[0].Line()
			v.Column = pos[0].Column()
		}
		out = append(out, v)
	}
	return out
}

// selectors turns an error path into selectors relative to the validated
// definition. Leading definition labels are dropped.
func selectors(path []string) []cue.Selector {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	sels := make([]cue.Selector, 0, len(path))
	for _, p := range path {
		if i, err := strconv.Atoi(p); err == nil && i >= 0 {
			sels = append(sels, cue.Index(i))
			continue
		}
		sels = append(sels, cue.Str(p))
	}
	return sels
}

const builtinSummarySchema = `
#TypeChange: {
	old: string
	new: string
}

// Summary of one evaluated config entry.
#Summary: {
	entry:  string & !=""
	values: {[string]: _}
	added_values: [...string]
	modified: [...string]
	typechanges: {[string]: #TypeChange}
	ignored_fallback_writes: [...string]
}
`
