package scope

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Entry is one step of a configuration chain.
type Entry interface {
	// Name identifies the entry in summaries and errors.
	Name() string

	// Evaluate computes the entry's configuration. fixed values are
	// authoritative, preset values are defaults and fallback values are
	// read-only.
	Evaluate(fixed, preset, fallback map[string]interface{}) (*Summary, error)
}

// ScopeEntry evaluates the body of a Starlark config function. Only the
// parameters the function declares are visible from preset and fallback.
type ScopeEntry struct {
	// mu serializes evaluations; the parsed body is shared.
	mu      sync.Mutex
	name    string
	params  []string
	body    *Body
	helpers starlark.StringDict
	opts    options
}

var _ Entry = (*ScopeEntry)(nil)

// NewScope builds an entry from the top-level function funcName of the
// Starlark module src. The module is executed once to collect the helper
// globals the body may call.
func NewScope(filename string, src []byte, funcName string, opts ...Option) (*ScopeEntry, error) {
	o := applyOptions(opts)

	f, err := fileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, newError(KindSyntax, err, "cannot parse %s", filename)
	}
	def, err := findDef(f, funcName)
	if err != nil {
		return nil, err
	}
	params, err := checkSignature(def)
	if err != nil {
		return nil, err
	}
	body, err := extractDef(filename, src, def)
	if err != nil {
		return nil, err
	}
	if err := validateBody(body.Stmts); err != nil {
		return nil, err
	}

	helpers, err := loadHelpers(filename, src, &o)
	if err != nil {
		return nil, err
	}

	return &ScopeEntry{
		name:    funcName,
		params:  params,
		body:    body,
		helpers: helpers,
		opts:    o,
	}, nil
}

// loadHelpers executes the module and returns its globals together with the
// predeclared names. Config bodies may read names that only exist at
// evaluation time, so free names are resolved as predeclared rather than
// rejected.
func loadHelpers(filename string, src []byte, o *options) (starlark.StringDict, error) {
	f, err := fileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, newError(KindSyntax, err, "cannot parse %s", filename)
	}
	isPredeclared := func(name string) bool {
		return o.predeclared.Has(name) || !starlark.Universe.Has(name)
	}
	prog, err := starlark.FileProgram(f, isPredeclared)
	if err != nil {
		return nil, newError(KindSyntax, err, "cannot compile %s", filename)
	}
	globals, err := prog.Init(o.newThread(filename), o.predeclared)
	if err != nil {
		return nil, newError(KindExecution, err, "cannot load module %s", filename)
	}
	globals.Freeze()

	helpers := make(starlark.StringDict, len(o.predeclared)+len(globals))
	for k, v := range o.predeclared {
		helpers[k] = v
	}
	for k, v := range globals {
		helpers[k] = v
	}
	return helpers, nil
}

// LoadScopes reads a Starlark file and builds an entry for each named
// function, in order. With no names, every top-level function whose name
// does not start with an underscore is loaded in definition order.
func LoadScopes(path string, names []string, opts ...Option) ([]*ScopeEntry, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if len(names) == 0 {
		names, err = ConfigFunctions(path, src)
		if err != nil {
			return nil, err
		}
	}
	entries := make([]*ScopeEntry, 0, len(names))
	for _, name := range names {
		e, err := NewScope(path, src, name, opts...)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ConfigFunctions lists the public top-level functions of a module.
func ConfigFunctions(filename string, src []byte) ([]string, error) {
	f, err := fileOptions.Parse(filename, src, 0)
	if err != nil {
		return nil, newError(KindSyntax, err, "cannot parse %s", filename)
	}
	var names []string
	for _, stmt := range f.Stmts {
		if def, ok := stmt.(*syntax.DefStmt); ok && !isPrivate(def.Name.Name) {
			names = append(names, def.Name.Name)
		}
	}
	return names, nil
}

// Name returns the config function's name.
func (s *ScopeEntry) Name() string { return s.name }

// Params returns the declared parameter names.
func (s *ScopeEntry) Params() []string {
	out := make([]string, len(s.params))
	copy(out, s.params)
	return out
}

// Body returns the extracted body.
func (s *ScopeEntry) Body() *Body { return s.body }

// Evaluate runs the body against a fresh namespace.
func (s *ScopeEntry) Evaluate(fixed, preset, fallback map[string]interface{}) (*Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, err := newNamespace(fixed)
	if err != nil {
		return nil, s.tag(err)
	}
	for _, p := range s.params {
		if v, ok := preset[p]; ok {
			sv, err := fromGo(v, false)
			if err != nil {
				return nil, s.tag(newError(KindInvalidValue, err, "preset value cannot be used").WithKey(p))
			}
			ns.bind(p, sv)
			continue
		}
		if v, ok := fallback[p]; ok {
			sv, err := fromGo(v, false)
			if err != nil {
				return nil, s.tag(newError(KindInvalidValue, err, "fallback value cannot be used").WithKey(p))
			}
			ns.bindFallback(p, sv)
			continue
		}
		e := newError(KindUnresolvedParameter, nil, "parameter %q is not in preset or fallback", p).WithKey(p)
		e.Available = available(preset, fallback)
		return nil, s.tag(e)
	}
	for k, v := range s.helpers {
		ns.helpers[k] = v
	}
	ns.mark()

	in := &interpreter{ns: ns, thread: s.opts.newThread(s.name)}
	if s.opts.timeout > 0 {
		timer := time.AfterFunc(s.opts.timeout, func() {
			in.cancel(fmt.Sprintf("timeout after %v", s.opts.timeout))
		})
		defer timer.Stop()
	}
	if _, err := in.execStmts(s.body.Stmts); err != nil {
		return nil, s.tag(err)
	}

	summary := newSummary(s.name)
	ns.summarize(summary)
	if err := ns.fillIn(preset); err != nil {
		return nil, s.tag(err)
	}
	if err := ns.harvest(summary, s.dropper()); err != nil {
		return nil, s.tag(err)
	}
	return summary, nil
}

func (s *ScopeEntry) dropper() func(string, error) {
	if !s.opts.drop {
		return nil
	}
	logger := s.opts.logger
	return func(key string, err error) {
		logger.Debug().Err(err).Str("entry", s.name).Str("key", key).Msg("Dropped value without JSON representation")
	}
}

func (s *ScopeEntry) tag(err error) error {
	if e, ok := err.(*Error); ok && e.Entry == "" {
		e.Entry = s.name
	}
	return err
}

func available(preset, fallback map[string]interface{}) []string {
	seen := make(map[string]bool, len(preset)+len(fallback))
	names := make([]string, 0, len(preset)+len(fallback))
	for _, m := range []map[string]interface{}{preset, fallback} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	sort.Strings(names)
	return names
}
