package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/configscope/pkg/layers"
)

// requestFlags are the flags that describe one evaluation.
type requestFlags struct {
	file        string
	source      string
	entries     []string
	fixed       []string
	preset      []string
	fallback    []string
	set         []string
	schema      string
	policies    []string
	environment string
	strip       bool
	drop        bool
	maxSteps    uint64
	timeout     time.Duration
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.file, "file", "f", "", "request file (YAML)")
	flags.StringVarP(&f.source, "source", "s", "", "Starlark source file")
	flags.StringSliceVarP(&f.entries, "entry", "e", nil, "chain entry: function name or @layer-file (repeatable)")
	flags.StringSliceVar(&f.fixed, "fixed", nil, "fixed layer file (repeatable)")
	flags.StringSliceVar(&f.preset, "preset", nil, "preset layer file (repeatable)")
	flags.StringSliceVar(&f.fallback, "fallback", nil, "fallback layer file (repeatable)")
	flags.StringArrayVar(&f.set, "set", nil, "fixed value as key.path=value (repeatable)")
	flags.StringVar(&f.schema, "schema", "", "CUE schema file for the result")
	flags.StringSliceVarP(&f.policies, "policy", "p", nil, "policy file or directory (repeatable)")
	flags.StringVar(&f.environment, "env", "", "environment name passed to policies")
	flags.BoolVar(&f.strip, "strip-fallback-writes", false, "remove fallback-only writes from the result")
	flags.BoolVar(&f.drop, "drop-unserializable", false, "drop values that cannot be represented as JSON")
	flags.DurationVar(&f.timeout, "timeout", 0, "maximum evaluation time per entry (0 for unbounded)")
	flags.Uint64Var(&f.maxSteps, "max-steps", 0, "maximum Starlark execution steps per entry (0 for unbounded)")
}

// build assembles the request. Positional arguments are the source
// followed by entries. Flags override a request file.
func (f *requestFlags) build(cmd *cobra.Command, args []string) (*layers.Request, error) {
	req := &layers.Request{}
	if f.file != "" {
		loaded, err := layers.LoadRequest(f.file)
		if err != nil {
			return nil, err
		}
		req = loaded
	}

	if len(args) > 0 {
		if f.source != "" {
			return nil, fmt.Errorf("source given both as argument and --source")
		}
		req.Source = args[0]
		if len(args) > 1 {
			req.Entries = args[1:]
		}
	}

	flags := cmd.Flags()
	if flags.Changed("source") {
		req.Source = f.source
	}
	if flags.Changed("entry") {
		req.Entries = append(req.Entries, f.entries...)
	}
	if flags.Changed("fixed") {
		req.Fixed = append(req.Fixed, f.fixed...)
	}
	if flags.Changed("preset") {
		req.Preset = append(req.Preset, f.preset...)
	}
	if flags.Changed("fallback") {
		req.Fallback = append(req.Fallback, f.fallback...)
	}
	if flags.Changed("set") {
		req.Set = append(req.Set, f.set...)
	}
	if flags.Changed("schema") {
		req.Schema = f.schema
	}
	if flags.Changed("policy") {
		req.Policies = append(req.Policies, f.policies...)
	}
	if flags.Changed("env") {
		req.Environment = f.environment
	}
	if flags.Changed("strip-fallback-writes") {
		req.StripFallbackWrites = f.strip
	}
	if flags.Changed("drop-unserializable") {
		req.DropUnserializable = f.drop
	}
	if flags.Changed("max-steps") {
		req.MaxSteps = f.maxSteps
	}
	if flags.Changed("timeout") {
		req.Timeout = f.timeout
	}

	if err := req.Validate(); err != nil {
		return nil, err
	}
	return req, nil
}

// paths lists every file the request reads.
func paths(req *layers.Request) []string {
	out := []string{req.Source}
	for _, raw := range req.Entries {
		if ref, err := layers.ParseEntryRef(raw); err == nil && ref.Literal != "" {
			out = append(out, ref.Literal)
		}
	}
	out = append(out, req.Fixed...)
	out = append(out, req.Preset...)
	out = append(out, req.Fallback...)
	if req.Schema != "" {
		out = append(out, req.Schema)
	}
	out = append(out, req.Policies...)
	return out
}
