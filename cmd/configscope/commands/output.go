package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/openfroyo/configscope/pkg/runner"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes the config to out as YAML and the outcome of the run
// to diag. With --json the whole report goes to out.
func printReport(out, diag io.Writer, report *runner.Report) error {
	if jsonOutput {
		return writeJSON(out, report)
	}

	if report.Config != nil {
		data, err := yaml.Marshal(report.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			return err
		}
	}

	fmt.Fprintf(diag, "run %s: %s (%s)\n", report.RunID, report.Status, report.Duration)
	for _, s := range report.Summaries {
		if len(s.IgnoredFallbackWrites) > 0 {
			fmt.Fprintf(diag, "  %s: wrote fallback-only keys %v\n", s.Entry, s.IgnoredFallbackWrites)
		}
		if len(s.Modified) > 0 {
			fmt.Fprintf(diag, "  %s: fixed keys kept %v\n", s.Entry, s.Modified.Sorted())
		}
		keys := make([]string, 0, len(s.TypeChanges))
		for key := range s.TypeChanges {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			tc := s.TypeChanges[key]
			fmt.Fprintf(diag, "  %s: %s changed type %s -> %s\n", s.Entry, key, tc.Old, tc.New)
		}
	}
	if len(report.Stripped) > 0 {
		fmt.Fprintf(diag, "  stripped %v\n", report.Stripped)
	}
	for _, v := range report.SchemaViolations {
		fmt.Fprintf(diag, "  schema: %s: %s\n", v.Path, v.Message)
	}
	if report.Policy != nil {
		for _, v := range report.Policy.All() {
			fmt.Fprintf(diag, "  policy %s [%s]: %s\n", v.Policy, v.Severity, v.Message)
		}
	}
	if report.Error != "" {
		fmt.Fprintf(diag, "  error: %s\n", report.Error)
	}
	return nil
}
