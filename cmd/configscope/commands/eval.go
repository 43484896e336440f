package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newEvalCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "eval [source] [entry...]",
		Short: "Evaluate a chain of config functions",
		Long: `Evaluate config functions and literal layer files in order and print the
resulting configuration.

Entries are function names from the source file, or @path for a YAML, JSON
or CUE file used as a literal entry. Without entries every public function
of the source is evaluated in file order.

Layers:
  --fixed     values that always win; entries cannot override them
  --preset    starting values entries may override
  --fallback  read-only values entries may read but not export
  --set       fixed values given inline as key.path=value`,
		Example: `  # Evaluate every function in config.star
  configscope eval config.star

  # Evaluate two functions with a fixed override
  configscope eval config.star base production --set port=9090

  # Use a request file, check the result, and record the run
  configscope eval -f request.yaml --schema config.cue --policy ./policies --db history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd, args)
			if err != nil {
				return err
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			report, err := s.runner.Run(cmd.Context(), req)
			if report != nil {
				if perr := printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), report); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !report.Accepted() {
				return fmt.Errorf("run %s was %s", report.RunID, report.Status)
			}
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}
