package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openfroyo/configscope/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "validate [source] [entry...]",
		Short: "Check a request without evaluating it",
		Long: `Check that a request can run without executing any config function.

This command checks:
  - the request fields and layer files
  - Starlark syntax and config function signatures
  - that every entry resolves
  - CUE schema and Rego policy compilation`,
		Example: `  # Check every function in config.star
  configscope validate config.star

  # Check a request file
  configscope validate -f request.yaml`,
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

			op := telemetry.StartOperation(s.tel.WithContext(cmd.Context()), "configscope.validate",
				attribute.String("configscope.source", req.Source))
			names, err := s.runner.Check(op.Ctx, req)
			op.End(err)
			if err != nil {
				return err
			}

			op.Logger.WithField("duration", op.Timer.Duration().String()).Debug("Validation finished")
			log.Info().
				Str("source", req.Source).
				Strs("entries", names).
				Msg("Request is valid")

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"source":  req.Source,
					"entries": names,
				})
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	flags.bind(cmd)
	return cmd
}
