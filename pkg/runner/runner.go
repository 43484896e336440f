package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/openfroyo/configscope/pkg/layers"
	"github.com/openfroyo/configscope/pkg/policy"
	"github.com/openfroyo/configscope/pkg/schema"
	"github.com/openfroyo/configscope/pkg/scope"
	"github.com/openfroyo/configscope/pkg/stores"
	"github.com/openfroyo/configscope/pkg/telemetry"
)

// configSchema is the registry name of a request's schema file.
const configSchema = "config"

// Runner evaluates requests end to end.
type Runner struct {
	tel      *telemetry.Telemetry
	logger   *telemetry.Logger
	schemas  *schema.Registry
	policies *policy.Engine
	store    stores.Store
}

// Option configures a Runner.
type Option func(*Runner)

// WithTelemetry sets logging, tracing and metrics.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(r *Runner) {
		r.tel = tel
	}
}

// WithStore enables run history.
func WithStore(store stores.Store) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithPolicyEngine replaces the default policy engine.
func WithPolicyEngine(eng *policy.Engine) Option {
	return func(r *Runner) {
		r.policies = eng
	}
}

// WithSchemaRegistry replaces the default schema registry.
func WithSchemaRegistry(reg *schema.Registry) Option {
	return func(r *Runner) {
		r.schemas = reg
	}
}

// New creates a runner. Without options it discards telemetry and keeps
// no history.
func New(opts ...Option) (*Runner, error) {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	if r.tel == nil {
		r.tel = telemetry.NewNop()
	}
	r.logger = r.tel.Logger.NewComponentLogger("runner")

	if r.schemas == nil {
		r.schemas = schema.NewRegistry()
	}
	if r.policies == nil {
		eng, err := policy.NewEngine(r.tel.Logger.Zerolog())
		if err != nil {
			return nil, fmt.Errorf("failed to create policy engine: %w", err)
		}
		r.policies = eng
	}
	return r, nil
}

// Run validates req, evaluates its chain, checks the result and records
// the run. An evaluation failure is returned as an error together with a
// report whose status is failed. Schema or policy rejections are not
// errors; they show in the report's status.
func (r *Runner) Run(ctx context.Context, req *layers.Request) (*Report, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	timer := telemetry.NewTimer()
	report := &Report{
		RunID:  uuid.NewString(),
		Source: req.Source,
		Status: stores.RunStatusRunning,
	}
	logger := r.logger.WithRunID(report.RunID).WithField("source", req.Source)

	ctx, span := r.tel.Tracer.StartRunSpan(ctx, report.RunID, req.Source)
	defer span.End()
	ctx = logger.WithContext(ctx)

	err := r.run(ctx, req, report, logger)
	report.Duration = timer.Duration()

	if err != nil {
		report.Status = stores.RunStatusFailed
		report.Error = err.Error()
		telemetry.RecordError(span, err)
		logger.WithError(err).Error("Run failed")
	} else {
		telemetry.RecordSuccess(span)
		logger.WithField("status", string(report.Status)).
			WithField("duration", report.Duration.String()).
			Info("Run completed")
	}
	span.SetAttributes(telemetry.AttrStatus.String(string(report.Status)))
	r.tel.Metrics.RecordRunCompleted(string(report.Status), report.Duration)

	if perr := r.persist(ctx, report); perr != nil {
		logger.WithError(perr).Warn("Failed to record run history")
		if err == nil {
			err = perr
		}
	}
	return report, err
}

func (r *Runner) run(ctx context.Context, req *layers.Request, report *Report, logger *telemetry.Logger) error {
	entries, names, err := r.buildEntries(req, logger)
	if err != nil {
		return err
	}
	report.Entries = names

	if r.store != nil {
		entriesJSON, err := json.Marshal(names)
		if err != nil {
			return fmt.Errorf("failed to encode entry names: %w", err)
		}
		if err := r.store.CreateRun(ctx, &stores.Run{
			ID:      report.RunID,
			Source:  req.Source,
			Entries: string(entriesJSON),
			Status:  stores.RunStatusRunning,
		}); err != nil {
			return fmt.Errorf("failed to record run: %w", err)
		}
		report.recorded = true
	}

	input, err := req.Layers()
	if err != nil {
		return err
	}

	evaluator := scope.NewChainEvaluator(
		scope.WithChainLogger(r.tel.Logger.NewComponentLogger("chain").WithRunID(report.RunID).Zerolog()),
		scope.WithTracer(r.tel.Tracer.Tracer()),
		scope.WithObserver(r.tel.Metrics),
	)
	result, err := evaluator.Evaluate(ctx, entries, input)
	if err != nil {
		return err
	}
	report.Config = result.Config
	report.Summaries = result.Summaries

	if req.StripFallbackWrites {
		report.Stripped = StripIgnoredFallbackWrites(report.Config, input.Fixed, result.Summaries)
		if len(report.Stripped) > 0 {
			logger.WithField("keys", report.Stripped).Info("Removed fallback-only writes")
		}
	}

	report.Status = stores.RunStatusSucceeded

	if req.Schema != "" {
		violations, err := r.checkSchema(ctx, req.Schema, report.Config)
		if err != nil {
			return err
		}
		report.SchemaViolations = violations
		if len(violations) > 0 {
			report.Status = stores.RunStatusRejected
		}
	}

	verdict, err := r.checkPolicies(ctx, req, report)
	if err != nil {
		return err
	}
	report.Policy = verdict
	if !verdict.Allowed {
		report.Status = stores.RunStatusRejected
	}

	fp, err := fingerprint(report.Config)
	if err != nil {
		return err
	}
	report.Fingerprint = fp
	return nil
}

// Check prepares req without evaluating it: the source parses, every entry
// resolves to a valid config function or literal file, the layers load,
// and the schema and policies compile. It returns the resolved entry names.
func (r *Runner) Check(ctx context.Context, req *layers.Request) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	logger := r.logger.WithField("source", req.Source)

	_, names, err := r.buildEntries(req, logger)
	if err != nil {
		return nil, err
	}
	if _, err := req.Layers(); err != nil {
		return nil, err
	}
	if req.Schema != "" {
		if err := r.schemas.RegisterFile(configSchema, req.Schema); err != nil {
			return nil, err
		}
	}
	if len(req.Policies) > 0 {
		if err := r.policies.LoadPolicies(ctx, req.Policies); err != nil {
			return nil, err
		}
	}

	logger.WithField("entries", names).Debug("Request checked")
	return names, nil
}

// buildEntries resolves the request's entry references in order.
func (r *Runner) buildEntries(req *layers.Request, logger *telemetry.Logger) ([]scope.Entry, []string, error) {
	src, err := os.ReadFile(req.Source)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read source: %w", err)
	}

	refs := req.Entries
	if len(refs) == 0 {
		refs, err = scope.ConfigFunctions(req.Source, src)
		if err != nil {
			return nil, nil, err
		}
		if len(refs) == 0 {
			return nil, nil, fmt.Errorf("%s defines no config functions", req.Source)
		}
	}

	opts := []scope.Option{scope.WithLogger(logger.Zerolog())}
	if req.DropUnserializable {
		opts = append(opts, scope.WithDropUnserializable())
	}
	if req.MaxSteps > 0 {
		opts = append(opts, scope.WithMaxExecutionSteps(req.MaxSteps))
	}
	if req.Timeout > 0 {
		opts = append(opts, scope.WithTimeout(req.Timeout))
	}

	entries := make([]scope.Entry, 0, len(refs))
	names := make([]string, 0, len(refs))
	for _, raw := range refs {
		ref, err := layers.ParseEntryRef(raw)
		if err != nil {
			return nil, nil, err
		}

		var entry scope.Entry
		if ref.Function != "" {
			entry, err = scope.NewScope(req.Source, src, ref.Function, opts...)
		} else {
			var values map[string]interface{}
			if values, err = layers.LoadFile(ref.Literal); err == nil {
				entry, err = scope.NewNamedLiteral(filepath.Base(ref.Literal), values)
			}
		}
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry)
		names = append(names, entry.Name())
	}
	return entries, names, nil
}

func (r *Runner) checkSchema(ctx context.Context, path string, config map[string]interface{}) ([]schema.Violation, error) {
	ctx, span := r.tel.Tracer.StartCheckSpan(ctx, "schema")
	defer span.End()

	if err := r.schemas.RegisterFile(configSchema, path); err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	err := r.schemas.Validate(ctx, configSchema, config)
	var verr *schema.ValidationError
	switch {
	case err == nil:
		telemetry.RecordSuccess(span)
		return nil, nil
	case errors.As(err, &verr):
		r.tel.Metrics.RecordSchemaFailure()
		telemetry.FromContext(ctx).WithField("violations", len(verr.Violations)).Warn("Config rejected by schema")
		telemetry.RecordError(span, err)
		return verr.Violations, nil
	default:
		telemetry.RecordError(span, err)
		return nil, err
	}
}

func (r *Runner) checkPolicies(ctx context.Context, req *layers.Request, report *Report) (*policy.Result, error) {
	ctx, span := r.tel.Tracer.StartCheckSpan(ctx, "policy")
	defer span.End()

	if len(req.Policies) > 0 {
		if err := r.policies.LoadPolicies(ctx, req.Policies); err != nil {
			telemetry.RecordError(span, err)
			return nil, err
		}
	}

	result, err := r.policies.Evaluate(ctx, &policy.Input{
		Config:    report.Config,
		Summaries: report.Summaries,
		Context: &policy.Context{
			Environment: req.Environment,
			Source:      req.Source,
			Operation:   "eval",
		},
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	for _, v := range result.All() {
		r.tel.Metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
	}
	telemetry.RecordSuccess(span)
	return result, nil
}

// persist records the report when a store is configured.
func (r *Runner) persist(ctx context.Context, report *Report) error {
	if r.store == nil || !report.recorded {
		return nil
	}
	// Use a context that survives cancellation of the run itself.
	ctx = context.WithoutCancel(ctx)

	var config *string
	if report.Config != nil {
		data, err := json.Marshal(report.Config)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		s := string(data)
		config = &s
	}
	var errMsg *string
	if report.Error != "" {
		errMsg = &report.Error
	}

	summaries := make([]*stores.EntrySummary, 0, len(report.Summaries))
	for i, s := range report.Summaries {
		data, err := json.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		var doc interface{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to decode summary: %w", err)
		}
		if err := r.schemas.ValidateSummary(ctx, doc); err != nil {
			return fmt.Errorf("summary of entry %s: %w", s.Entry, err)
		}
		summaries = append(summaries, &stores.EntrySummary{
			RunID:              report.RunID,
			Position:           i,
			Entry:              s.Entry,
			Summary:            string(data),
			AddedCount:         len(s.AddedValues),
			ModifiedCount:      len(s.Modified),
			TypeChangeCount:    len(s.TypeChanges),
			FallbackWriteCount: len(s.IgnoredFallbackWrites),
		})
	}
	if err := r.store.SaveSummaries(ctx, summaries); err != nil {
		return err
	}

	if err := r.store.SaveFindings(ctx, findings(report)); err != nil {
		return err
	}

	return r.store.CompleteRun(ctx, report.RunID, report.Status, config, errMsg)
}

func findings(report *Report) []*stores.Finding {
	var out []*stores.Finding
	for _, v := range report.SchemaViolations {
		f := &stores.Finding{
			RunID:    report.RunID,
			Kind:     stores.FindingKindSchema,
			Rule:     configSchema,
			Severity: string(policy.SeverityError),
			Message:  v.Message,
		}
		if v.Path != "" {
			path := v.Path
			f.Key = &path
		}
		out = append(out, f)
	}
	if report.Policy != nil {
		for _, v := range report.Policy.All() {
			f := &stores.Finding{
				RunID:    report.RunID,
				Kind:     stores.FindingKindPolicy,
				Rule:     v.Policy,
				Severity: string(v.Severity),
				Message:  v.Message,
			}
			if v.Entry != "" {
				entry := v.Entry
				f.Entry = &entry
			}
			if v.Key != "" {
				key := v.Key
				f.Key = &key
			}
			out = append(out, f)
		}
	}
	return out
}

func fingerprint(config map[string]interface{}) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	return stores.Fingerprint(string(data)), nil
}
