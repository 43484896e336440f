package scope

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Layers are the three inputs of a chain evaluation.
type Layers struct {
	// Fixed values are authoritative and cannot be overridden.
	Fixed map[string]interface{} `json:"fixed,omitempty"`

	// Preset values are defaults that entries may override.
	Preset map[string]interface{} `json:"preset,omitempty"`

	// Fallback values are readable by declared parameters only.
	Fallback map[string]interface{} `json:"fallback,omitempty"`
}

// ChainResult is the outcome of a chain evaluation.
type ChainResult struct {
	// Config is the final merged configuration.
	Config map[string]interface{} `json:"config"`

	// Summaries holds one summary per entry, in order.
	Summaries []*Summary `json:"summaries"`
}

// Observer receives per-entry measurements.
type Observer interface {
	RecordEntry(entry, status string, duration time.Duration)
	RecordProvenance(entry string, added, modified, typechanges, fallbackWrites int)
	RecordError(errorClass, errorCode string)
}

// ChainEvaluator folds entries over the layered inputs.
type ChainEvaluator struct {
	logger   zerolog.Logger
	tracer   trace.Tracer
	observer Observer
}

// ChainOption configures a ChainEvaluator.
type ChainOption func(*ChainEvaluator)

// WithChainLogger sets the evaluator's logger.
func WithChainLogger(logger zerolog.Logger) ChainOption {
	return func(c *ChainEvaluator) {
		c.logger = logger
	}
}

// WithTracer sets the tracer used for chain and entry spans.
func WithTracer(tracer trace.Tracer) ChainOption {
	return func(c *ChainEvaluator) {
		if tracer != nil {
			c.tracer = tracer
		}
	}
}

// WithObserver sets the receiver of per-entry measurements.
func WithObserver(o Observer) ChainOption {
	return func(c *ChainEvaluator) {
		c.observer = o
	}
}

// NewChainEvaluator creates an evaluator. Without options it neither logs
// nor traces.
func NewChainEvaluator(opts ...ChainOption) *ChainEvaluator {
	c := &ChainEvaluator{
		logger: zerolog.Nop(),
		tracer: noop.NewTracerProvider().Tracer("configscope"),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "chain").Logger()
	return c
}

// Chain evaluates entries in order and returns the final configuration and
// one summary per entry.
func Chain(entries []Entry, fixed, preset, fallback map[string]interface{}) (map[string]interface{}, []*Summary, error) {
	res, err := NewChainEvaluator().Evaluate(context.Background(), entries, Layers{
		Fixed:    fixed,
		Preset:   preset,
		Fallback: fallback,
	})
	if err != nil {
		return nil, nil, err
	}
	return res.Config, res.Summaries, nil
}

// Evaluate folds entries over layers. Each entry sees the running result as
// its preset; its values are merged into the running result key by key.
// With no entries the result is the preset overlaid with fixed.
func (c *ChainEvaluator) Evaluate(ctx context.Context, entries []Entry, layers Layers) (*ChainResult, error) {
	ctx, span := c.tracer.Start(ctx, "scope.chain",
		trace.WithAttributes(attribute.Int("chain.entries", len(entries))))
	defer span.End()

	running := CopyMap(layers.Preset)
	summaries := make([]*Summary, 0, len(entries))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		summary, err := c.evaluateEntry(ctx, i, entry, layers.Fixed, running, layers.Fallback)
		if err != nil {
			chainErr := &ChainError{Index: i, Entry: entry.Name(), Err: err}
			span.RecordError(chainErr)
			span.SetStatus(codes.Error, chainErr.Error())
			return nil, chainErr
		}
		summaries = append(summaries, summary)
		for k, v := range summary.Values {
			running[k] = v
		}
	}

	if len(entries) == 0 {
		for k, v := range layers.Fixed {
			running[k] = DeepCopy(v)
		}
		for k, v := range running {
			pv, err := Normalize(v)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, err.(*Error).WithKey(k)
			}
			running[k] = pv
		}
	}

	span.SetStatus(codes.Ok, "")
	return &ChainResult{Config: running, Summaries: summaries}, nil
}

func (c *ChainEvaluator) evaluateEntry(ctx context.Context, index int, entry Entry, fixed, preset, fallback map[string]interface{}) (*Summary, error) {
	_, span := c.tracer.Start(ctx, "scope.entry", trace.WithAttributes(
		attribute.String("entry.name", entry.Name()),
		attribute.Int("entry.index", index),
	))
	defer span.End()

	start := time.Now()
	summary, err := entry.Evaluate(fixed, preset, fallback)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Error().Err(err).
			Str("entry", entry.Name()).
			Int("index", index).
			Msg("Config entry failed")
		if c.observer != nil {
			c.observer.RecordEntry(entry.Name(), "failed", duration)
			c.observer.RecordError(string(KindOf(err)), entry.Name())
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("entry.added", len(summary.AddedValues)),
		attribute.Int("entry.modified", len(summary.Modified)),
		attribute.Int("entry.typechanges", len(summary.TypeChanges)),
		attribute.Int("entry.fallback_writes", len(summary.IgnoredFallbackWrites)),
	)
	span.SetStatus(codes.Ok, "")

	for _, key := range summary.Modified.Sorted() {
		c.logger.Debug().Str("entry", entry.Name()).Str("key", key).Msg("Ignored override of fixed config entry")
	}
	for key, tc := range summary.TypeChanges {
		c.logger.Warn().
			Str("entry", entry.Name()).
			Str("key", key).
			Str("old", tc.Old).
			Str("new", tc.New).
			Msg("Changed type of config entry")
	}
	c.logger.Debug().
		Str("entry", entry.Name()).
		Int("index", index).
		Dur("duration", duration).
		Int("values", len(summary.Values)).
		Msg("Config entry evaluated")

	if c.observer != nil {
		c.observer.RecordEntry(entry.Name(), "succeeded", duration)
		c.observer.RecordProvenance(entry.Name(),
			len(summary.AddedValues), len(summary.Modified),
			len(summary.TypeChanges), len(summary.IgnoredFallbackWrites))
	}
	return summary, nil
}
