package scope

import (
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Option configures an entry.
type Option func(*options)

type options struct {
	logger      zerolog.Logger
	drop        bool
	maxSteps    uint64
	timeout     time.Duration
	predeclared starlark.StringDict
}

func defaultOptions() options {
	return options{
		logger: zerolog.Nop(),
		predeclared: starlark.StringDict{
			"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		},
	}
}

// WithLogger sets the logger used for print output and dropped values.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithDropUnserializable makes evaluation silently drop values that cannot
// be represented as JSON instead of failing.
func WithDropUnserializable() Option {
	return func(o *options) {
		o.drop = true
	}
}

// WithMaxExecutionSteps bounds the Starlark computation steps of a single
// evaluation. Zero means no limit.
func WithMaxExecutionSteps(n uint64) Option {
	return func(o *options) {
		o.maxSteps = n
	}
}

// WithTimeout bounds the wall-clock time of a single evaluation. Zero means
// no limit.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithPredeclared adds names visible to the defining module.
func WithPredeclared(names starlark.StringDict) Option {
	return func(o *options) {
		for k, v := range names {
			o.predeclared[k] = v
		}
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o *options) newThread(name string) *starlark.Thread {
	logger := o.logger
	thread := &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			logger.Debug().Str("entry", name).Msg(msg)
		},
	}
	if o.maxSteps > 0 {
		thread.SetMaxExecutionSteps(o.maxSteps)
	}
	return thread
}
