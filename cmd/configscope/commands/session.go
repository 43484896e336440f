package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/openfroyo/configscope/pkg/runner"
	"github.com/openfroyo/configscope/pkg/stores"
	"github.com/openfroyo/configscope/pkg/telemetry"
)

// session holds what a command needs to run evaluations.
type session struct {
	tel    *telemetry.Telemetry
	store  *stores.SQLiteStore
	runner *runner.Runner
}

func loadTelemetryConfig() (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	if telemetryPath != "" {
		loaded, err := telemetry.LoadConfig(telemetryPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

func openStore(ctx context.Context) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: dbPath})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openSession sets up telemetry, the optional history store and a runner
// built with extra on top of them.
func openSession(ctx context.Context, extra ...runner.Option) (*session, error) {
	cfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	tel.StartMetricsServer()

	s := &session{tel: tel}
	opts := []runner.Option{runner.WithTelemetry(tel)}
	if dbPath != "" {
		store, err := openStore(ctx)
		if err != nil {
			s.close()
			return nil, err
		}
		s.store = store
		opts = append(opts, runner.WithStore(store))
	}

	s.runner, err = runner.New(append(opts, extra...)...)
	if err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *session) close() {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close history database")
		}
	}
	if err := s.tel.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to shut down telemetry")
	}
}
