package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/configscope/pkg/policy"
	"github.com/openfroyo/configscope/pkg/runner"
)

// rerunDelay is longer than the policy engine's reload delay so a policy
// edit is applied before the chain is evaluated again.
const rerunDelay = 750 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var flags requestFlags

	cmd := &cobra.Command{
		Use:   "watch [source] [entry...]",
		Short: "Re-evaluate whenever an input changes",
		Long: `Evaluate the request, then watch the source, layer, schema and policy
files and evaluate again after each change. Policies are reloaded in place.
Stop with Ctrl-C.`,
		Example: `  # Re-evaluate config.star on every save
  configscope watch config.star --fixed prod.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.build(cmd, args)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			watched := paths(req)

			engine, err := policy.NewEngine(log.Logger)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			if len(req.Policies) > 0 {
				if err := engine.LoadPolicies(ctx, req.Policies); err != nil {
					return err
				}
				if err := engine.Watch(ctx, req.Policies); err != nil {
					return err
				}
				defer func() {
					if err := engine.StopWatching(); err != nil {
						log.Warn().Err(err).Msg("Failed to stop policy watcher")
					}
				}()
				req.Policies = nil
			}

			s, err := openSession(ctx, runner.WithPolicyEngine(engine))
			if err != nil {
				return err
			}
			defer s.close()

			w, err := newInputWatcher(watched)
			if err != nil {
				return err
			}
			defer w.close()

			run := func() {
				report, err := s.runner.Run(ctx, req)
				if report != nil {
					if perr := printReport(cmd.OutOrStdout(), cmd.ErrOrStderr(), report); perr != nil {
						log.Error().Err(perr).Msg("Failed to print report")
					}
				}
				if err != nil {
					log.Error().Err(err).Msg("Evaluation failed")
				}
			}

			log.Info().Int("paths", len(watched)).Msg("Watching inputs")
			run()
			return w.loop(ctx, run)
		},
	}

	flags.bind(cmd)
	return cmd
}

// inputWatcher reports changes to a set of files and directory trees.
type inputWatcher struct {
	watcher *fsnotify.Watcher
	files   map[string]bool
	dirs    []string
}

func newInputWatcher(paths []string) (*inputWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	w := &inputWatcher{watcher: watcher, files: make(map[string]bool)}

	for _, p := range paths {
		if err := w.add(p); err != nil {
			w.close()
			return nil, err
		}
	}
	return w, nil
}

// add watches a directory tree directly. A file is watched through its
// parent directory so editors that replace files on save are noticed.
func (w *inputWatcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if !info.IsDir() {
		w.files[abs] = true
		return w.watcher.Add(filepath.Dir(abs))
	}

	w.dirs = append(w.dirs, abs)
	return filepath.WalkDir(abs, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(p)
		}
		return nil
	})
}

func (w *inputWatcher) relevant(name string) bool {
	abs, err := filepath.Abs(name)
	if err != nil {
		return false
	}
	if w.files[abs] {
		return true
	}
	for _, dir := range w.dirs {
		if strings.HasPrefix(abs, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// loop calls fn after each burst of relevant changes until ctx is done.
func (w *inputWatcher) loop(ctx context.Context, fn func()) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 || !w.relevant(event.Name) {
				continue
			}
			log.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Input changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(rerunDelay)
			fire = timer.C

		case <-fire:
			fire = nil
			fn()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *inputWatcher) close() {
	_ = w.watcher.Close()
}
