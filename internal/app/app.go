// Package app assembles the service from its configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dontdude/codebox/internal/config"
	"github.com/dontdude/codebox/internal/domain"
	"github.com/dontdude/codebox/internal/platform/docker"
	"github.com/dontdude/codebox/internal/platform/events"
	"github.com/dontdude/codebox/internal/queue"
	"github.com/dontdude/codebox/internal/registry"
	"github.com/dontdude/codebox/internal/router"
	"github.com/dontdude/codebox/internal/sandbox"
	"github.com/dontdude/codebox/internal/typescript"
)

// App holds the long-lived components of the service.
type App struct {
	Registry *registry.Registry
	Router   *router.Router
	Queue    *queue.Queue
	Broker   domain.EventBroker

	log       zerolog.Logger
	closers   []io.Closer
	closeOnce sync.Once
}

// New builds the execution stack. ctx bounds every execution started through the queue.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{log: logger}

	profiles, err := config.LoadProfiles(cfg.ProfilesPath)
	if err != nil {
		return nil, err
	}

	launcher, err := a.launcher(ctx, cfg, profiles)
	if err != nil {
		a.close()
		return nil, err
	}

	a.Registry = registry.New(cfg.ShutdownGrace, logger)
	checker := typescript.NewTSC(cfg.TSCPath, cfg.TypeCheckTimeout)
	a.Router = router.New(Runners(profiles, launcher, a.Registry, checker, logger))

	if cfg.RedisAddr != "" {
		rb, err := events.NewRedis(ctx, cfg.RedisAddr, cfg.EventsChannel, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.Broker = rb
		a.closers = append(a.closers, rb)
	} else {
		mb := events.NewMemory(logger)
		a.Broker = mb
		a.closers = append(a.closers, mb)
	}

	a.Queue = queue.New(ctx, a.Router, a.Broker, logger)

	logger.Info().
		Str("backend", cfg.SandboxBackend).
		Strs("languages", a.Router.Wired()).
		Msg("compilation service assembled")
	return a, nil
}

func (a *App) launcher(ctx context.Context, cfg *config.Config, profiles map[string]sandbox.Profile) (sandbox.Launcher, error) {
	switch cfg.SandboxBackend {
	case config.BackendAPI:
		cli, err := docker.NewClient(ctx, a.log)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cli)
		if cfg.EnsureImages {
			for lang, p := range profiles {
				if p.Disabled {
					continue
				}
				// Locally built runner images cannot be pulled; docker reports that on launch.
				if err := cli.EnsureImage(ctx, p.Image); err != nil {
					a.log.Warn().Err(err).Str("language", lang).Msg("image not available")
				}
			}
		}
		return cli, nil
	case config.BackendCLI:
		return docker.NewCLI(cfg.DockerBinary, a.log), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.SandboxBackend)
	}
}

// Runners builds one engine per enabled profile, plus the TypeScript runner on top of
// the JavaScript engine. Disabled languages get no runner.
func Runners(profiles map[string]sandbox.Profile, launcher sandbox.Launcher, tracker domain.ProcessTracker, checker typescript.Checker, logger zerolog.Logger) map[string]domain.Runner {
	runners := make(map[string]domain.Runner, len(profiles)+1)
	for lang, p := range profiles {
		if p.Disabled {
			continue
		}
		runners[lang] = sandbox.NewEngine(p, launcher, tracker, logger)
	}
	if js, ok := runners[sandbox.JavaScript]; ok && checker != nil {
		runners[sandbox.TypeScript] = typescript.NewRunner(checker, typescript.Esbuild{}, js, logger)
	}
	return runners
}

// Shutdown reclaims every live sandbox process, then releases connections.
func (a *App) Shutdown(ctx context.Context) {
	a.Registry.Shutdown(ctx)
	a.close()
}

// Kill signals every live sandbox process without waiting.
func (a *App) Kill() {
	a.Registry.KillAll()
	a.close()
}

func (a *App) close() {
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i].Close(); err != nil {
				a.log.Warn().Err(err).Msg("failed to close resource")
			}
		}
	})
}
