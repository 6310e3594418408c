// Package app composes the sync engine with fx.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/lojinha/chatsync/internal/bus"
	"github.com/lojinha/chatsync/internal/cache"
	"github.com/lojinha/chatsync/internal/chat"
	"github.com/lojinha/chatsync/internal/config"
	"github.com/lojinha/chatsync/internal/lock"
	"github.com/lojinha/chatsync/internal/logging"
	"github.com/lojinha/chatsync/internal/push"
	"github.com/lojinha/chatsync/internal/remote"
	"github.com/lojinha/chatsync/internal/status"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	ConfigPath string
}

// Module returns the fx module for the engine, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("chatsync",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideCache,
			provideRemote,
			provideManager,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && p.ConfigPath == "" {
		// First run: write a starter config for the user to fill in.
		starter := &config.Config{
			ViewerRole: "admin",
			CachePath:  config.CacheDBPath(),
		}
		if werr := config.Save(path, starter); werr != nil {
			return nil, fmt.Errorf("write starter config: %w", werr)
		}
		return nil, fmt.Errorf("wrote starter config to %s; set base_url, push_url and token", path)
	}
	return cfg, err
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(config.LogPath(), cfg.ViewerRole)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Guard, error) {
	if cfg.CachePath == config.MemoryCachePath {
		// In-memory cache needs no cross-process exclusion.
		return nil, nil
	}
	if err := config.EnsureDirs(); err != nil {
		return nil, err
	}
	g, err := lock.Acquire(cfg.CachePath)
	if err != nil {
		return nil, err
	}
	logger.Info("cache lock acquired", zap.String("db", g.DBPath()))
	return g, nil
}

func provideCache(cfg *config.Config, _ *lock.Guard, logger *zap.Logger) (cache.Store, error) {
	if cfg.CachePath == config.MemoryCachePath {
		logger.Info("using in-memory cache")
		return cache.NewMemory(cfg.CacheMaxEntries, logger), nil
	}
	s, err := cache.OpenSQLite(cfg.CachePath, cfg.CacheMaxEntries, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("cache initialized", zap.String("path", cfg.CachePath))
	return s, nil
}

func provideRemote(cfg *config.Config, logger *zap.Logger) chat.Remote {
	return remote.NewClient(remote.Config{
		BaseURL: cfg.BaseURL,
		Token:   cfg.Token,
		Viewer:  chat.Role(cfg.ViewerRole),
		Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
	}, logger)
}

func provideManager(b *bus.Bus, logger *zap.Logger) *push.Manager {
	return push.NewManager(b, logger)
}

func provideTransport(cfg *config.Config, m *push.Manager, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *push.Transport {
	return push.NewTransport(push.TransportConfig{
		URL:               cfg.PushURL,
		Token:             cfg.Token,
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
	}, m.HandleFrame, machine, b, logger)
}

func provideEngine(cfg *config.Config, r chat.Remote, store cache.Store, b *bus.Bus, m *push.Manager, logger *zap.Logger) *Engine {
	return NewEngine(chat.Role(cfg.ViewerRole), r, store, b, m, logger)
}

func registerLifecycle(lc fx.Lifecycle, engine *Engine, transport *push.Transport, manager *push.Manager, lk *lock.Guard, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			manager.Start(context.Background())
			engine.Start(ctx)

			// The push channel connects in the background; the engine is
			// usable on cached and fetched data before it is up.
			go func() {
				dialCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				if err := transport.Connect(dialCtx); err != nil {
					logger.Error("push channel connect failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			manager.Stop()
			if err := transport.Close(); err != nil {
				logger.Warn("error closing push channel", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing cache lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
