package daemon

import (
	"context"
	"fmt"

	"github.com/rmaffei/crmlink/internal/api"
	"github.com/rmaffei/crmlink/internal/bus"
	"github.com/rmaffei/crmlink/internal/cache"
	"github.com/rmaffei/crmlink/internal/config"
	"github.com/rmaffei/crmlink/internal/lock"
	"github.com/rmaffei/crmlink/internal/logging"
	"github.com/rmaffei/crmlink/internal/outbox"
	"github.com/rmaffei/crmlink/internal/realtime"
	"github.com/rmaffei/crmlink/internal/rest"
	"github.com/rmaffei/crmlink/internal/session"
	"github.com/rmaffei/crmlink/internal/status"
	intsync "github.com/rmaffei/crmlink/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideRESTClient,
			provideConversationCache,
			provideThreadCache,
			provideSuggestionCache,
			provideRealtimeClient,
			provideEngine,
			provideSender,
			provideSessionService,
			provideConversationService,
			provideMessageService,
			provideSuggestionService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if cfg.API.BaseURL == "" || cfg.Realtime.URL == "" {
		return nil, fmt.Errorf("config %s: api.base_url and realtime.url are required", path)
	}
	logger.Info("config loaded", zap.String("path", path))
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideRESTClient(p Params, cfg *config.Config) *rest.Client {
	return rest.NewClient(cfg.API.BaseURL, func() (string, error) {
		return session.ReadToken(p.SessionName)
	})
}

func provideConversationCache(rc *rest.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *cache.ConversationCache {
	return cache.NewConversationCache(rc, b, logger, cfg.Chat.ListPageSize)
}

func provideThreadCache(rc *rest.Client, b *bus.Bus, logger *zap.Logger) *cache.ThreadCache {
	return cache.NewThreadCache(rc, b, logger)
}

func provideSuggestionCache(cfg *config.Config, b *bus.Bus) *cache.SuggestionCache {
	return cache.NewSuggestionCache(b, cfg.Chat.SuggestionCap)
}

func provideRealtimeClient(p Params, cfg *config.Config, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *realtime.Client {
	return realtime.NewClient(realtime.Options{
		URL: cfg.Realtime.URL,
		Token: func() (string, error) {
			return session.ReadToken(p.SessionName)
		},
		MaxReconnectAttempts: cfg.Realtime.MaxReconnectAttempts,
		ReconnectDelay:       cfg.Realtime.ReconnectDelay(),
		EmitRetryDelay:       cfg.Realtime.EmitRetryDelay(),
	}, b, machine, logger)
}

func provideEngine(convs *cache.ConversationCache, thread *cache.ThreadCache, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(convs, thread, b, logger)
}

func provideSender(rc *rest.Client, thread *cache.ThreadCache, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(rc, thread, b, logger)
}

func provideSessionService(p Params, rt *realtime.Client, convs *cache.ConversationCache, thread *cache.ThreadCache, sugs *cache.SuggestionCache, logger *zap.Logger) *api.SessionService {
	onLogout := func() {
		rt.Disconnect()
		convs.Clear()
		thread.Clear()
		sugs.Clear()
		if err := session.ClearToken(p.SessionName); err != nil {
			logger.Warn("failed to clear token", zap.Error(err))
		}
		logger.Info("session logged out")
	}
	return api.NewSessionService(p.SessionName, rt, onLogout)
}

func provideConversationService(convs *cache.ConversationCache, thread *cache.ThreadCache, rt *realtime.Client, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(convs, thread, rt, logger)
}

func provideMessageService(sender *outbox.Sender) *api.MessageService {
	return api.NewMessageService(sender)
}

func provideSuggestionService(rc *rest.Client, sugs *cache.SuggestionCache) *api.SuggestionService {
	return api.NewSuggestionService(rc, sugs)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, rt *realtime.Client, engine *intsync.Engine, sender *outbox.Sender, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Start the engine first so no push event is missed.
			engine.Start(context.Background())

			// Start control server in background.
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			// Start outbox sender.
			sender.Start(context.Background())

			// Connect in background; a missing credential surfaces as
			// FAILED state, visible via the control API.
			go func() {
				if err := rt.Connect(context.Background()); err != nil {
					logger.Error("initial connect failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			sender.Stop()
			engine.Stop()
			rt.Disconnect()
			srv.Stop(ctx)
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
