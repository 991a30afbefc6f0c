// Package daemon composes the engine's components into one fx application.
package daemon

import (
	"context"
	"os"

	"github.com/famguard/chatsync/internal/bus"
	"github.com/famguard/chatsync/internal/config"
	"github.com/famguard/chatsync/internal/connectivity"
	"github.com/famguard/chatsync/internal/delivery"
	"github.com/famguard/chatsync/internal/functions"
	"github.com/famguard/chatsync/internal/identity"
	"github.com/famguard/chatsync/internal/lock"
	"github.com/famguard/chatsync/internal/logging"
	"github.com/famguard/chatsync/internal/outbox"
	"github.com/famguard/chatsync/internal/presence"
	"github.com/famguard/chatsync/internal/profile"
	"github.com/famguard/chatsync/internal/remote"
	"github.com/famguard/chatsync/internal/remote/fstore"
	"github.com/famguard/chatsync/internal/remote/memstore"
	"github.com/famguard/chatsync/internal/store"
	intsync "github.com/famguard/chatsync/internal/sync"
	"github.com/famguard/chatsync/internal/version"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideIdentity,
			provideLock,
			provideQueueStore,
			provideRemoteStore,
			provideReceipts,
			provideMonitor,
			provideGuard,
			provideTracker,
			provideEngine,
			providePresence,
			provideSweeper,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("config unreadable, using defaults", zap.Error(err))
		}
		return config.Default()
	}
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideIdentity(cfg *config.Config, logger *zap.Logger) (identity.Provider, error) {
	provider := identity.Resolve(cfg.UserID)
	uid, err := provider.CurrentUserID()
	if err != nil {
		return nil, err
	}
	logger.Info("acting as user", zap.String("uid", uid))
	return provider, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideQueueStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.QueueDBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("offline queue initialized", zap.String("path", dbPath))
	return db, nil
}

// provideRemoteStore selects the binding: Firestore when a project is
// configured, the in-memory store for local development.
func provideRemoteStore(cfg *config.Config, logger *zap.Logger) (remote.Store, error) {
	if cfg.Remote.ProjectID == "" {
		logger.Warn("no remote project configured, using in-memory store")
		return memstore.New(), nil
	}
	st, err := fstore.New(context.Background(), cfg.Remote.ProjectID, cfg.Remote.CredentialsFile)
	if err != nil {
		return nil, err
	}
	logger.Info("firestore connected", zap.String("project", cfg.Remote.ProjectID))
	return st, nil
}

func provideReceipts(cfg *config.Config, logger *zap.Logger) delivery.Receipts {
	if cfg.Remote.FunctionsBaseURL == "" {
		return nil
	}
	return functions.New(cfg.Remote.FunctionsBaseURL, cfg.Engine.ProbeTimeout(), logger)
}

func provideMonitor(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *connectivity.Monitor {
	return connectivity.New(cfg.Engine.ProbeHosts, cfg.Engine.ProbeInterval(), cfg.Engine.ProbeTimeout(), b, logger)
}

func provideGuard(st remote.Store, cfg *config.Config) *version.Guard {
	return version.NewGuard(st, cfg.Engine.ConflictAttempts)
}

func provideTracker(st remote.Store, guard *version.Guard, receipts delivery.Receipts, b *bus.Bus, logger *zap.Logger) *delivery.Tracker {
	return delivery.NewTracker(st, guard, receipts, b, logger)
}

// fx cannot resolve a bare string, so the uid travels as identity.Provider
// and is unpacked at the consumers.
func provideEngine(st remote.Store, db *store.DB, tracker *delivery.Tracker, monitor *connectivity.Monitor, b *bus.Bus, logger *zap.Logger, id identity.Provider) (*intsync.Engine, error) {
	uid, err := id.CurrentUserID()
	if err != nil {
		return nil, err
	}
	return intsync.NewEngine(st, db, tracker, monitor, b, logger, uid), nil
}

func providePresence(st remote.Store, cfg *config.Config, b *bus.Bus, logger *zap.Logger, id identity.Provider) (*presence.Service, error) {
	uid, err := id.CurrentUserID()
	if err != nil {
		return nil, err
	}
	host, _ := os.Hostname()
	return presence.New(st, b, logger, uid, presence.Config{
		Heartbeat:  cfg.Engine.Heartbeat(),
		TypingTTL:  cfg.Engine.TypingTTL(),
		Window:     cfg.Engine.PresenceWindow(),
		DeviceInfo: host,
	}), nil
}

func provideSweeper(db *store.DB, engine *intsync.Engine, monitor *connectivity.Monitor, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *outbox.Sweeper {
	return outbox.NewSweeper(db, engine, monitor, b, logger, outbox.Config{
		Interval:   cfg.Engine.SweepInterval(),
		RetryBase:  cfg.Engine.RetryBase(),
		RetryCap:   cfg.Engine.RetryCap(),
		MaxRetries: cfg.Engine.MaxRetries,
	})
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, monitor *connectivity.Monitor, sweeper *outbox.Sweeper, svc *presence.Service, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Monitor first so the sweeper's initial sweep sees a verdict.
			monitor.Start(context.Background())
			sweeper.Start(context.Background())
			svc.StartHeartbeat(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			// Streams and timers go down before the goodbye write so our
			// own offline transition is not fed back into us.
			svc.StopHeartbeat()
			sweeper.Stop()
			monitor.Stop()
			svc.MarkOffline(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing queue store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
