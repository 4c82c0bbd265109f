package daemon

import (
	"context"
	"errors"

	"github.com/matheus3301/teamsync/internal/api"
	"github.com/matheus3301/teamsync/internal/bus"
	"github.com/matheus3301/teamsync/internal/chime"
	"github.com/matheus3301/teamsync/internal/config"
	"github.com/matheus3301/teamsync/internal/lock"
	"github.com/matheus3301/teamsync/internal/logging"
	"github.com/matheus3301/teamsync/internal/metrics"
	"github.com/matheus3301/teamsync/internal/rest"
	"github.com/matheus3301/teamsync/internal/session"
	"github.com/matheus3301/teamsync/internal/store"
	intsync "github.com/matheus3301/teamsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // optional override; empty = ~/.teamsync/config.toml
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			providePaths,
			provideConfig,
			provideLogger,
			provideBus,
			provideMetrics,
			provideLock,
			provideStore,
			provideREST,
			provideChime,
			provideSyncEngine,
			provideControl,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

// providePaths applies the socket override from Params to the session layout.
func providePaths(p Params) session.Paths {
	paths := session.PathsFor(p.SessionName)
	if p.SocketPath != "" {
		paths.Socket = p.SocketPath
	}
	return paths
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	return config.LoadOrDefault(path)
}

func provideLogger(p Params, paths session.Paths, cfg *config.Config) (*zap.Logger, error) {
	return logging.New(logging.Options{
		Path:    paths.Log,
		Session: p.SessionName,
		Level:   cfg.Log.Level,
		Stderr:  cfg.Log.Stderr,
	})
}

func provideBus(m *metrics.Collectors) *bus.Bus {
	b := bus.New()
	b.OnDrop(m.BusDropped)
	return b
}

func provideMetrics() *metrics.Collectors {
	return metrics.New()
}

func provideLock(p Params, paths session.Paths, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.Ensure(); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(paths.Lock, p.SessionName)
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never share a database.
func provideStore(paths session.Paths, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DB
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideREST(cfg *config.Config) (*rest.Client, error) {
	return rest.NewClient(cfg.Server.APIURL, cfg.Timeouts.HTTP.Duration)
}

func provideChime(cfg *config.Config, logger *zap.Logger) chime.Player {
	if !cfg.Chime.Enabled {
		return chime.Nop{}
	}
	return chime.NewBeeper(cfg.Chime.Desktop, logger.Named("chime"))
}

func provideSyncEngine(cfg *config.Config, client *rest.Client, db *store.DB, b *bus.Bus, m *metrics.Collectors, player chime.Player, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(intsync.Options{
		Config:  cfg,
		REST:    client,
		DB:      db,
		Bus:     b,
		Metrics: m,
		Player:  player,
		Logger:  logger.Named("sync"),
	})
}

func provideControl(p Params, paths session.Paths, engine *intsync.Engine, b *bus.Bus, logger *zap.Logger) *api.Control {
	return api.NewControl(engine, b, p.SessionName, paths.Credential, logger.Named("api"))
}

type lifecycleParams struct {
	fx.In

	Paths   session.Paths
	Config  *config.Config
	Server  *Server
	Lock    *lock.Lock
	DB      *store.DB
	Engine  *intsync.Engine
	Metrics *metrics.Collectors
	Player  chime.Player
	Logger  *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, in lifecycleParams) {
	logger := in.Logger
	var metricsSrv *metrics.Server

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := in.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if addr := in.Config.Metrics.Addr; addr != "" {
				srv, err := metrics.Listen(addr, in.Metrics, logger.Named("metrics"))
				if err != nil {
					logger.Warn("metrics endpoint disabled", zap.String("addr", addr), zap.Error(err))
				} else {
					metricsSrv = srv
					go func() {
						if err := srv.Start(); err != nil {
							logger.Error("metrics server error", zap.Error(err))
						}
					}()
				}
			}

			cred, err := session.LoadCredential(in.Paths.Credential)
			if err != nil {
				logger.Warn("unreadable credential, login required", zap.Error(err))
				return nil
			}
			if cred.Empty() {
				logger.Info("no credential found, login required")
				return nil
			}
			// Connecting can outlast the fx start timeout.
			go func() {
				s := intsync.Session{UserID: cred.UserID, Credential: cred.Token}
				if err := in.Engine.Start(context.Background(), s); err != nil {
					logger.Error("resume session failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			in.Engine.Stop()
			if b, ok := in.Player.(*chime.Beeper); ok {
				b.Close()
			}
			in.Server.Stop(ctx)
			if metricsSrv != nil {
				metricsSrv.Stop(ctx)
			}
			var errs []error
			if err := in.DB.Close(); err != nil {
				errs = append(errs, err)
			}
			if err := in.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return errors.Join(errs...)
		},
	})
}
