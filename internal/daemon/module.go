// Package daemon composes the per-session synchronization daemon: one
// session, one lock, one mirror, one connection.
package daemon

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/chatterd/chatterd/internal/bus"
	"github.com/chatterd/chatterd/internal/config"
	"github.com/chatterd/chatterd/internal/engine"
	"github.com/chatterd/chatterd/internal/lock"
	"github.com/chatterd/chatterd/internal/logging"
	"github.com/chatterd/chatterd/internal/rest"
	"github.com/chatterd/chatterd/internal/session"
	"github.com/chatterd/chatterd/internal/status"
	"github.com/chatterd/chatterd/internal/store"
	"github.com/chatterd/chatterd/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideConfig,
			provideCredentials,
			provideStore,
			provideREST,
			provideTransport,
			provideEngine,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
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
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("session", p.SessionName))
	return l, nil
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.String("path", session.ConfigPath()))
		cfg = &config.Config{}
	}
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8000"
	}
	return cfg
}

func provideCredentials(p Params) (*session.Session, error) {
	s, err := session.LoadCredentials(session.CredentialsPath(p.SessionName))
	if err != nil {
		return nil, fmt.Errorf("session %q has no usable credentials: %w", p.SessionName, err)
	}
	return s, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideREST(cfg *config.Config, s *session.Session) *rest.Client {
	return rest.NewClient(cfg.ServerURL, s.Token)
}

func provideTransport(cfg *config.Config, s *session.Session, machine *status.Machine, b *bus.Bus, logger *zap.Logger) *transport.Client {
	// Re-derived on every dial so a credential rotation takes effect on the
	// next attempt, never cached across sessions.
	deriveURL := func() string {
		return pushURL(cfg.ServerURL, s.UserID, s.Token)
	}
	opts := transport.Options{
		RetryDelay:  cfg.ReconnectDelay(),
		MaxAttempts: cfg.ReconnectMaxAttempts,
	}
	return transport.NewClient(deriveURL, machine, b, logger, opts)
}

// pushURL maps the REST base URL onto the push channel endpoint:
// http(s)://host -> ws(s)://host/ws/<user_id>?token=...
func pushURL(serverURL string, userID int64, token string) string {
	u, err := url.Parse(serverURL)
	if err != nil {
		return serverURL
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + fmt.Sprintf("/ws/%d", userID)
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func provideEngine(s *session.Session, tr *transport.Client, api *rest.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *engine.Engine {
	return engine.NewEngine(s.UserID, tr, api, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, tr *transport.Client, eng *engine.Engine, lk *lock.Lock, db *store.DB, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			logger.Info("daemon starting",
				zap.String("session", p.SessionName),
				zap.Int("pid", os.Getpid()))

			// Engine first: it seeds the view from the mirror, then the
			// fresh snapshot and the live stream land on its loop.
			eng.Start(context.Background())
			if err := tr.Open(context.Background()); err != nil {
				return err
			}
			eng.Resync()
			return nil
		},
		OnStop: func(_ context.Context) error {
			tr.Close()
			eng.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
