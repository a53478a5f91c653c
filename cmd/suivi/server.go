package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/victorgomez09/suivi/internal/api"
	"github.com/victorgomez09/suivi/internal/auth/directory"
	"github.com/victorgomez09/suivi/internal/auth/service"
	"github.com/victorgomez09/suivi/internal/auth/sessionstore"
	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/internal/database"
	"github.com/victorgomez09/suivi/internal/health"
	"github.com/victorgomez09/suivi/internal/logger"
	"github.com/victorgomez09/suivi/internal/notify"
	"github.com/victorgomez09/suivi/internal/server"
	"github.com/victorgomez09/suivi/internal/work"
)

const (
	limiterSweepInterval = 5 * time.Minute
	certCheckInterval    = 12 * time.Hour
)

type ServerBuilder struct {
	config     *config.Suivi
	logger     *zap.Logger
	logManager *logger.LoggerManager
}

func NewServerBuilder(cfg *config.Suivi, logger *zap.Logger, logManager *logger.LoggerManager) *ServerBuilder {
	return &ServerBuilder{
		config:     cfg,
		logger:     logger,
		logManager: logManager,
	}
}

// BuildServer opens the store and wires every service behind the HTTP API. Components that were
// opened are closed again when a later step fails.
func (sb *ServerBuilder) BuildServer(ctx context.Context, errChan chan<- error) (srv *server.Server, err error) {
	var cleanup []func()
	defer func() {
		if err != nil {
			for i := len(cleanup) - 1; i >= 0; i-- {
				cleanup[i]()
			}
		}
	}()

	store, err := database.Open(ctx, sb.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	cleanup = append(cleanup, func() { _ = store.Close() })

	var sessions service.SessionStore
	var redisStore *sessionstore.RedisStore
	if sb.config.Sessions.Store == config.SessionStoreRedis {
		client, err := sessionstore.Connect(ctx, sb.config.Sessions.RedisURL)
		if err != nil {
			return nil, err
		}
		redisStore = sessionstore.NewRedisStore(client, sb.config.Auth.RenewalWindow)
		cleanup = append(cleanup, func() { _ = redisStore.Close() })
		sessions = redisStore
	}

	mailer, err := notify.NewMailer(sb.config.Mail, sb.logManager.GetLogger("suivi.notify"))
	if err != nil {
		return nil, fmt.Errorf("failed to configure mailer: %w", err)
	}
	hub := notify.NewHub(sb.logManager.GetLogger("suivi.notify"), sb.allowedOrigins())
	notifyService := notify.NewService(store, hub, mailer, sb.logManager.GetLogger("suivi.notify"))

	authLogger := sb.logManager.GetLogger("suivi.auth")
	opts := []service.Option{
		service.WithLogger(authLogger),
		service.WithLockNotifier(notifyService),
		service.WithRevocationListener(hub),
	}
	if sb.config.Directory.Enabled {
		opts = append(opts, service.WithDirectory(
			directory.NewClient(sb.config.Directory.URL, sb.config.Directory.Timeout, authLogger)))
	}
	authService, err := service.NewAuthService(store, sessions, sb.buildAuthConfig(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize auth service: %w", err)
	}
	authService.Start(ctx)
	cleanup = append(cleanup, authService.Close)
	hub.CheckSessions(authService.Sessions().Active)

	workService := work.NewService(store,
		work.WithNotifier(notifyService),
		work.WithLogger(sb.logManager.GetLogger("suivi.work")))

	probes := []health.Probe{health.PingProbe("database", true, store)}
	if redisStore != nil {
		probes = append(probes, health.PingProbe("redis", true, redisStore))
	}
	if sb.config.Directory.Enabled {
		probes = append(probes, health.TCPProbe("directory", sb.config.Directory.URL))
	}
	hc := sb.config.Health
	checker := health.NewChecker(hc.Interval, hc.Timeout, hc.UnhealthyThreshold, sb.logger, probes...)
	checker.Start(ctx)
	cleanup = append(cleanup, checker.Stop)

	router := api.New(sb.config, authService, workService, notifyService, checker, sb.logManager.GetLogger("suivi.api"))

	srv, err = server.NewServer(ctx, errChan, sb.config, router.Handler(), sb.logger)
	if err != nil {
		return nil, err
	}

	srv.Go("login limiter sweep", limiterSweepInterval, func(context.Context) {
		if n := router.LoginLimiter().Sweep(); n > 0 {
			sb.logger.Debug("Forgot idle sign-in buckets", zap.Int("count", n))
		}
	})

	if sb.config.TLS.Enabled {
		certFile := sb.config.TLS.CertFile
		_, _ = server.CheckCertificate(certFile, time.Now(), sb.logger)
		srv.Go("certificate expiry", certCheckInterval, func(context.Context) {
			_, _ = server.CheckCertificate(certFile, time.Now(), sb.logger)
		})
	}

	// Stopped in order once the listener has drained.
	srv.OnShutdown("Health checker", func(context.Context) error {
		checker.Stop()
		return nil
	})
	srv.OnShutdown("Notification hub", func(context.Context) error {
		hub.Close()
		return nil
	})
	srv.OnShutdown("Auth service", func(context.Context) error {
		authService.Close()
		return nil
	})
	if redisStore != nil {
		srv.OnShutdown("Redis session store", func(context.Context) error { return redisStore.Close() })
	}
	srv.OnShutdown("Database", func(context.Context) error { return store.Close() })
	return srv, nil
}

func (sb *ServerBuilder) allowedOrigins() []string {
	for _, m := range sb.config.Middleware {
		if m.CORS != nil {
			return m.CORS.AllowedOrigins
		}
	}
	return nil
}

func (sb *ServerBuilder) buildAuthConfig() service.AuthConfig {
	a := sb.config.Auth
	return service.AuthConfig{
		JWTSecret:              []byte(a.JWTSecret),
		SessionTTL:             a.SessionTTL,
		RenewalWindow:          a.RenewalWindow,
		MaxLoginAttempts:       a.MaxLoginAttempts,
		PasswordHistoryLimit:   a.PasswordHistoryLimit,
		BcryptCost:             a.BcryptCost,
		SessionCleanupInterval: a.SessionCleanupInterval,
	}
}
