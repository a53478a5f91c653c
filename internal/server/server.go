package server

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/victorgomez09/suivi/internal/config"
	"github.com/victorgomez09/suivi/internal/logger"
	"github.com/victorgomez09/suivi/internal/shutdown"
)

// default configurations
const (
	ReadTimeout         = 15 * time.Second
	WriteTimeout        = 15 * time.Second
	IdleTimeout         = 60 * time.Second
	ShutdownGracePeriod = 30 * time.Second
)

// Server runs the API listener and the background routines of the application, and stops them
// in order on shutdown.
type Server struct {
	config          *config.Suivi
	http            *http.Server
	logger          *zap.Logger
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	errorChan       chan<- error
	shutdownManager *shutdown.Manager
}

// NewServer prepares the listener for handler. Listener errors are reported on errChan.
func NewServer(srvCtx context.Context, errChan chan<- error, cfg *config.Suivi, handler http.Handler, zLog *zap.Logger) (*Server, error) {
	srv := &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  orDefault(cfg.Server.ReadTimeout, ReadTimeout),
		WriteTimeout: orDefault(cfg.Server.WriteTimeout, WriteTimeout),
		IdleTimeout:  orDefault(cfg.Server.IdleTimeout, IdleTimeout),
		ErrorLog:     logger.StdLogger(zLog, zapcore.WarnLevel, "http: "),
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := loadTLSConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return nil, err
		}
		srv.TLSConfig = tlsConfig
	}

	ctx, cancel := context.WithCancel(srvCtx)
	return &Server{
		config:          cfg,
		http:            srv,
		logger:          zLog,
		ctx:             ctx,
		cancel:          cancel,
		errorChan:       errChan,
		shutdownManager: shutdown.NewManager(zLog),
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return s.http.Addr
}

// Start listens on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	s.Serve(ln)
	return nil
}

// Serve accepts connections on ln in the background.
func (s *Server) Serve(ln net.Listener) {
	if s.http.TLSConfig != nil {
		ln = tls.NewListener(ln, s.http.TLSConfig)
	}
	s.wg.Add(1)
	go s.runServer(ln)
}

func (s *Server) runServer(ln net.Listener) {
	defer s.wg.Done()

	s.logger.Info("Server started",
		zap.String("listen_on", ln.Addr().String()),
		zap.Bool("tls", s.http.TLSConfig != nil))

	err := s.http.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Error running server", zap.Error(err))
		defer s.cancel()
		if s.errorChan != nil {
			s.errorChan <- err
		}
		return
	}
	s.logger.Info("Server stopped gracefully")
}

// Go runs fn every interval until the server shuts down.
func (s *Server) Go(name string, interval time.Duration, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				s.logger.Debug("Background routine stopped", zap.String("routine", name))
				return
			case <-ticker.C:
				fn(s.ctx)
			}
		}
	}()
}

// OnShutdown registers a component to stop after the listener and every component registered
// before it.
func (s *Server) OnShutdown(name string, fn func(context.Context) error) {
	s.shutdownManager.RegisterShutdown(name, fn)
	s.shutdownManager.NextStage()
}

// Shutdown stops the listener, waits for in-flight requests, then stops the registered
// components in registration order.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.shutdownManager.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	err := errors.Join(errs...)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
