package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/stephnangue/gristproxy/listener"
	"github.com/stephnangue/gristproxy/logger"
)

const shutdownTimeout = 30 * time.Second

var _ listener.Listener = (*ApiListener)(nil)

type ApiListener struct {
	logger   logger.Logger
	server   *http.Server
	listener net.Listener
	tls      bool
	certFile string
	keyFile  string
	stopped  atomic.Bool
}

type ApiListenerConfig struct {
	Logger      logger.Logger
	Address     string
	TLSCertFile string
	TLSKeyFile  string
	TLSEnabled  bool

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
}

// NewApiListener binds the configured address. The server does not accept
// requests until Start is called.
func NewApiListener(cfg ApiListenerConfig, handler http.Handler) (*ApiListener, error) {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewZerologLogger(logger.NopConfig())
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 2 * time.Minute
	}

	ln, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Address, err)
	}

	// no read or write timeout: request and response bodies are streamed
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	if cfg.TLSEnabled {
		server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &ApiListener{
		logger:   cfg.Logger,
		server:   server,
		listener: ln,
		tls:      cfg.TLSEnabled,
		certFile: cfg.TLSCertFile,
		keyFile:  cfg.TLSKeyFile,
	}, nil
}

// Addr returns the bound address, with the actual port when ":0" was requested.
func (l *ApiListener) Addr() string {
	return l.listener.Addr().String()
}

func (l *ApiListener) Type() string {
	return "api"
}

// Start serves requests until ctx is cancelled or the server fails.
func (l *ApiListener) Start(ctx context.Context) error {
	l.logger.Info("starting HTTP server", logger.String("address", l.Addr()), logger.Bool("tls", l.tls))

	errChan := make(chan error, 1)
	go func() {
		var err error
		if l.tls {
			err = l.server.ServeTLS(l.listener, l.certFile, l.keyFile)
		} else {
			err = l.server.Serve(l.listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		l.logger.Info("shutdown signal received")
		return l.Stop()
	case err := <-errChan:
		l.logger.Error("HTTP Server error", logger.Err(err))
		return err
	}
}

func (l *ApiListener) Stop() error {
	if !l.stopped.CompareAndSwap(false, true) {
		l.logger.Info("HTTP server already stopped, skipping")
		return nil
	}

	l.logger.Info("shutting down HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// the server only tracks the listener once Serve has run
	err := l.server.Shutdown(ctx)
	if closeErr := l.listener.Close(); closeErr != nil && err == nil && !errors.Is(closeErr, net.ErrClosed) {
		err = closeErr
	}
	if err != nil {
		l.logger.Error("error when shutting down the http server", logger.Err(err))
		return err
	}

	l.logger.Info("HTTP server stopped gracefully")
	return nil
}
