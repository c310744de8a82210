package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultDevBackendAddr  = "127.0.0.1:8081"
	defaultShutdownTimeout = 10 * time.Second
)

// HTTPServerConfig describes a server run by ServeHTTP.
type HTTPServerConfig struct {
	Name            string
	Addr            string
	Handler         http.Handler
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func newHTTPServer(cfg HTTPServerConfig) *http.Server {
	return &http.Server{
		Handler:           cfg.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}

// ServeHTTP listens on cfg.Addr and serves until ctx is canceled, then drains
// in-flight requests for at most cfg.ShutdownTimeout. An empty address falls
// back to the loopback dev backend port rather than all interfaces.
func ServeHTTP(ctx context.Context, cfg HTTPServerConfig) error {
	if cfg.Addr == "" {
		cfg.Addr = defaultDevBackendAddr
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("server", cfg.Name)

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("%s: listen %s: %w", cfg.Name, cfg.Addr, err)
	}
	srv := newHTTPServer(cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoContext(gctx, "listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%s: %w", cfg.Name, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s: shutdown: %w", cfg.Name, err)
		}
		logger.InfoContext(shutdownCtx, "stopped")
		return nil
	})
	return g.Wait()
}
