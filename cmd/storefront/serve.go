package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/benjaminabbitt/storefront/backend"
	"github.com/benjaminabbitt/storefront/config"
	"github.com/benjaminabbitt/storefront/engine"
	"github.com/benjaminabbitt/storefront/shop"
	"github.com/benjaminabbitt/storefront/storage"
	"github.com/benjaminabbitt/storefront/tabsync"
	"github.com/benjaminabbitt/storefront/web"
)

const shutdownTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve storefront sessions over HTTP",
		Long: `Start the storefront HTTP server.

Sessions in this process share the configured store. Set sync.hub_endpoint
to share cart changes with engine processes on other hosts.

Examples:
  storefront serve --addr :8080
  STOREFRONT_STORAGE_DRIVER=sqlite STOREFRONT_STORAGE_DSN=cart.db storefront serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if addr != "" {
				cfg.HTTP.Address = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address (overrides http.address)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) (err error) {
	kv, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, kv.Close()) }()

	var bus tabsync.Bus = tabsync.NewLocalBus(logger)
	if cfg.Sync.HubEndpoint != "" {
		hub, herr := tabsync.NewHubClient(cfg.Sync.HubEndpoint, logger)
		if herr != nil {
			return herr
		}
		defer func() { err = multierr.Append(err, hub.Close()) }()
		bus = hub
	}

	var opts []engine.Option
	opts = append(opts, engine.WithLogger(logger))
	if cfg.Log.Pretty {
		opts = append(opts, engine.WithEventLogger(shop.NewEventLogger(os.Stderr)))
	}
	e := engine.New(kv, bus, cfg.Engine(), remoteFor(cfg, logger), opts...)
	defer func() { err = multierr.Append(err, e.Close()) }()

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           web.NewServer(e, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.String("address", cfg.HTTP.Address))
		if serr := srv.ListenAndServe(); serr != nil && !errors.Is(serr, http.ErrServerClosed) {
			errCh <- serr
		}
		close(errCh)
	}()

	select {
	case serr := <-errCh:
		return serr
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Info("http server stopping")
	return srv.Shutdown(shutdownCtx)
}

// remoteFor wires the backend services named in cfg. Unset URLs leave the
// matching service out; checkout then fails with a network error.
func remoteFor(cfg *config.Config, logger *zap.Logger) engine.Remote {
	clientOpts := []backend.Option{
		backend.WithLogger(logger),
		backend.WithRateLimit(cfg.Backend.RateLimit, cfg.Backend.RateBurst),
		backend.WithRetries(cfg.Backend.Retries, cfg.Backend.RetryDelay),
	}
	var remote engine.Remote
	if cfg.Backend.BaseURL != "" {
		client := backend.New(cfg.Backend.BaseURL, append(clientOpts, backend.WithAPIKey(cfg.Backend.APIKey))...)
		remote = engine.RemoteFromClient(client, nil, cfg.Backend.QuoteCache)
	}
	if cfg.Payment.Card.BaseURL != "" {
		remote.Capture = backend.NewCaptureClient(cfg.Payment.Card.BaseURL, cfg.Payment.Card.SecretKey, clientOpts...)
	}
	return remote
}
