// cmd/agentidd/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RegistryAccord/registryaccord-agentid-go/internal/config"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/gateway"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/registry"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/server"
	"github.com/RegistryAccord/registryaccord-agentid-go/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("agentidd exited", "error", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if cfg.IsProd() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	opts.Level = slog.LevelDebug
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

// app holds the wired service and everything that must be released on exit.
type app struct {
	handler http.Handler
	gateway *gateway.Gateway
	closers []func(context.Context) error
}

// shutdown stops the gateway first so no new tokens are minted, then closes
// the backends in reverse order of opening.
func (a *app) shutdown(ctx context.Context) error {
	errs := []error{a.gateway.Shutdown(ctx)}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}

// backends groups the stores chosen by ID_LEDGER_BACKEND.
type backends struct {
	ledger     storage.Ledger
	challenges storage.ChallengeStore
	idem       storage.IdempotencyStore
	closers    []func(context.Context) error
}

func openBackends(ctx context.Context, cfg config.Config, mem *storage.Memory, logger *slog.Logger) (backends, error) {
	b := backends{ledger: mem, challenges: mem, idem: mem}
	switch cfg.LedgerBackend {
	case config.BackendMemory, "":
	case config.BackendPostgres:
		pg, err := storage.NewPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return backends{}, err
		}
		if err := storage.MigratePostgres(ctx, pg.DB()); err != nil {
			_ = pg.Close()
			return backends{}, err
		}
		b.ledger, b.challenges, b.idem = pg, pg, pg
		b.closers = append(b.closers, func(context.Context) error { return pg.Close() })
	case config.BackendBadger:
		bg, err := storage.NewBadger(cfg.BadgerPath)
		if err != nil {
			return backends{}, err
		}
		b.ledger = bg
		b.closers = append(b.closers, func(context.Context) error { return bg.Close() })
	case config.BackendMongo:
		mg, err := storage.NewMongo(ctx, cfg.MongoURI, cfg.MongoDatabase, "did_documents")
		if err != nil {
			return backends{}, err
		}
		b.ledger = mg
		b.closers = append(b.closers, mg.Close)
	default:
		return backends{}, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
	logger.Info("ledger backend ready", "backend", cfg.LedgerBackend)
	return b, nil
}

// build wires the same components main() runs. Public keys always live in
// process memory; the ledger backend is configurable.
func build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	mem := storage.NewMemory()
	b, err := openBackends(ctx, cfg, mem, logger)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	opts := gateway.Options{
		Keys:         mem,
		Scopes:       gateway.NewScopeTable(cfg.Scopes),
		Secret:       cfg.TokenSecret,
		Issuer:       cfg.TokenIssuer,
		TokenTTL:     cfg.SessionTTL,
		ChallengeTTL: cfg.ChallengeTTL,
		Logger:       logger.With("component", "gateway"),
	}
	if cfg.FeatureSingleUseChallenge {
		opts.Challenges = b.challenges
	}
	gw, err := gateway.New(opts)
	if err != nil {
		for _, c := range b.closers {
			_ = c(ctx)
		}
		return nil, err
	}
	if opts.Scopes.Len() == 0 {
		logger.Warn("scope table is empty; every authentication will be refused")
	}
	logger.Info("gateway ready", "scopes", opts.Scopes.Scopes(), "singleUseChallenges", gw.SingleUseChallenges())

	reg := registry.New(b.ledger,
		registry.WithTimeout(cfg.LedgerTimeout),
		registry.WithLogger(logger.With("component", "registry")),
	)
	h, err := server.New(cfg, gw, reg, b.idem, logger)
	if err != nil {
		_ = gw.Shutdown(ctx)
		for _, c := range b.closers {
			_ = c(ctx)
		}
		return nil, err
	}
	return &app{handler: h.Router(), gateway: gw, closers: b.closers}, nil
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	a, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		logger.Info("agentidd starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	// Metrics are also served on the main router; the standalone listener
	// keeps scraping off the application port.
	var metricsSrv *http.Server
	if cfg.MetricsAddress != "" && cfg.MetricsAddress != cfg.Address {
		metricsSrv = &http.Server{
			Addr:              cfg.MetricsAddress,
			Handler:           server.NewMetricsHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics server starting", "addr", metricsSrv.Addr)
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case runErr = <-errCh:
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	errs := []error{runErr}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
		}
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
