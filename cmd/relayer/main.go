package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"relayer/internal/adapter/bolt"
	adapthttp "relayer/internal/adapter/http"
	"relayer/internal/adapter/memory"
	"relayer/internal/adapter/postgres"
	"relayer/internal/adapter/redis"
	"relayer/internal/app"
	"relayer/internal/config"
	"relayer/internal/domain"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("relayer stopped", "err", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seed, err := app.ParseSigningSeed(cfg.SigningKey)
	if err != nil {
		return fmt.Errorf("RELAYER_PRIVATE_KEY: %w", err)
	}
	service := app.NewSigningIdentity(seed)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.close() }()

	creds := app.NewCredentialService(cfg.AuthSecret, cfg.SessionTTL, cfg.MagicLinkTTL)
	quota := app.NewQuotaService(st.quota, cfg.Limits())
	relay := app.NewRelayService(creds, quota, st.activity, cfg.DeriveSecret, logger)

	ticker := app.NewConfirmationTicker(st.activity, app.LatencyConfirmer{After: cfg.ConfirmAfter}, cfg.ConfirmInterval, logger)
	go ticker.Run(ctx)

	srv := adapthttp.New(relay, creds, adapthttp.ServiceInfo{
		Address:   service.Address,
		Network:   cfg.RPCURL,
		PublicURL: cfg.PublicURL,
	}, logger)

	if cfg.OIDC.Enabled() {
		oidcCfg, err := adapthttp.NewOIDCConfig(ctx, cfg.OIDC.Issuer, cfg.OIDC.ClientID, cfg.OIDC.ClientSecret, cfg.OIDC.RedirectURL)
		if err != nil {
			return err
		}
		srv.WithOIDC(oidcCfg)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", httpServer.Addr,
			"address", service.Address,
			"store", cfg.Store,
			"redis_quota", cfg.RedisURL != "",
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

type store struct {
	quota    domain.QuotaRepository
	activity domain.ActivityRepository
	closers  []func() error
}

func (s *store) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg config.Config) (*store, error) {
	st := &store{}

	switch cfg.Store {
	case config.StoreMemory:
		db := memory.New()
		st.quota, st.activity = db, db
	case config.StorePostgres:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("db open: %w", err)
		}
		st.quota, st.activity = db, db
		st.closers = append(st.closers, db.Close)
	default:
		if dir := filepath.Dir(cfg.DataPath); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		db, err := bolt.Open(cfg.DataPath)
		if err != nil {
			return nil, err
		}
		st.quota, st.activity = db, db
		st.closers = append(st.closers, db.Close)
	}

	if cfg.RedisURL != "" {
		client, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			_ = st.close()
			return nil, err
		}
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = st.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		st.quota = redis.NewQuotaStore(client)
		st.closers = append(st.closers, client.Close)
	}
	return st, nil
}
