// Package app wires the Campfire server runtime: config, logging, the chat
// backing store, the send-path service, and the WebSocket gateway.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"campfire/cmd/internal/chat"
	"campfire/cmd/internal/classify"
	"campfire/cmd/internal/gateway"
	"campfire/cmd/internal/relay"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Campfire server runtime: it owns HTTP server wiring and the
// gateway's dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	relay *relay.Publisher

	ws *gateway.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, dbEnabled, backing, err := newBackingStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	svcOpts := []chat.ServiceOption{}

	if cfg.ClassifyAPIKey != "" {
		var copts []classify.HTTPOption
		if cfg.ClassifyModel != "" {
			copts = append(copts, classify.WithModel(cfg.ClassifyModel))
		}
		if cfg.ClassifyTimeout > 0 {
			copts = append(copts, classify.WithTimeout(cfg.ClassifyTimeout))
		}
		classifier, err := classify.NewHTTPClassifier(cfg.ClassifyBaseURL, cfg.ClassifyAPIKey, copts...)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, chat.WithClassifier(classifier))
		log.Info("classify.enabled", "base_url", cfg.ClassifyBaseURL)
	} else {
		log.Info("classify.disabled")
	}

	var pub *relay.Publisher
	if cfg.AMQPURL != "" {
		var ropts []relay.Option
		if cfg.AMQPExchange != "" {
			ropts = append(ropts, relay.WithExchange(cfg.AMQPExchange))
		}
		pub, err = relay.NewPublisher(log, cfg.AMQPURL, ropts...)
		if err != nil {
			return nil, err
		}
		svcOpts = append(svcOpts, chat.WithRelay(pub))
	} else {
		log.Info("relay.disabled")
	}

	svc, err := chat.NewService(log, backing, svcOpts...)
	if err != nil {
		return nil, err
	}

	ws := gateway.NewGateway(log, backing, svc)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		relay:     pub,
		ws:        ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.relay != nil {
		if err := a.relay.Close(); err != nil {
			a.log.Error("relay.close.fail", "err", err)
		}
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newBackingStore decides between Postgres-backed persistence and the
// in-memory dev store.
func newBackingStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, chat.BackingStore, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, chat.NewMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	backing, err := chat.NewPostgresStore(log, pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, backing: backing}, pool, true, backing, nil
}

type dbStore struct {
	pool    *pgxpool.Pool
	backing chat.BackingStore
}

func (s dbStore) Close(_ context.Context) error {
	// PostgresStore.Close() is a no-op by design (pool is owned here).
	if s.backing != nil {
		_ = s.backing.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
