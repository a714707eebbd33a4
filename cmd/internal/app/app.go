// Package app wires the Ember server runtime: config, logging, stores,
// services, and the HTTP surface.
//
// It is intentionally small and deterministic to keep behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ember/cmd/internal/api"
	"ember/cmd/internal/chat"
	"ember/cmd/internal/directory"
	"ember/cmd/internal/message"
	"ember/cmd/internal/notify"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Ember server runtime: it owns the HTTP server wiring and the
// service graph underneath it.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	api *api.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	st, dbPool, dbEnabled, chatStore, msgStore, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	closeOnErr := func(err error) (*App, error) {
		_ = st.Close(context.Background())
		return nil, err
	}

	// The in-memory directory stands in for the external membership
	// directory; /users seeding endpoints mutate it when enabled.
	dir := directory.NewInMemoryDirectory()

	chats, err := chat.NewService(log, chatStore, dir)
	if err != nil {
		return closeOnErr(err)
	}

	dispatcher, err := notify.NewDispatcher(log, dir, notify.NewRouteTransport(), nil,
		notify.WithDeliverTimeout(cfg.NotifyTimeout))
	if err != nil {
		return closeOnErr(err)
	}

	messages, err := message.NewService(log, msgStore, chats, dir, dispatcher)
	if err != nil {
		return closeOnErr(err)
	}

	var apiOpts []api.HandlerOption
	if cfg.UserSeeding {
		apiOpts = append(apiOpts, api.WithUserAdmin(dir))
	}
	handler, err := api.NewHandler(log, chats, messages, apiOpts...)
	if err != nil {
		return closeOnErr(err)
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		api:       handler,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.api)

	handler := WithRequestLogging(
		WithCORS(WithSecurityHeaders(mux), a.cfg, a.log),
		a.log,
	)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
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

// newStores decides between Postgres-backed persistence and in-memory dev
// stores.
func newStores(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, chat.Store, message.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, chat.NewInMemoryStore(), message.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model:
	// - app owns pool lifecycle
	// - the stores' Close() is a no-op
	chatStore, err := chat.NewPostgresStore(pool, chat.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}
	msgStore, err := message.NewPostgresStore(pool, message.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, err
	}

	return dbStore{pool: pool, stores: []interface{ Close() error }{chatStore, msgStore}}, pool, true, chatStore, msgStore, nil
}

type dbStore struct {
	pool   *pgxpool.Pool
	stores []interface{ Close() error }
}

func (s dbStore) Close(_ context.Context) error {
	for _, st := range s.stores {
		if st != nil {
			_ = st.Close()
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
