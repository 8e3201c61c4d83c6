// Package app wires the CWDTP engine runtime: config, logging, HTTP routes,
// and the connection acceptor.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/colonialwars-lib/cwdtp-engine/cwdtp"
	"github.com/colonialwars-lib/cwdtp-engine/internal/audit"
	"github.com/colonialwars-lib/cwdtp-engine/internal/gameauth"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the CWDTP engine runtime: it owns HTTP server wiring and the
// connection acceptor.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	acceptor *cwdtp.Acceptor
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	st, dbPool, dbEnabled, auditStore, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	rec := audit.NewRecorder(auditStore, log)
	metrics := cwdtp.NewMetrics(prometheus.DefaultRegisterer)
	allowOrigin := cwdtp.NewOriginAllowlist(cfg.CORSAllowedOrigins)

	acceptorCfg := cwdtp.AcceptorConfig{
		Path:              cfg.WSPath,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Timeouts: cwdtp.Timeouts{
			Handshake: cfg.HandshakeTimeout,
			Ping:      cfg.PingTimeout,
			Close:     cfg.CloseTimeout,
		},
		SendQueueSize:   cfg.SendQueueSize,
		MaxFrameBytes:   int64(cfg.MaxFrameBytes),
		RateLimitEvents: cfg.RateLimitEvents,
		RateLimitWindow: cfg.RateLimitWindow,
		HandleCORS:      allowOrigin,
		Logger:          log,
		Metrics:         metrics,

		OnConnection:        rec.Watch,
		OnHandshakeTimeout:  rec.OnHandshakeTimeout,
		OnConnectionError:   rec.OnConnectionError,
		OnConnectionTimeout: rec.OnConnectionTimeout,
	}

	if cfg.RequireGameAuth {
		key, err := gameauth.HMACKeyFromEnv(32)
		if err != nil {
			return nil, err
		}
		acceptorCfg.VerifyClient = gameauth.NewVerifyClient(key)
	}

	acceptor := cwdtp.NewAcceptor(acceptorCfg)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		acceptor:  acceptor,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.acceptor)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"ws", wsBaseURL(base)+a.cfg.WSPath,
	)

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

	if err := a.acceptor.Detach(); err != nil {
		a.log.Error("cwdtp.acceptor.detach.fail", "err", err)
	}

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

// runtimeBaseURL turns a listen address into the http(s) base URL clients
// should actually dial, collapsing bind-all addresses to the loopback host.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		host, port = addr, ""
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == "" {
		return "http://" + host
	}
	return "http://" + host + ":" + port
}

// wsBaseURL rewrites an http(s) base URL to its ws(s) equivalent.
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
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

// newStore decides between Postgres-backed persistence and in-memory dev store.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, audit.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return nopStore{}, nil, false, audit.NewInMemoryStore(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, err
	}

	log.Info("db.enabled.postgres_store")

	// Ownership model:
	// - app owns pool lifecycle
	// - PostgresStore.Close() is a no-op
	auditStore, err := audit.NewPostgresStore(pool) // default schema "cwdtp_audit"
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, err
	}

	return dbStore{pool: pool, auditStore: auditStore}, pool, true, auditStore, nil
}

type dbStore struct {
	pool       *pgxpool.Pool
	auditStore audit.Store
}

func (s dbStore) Close(_ context.Context) error {
	// audit.Store may have its own resources in the future.
	// Current PostgresStore.Close() is a no-op by design (pool is owned here).
	if s.auditStore != nil {
		_ = s.auditStore.Close()
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
