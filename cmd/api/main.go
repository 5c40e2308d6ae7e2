package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callhub/internal/config"
	"callhub/internal/dispatch"
	"callhub/internal/history"
	"callhub/internal/notify"
	"callhub/internal/redirect"
	"callhub/internal/reporting"
	"callhub/internal/store"
	"callhub/internal/webhook"
	"callhub/pkg/logger"
	"callhub/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	var db *sql.DB
	if cfg.NeedsPostgres() {
		db, err = utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PoolConfig{})
		if err != nil {
			log.Error("postgres init failed", "err", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	st, rec, err := buildBackends(cfg, db, rdb)
	if err != nil {
		log.Error("backend init failed", "err", err)
		os.Exit(1)
	}

	validator, err := notify.NewValidator(notify.ValidatorConfig{
		Secret:   cfg.Webhook.JWTSecret,
		Issuer:   cfg.Webhook.JWTIssuer,
		Audience: cfg.Webhook.JWTAudience,
		TenantID: cfg.Webhook.TenantID,
		AppID:    cfg.Webhook.AppID,
	})
	if err != nil {
		log.Error("validator init failed", "err", err)
		os.Exit(1)
	}

	policy, err := buildPolicy(cfg.Webhook.RedirectRules)
	if err != nil {
		log.Error("redirect policy init failed", "err", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(st, rec, policy, log)
	dispatcher.Greeting = cfg.Webhook.GreetingMedia

	h := &webhook.Handler{
		Validator:  validator,
		Dispatcher: dispatcher,
		Reports:    reporting.NewService(st, rec),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, h)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening",
			"addr", srv.Addr, "env", cfg.App.Env,
			"store", cfg.Store.Backend, "history", cfg.Store.HistoryBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}

// buildBackends wires the configured store and history implementations.
// The rest of the process depends only on the interfaces.
func buildBackends(cfg config.Config, db *sql.DB, rdb *redis.Client) (store.Store, history.Recorder, error) {
	var st store.Store
	switch cfg.Store.Backend {
	case config.BackendMemory:
		st = store.NewMemoryStore()
	case config.BackendPostgres:
		st = store.NewPostgresStore(db)
	case config.BackendRedis:
		st = store.NewRedisStore(rdb)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	var rec history.Recorder
	switch cfg.Store.HistoryBackend {
	case config.BackendMemory:
		rec = history.NewMemoryRecorder()
	case config.BackendPostgres:
		rec = history.NewPostgresRecorder(db)
	default:
		return nil, nil, fmt.Errorf("unknown history backend %q", cfg.Store.HistoryBackend)
	}

	return st, rec, nil
}

func buildPolicy(rulesJSON string) (redirect.Policy, error) {
	if rulesJSON == "" {
		return redirect.AcceptAll(), nil
	}
	var rules []redirect.Rule
	if err := json.Unmarshal([]byte(rulesJSON), &rules); err != nil {
		return nil, fmt.Errorf("REDIRECT_RULES is not valid JSON: %w", err)
	}
	return redirect.NewRulePolicy(rules, redirect.Decision{}), nil
}
