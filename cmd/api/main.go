package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"channel-platform/internal/agents"
	"channel-platform/internal/audit"
	"channel-platform/internal/auth"
	"channel-platform/internal/channels"
	"channel-platform/internal/config"
	"channel-platform/internal/evolution"
	"channel-platform/internal/httpapi"
	"channel-platform/pkg/logger"
	"channel-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
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
	if err := httpapi.RegisterValidators(); err != nil {
		log.Error("validator init failed", "err", err)
		os.Exit(1)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gw, err := evolution.New(cfg.Evolution, log, evolution.NewMetrics(reg))
	if err != nil {
		log.Error("evolution client init failed", "err", err)
		os.Exit(1)
	}

	cipher, err := agents.NewFernetCipher(cfg.Agents.EncryptionKey)
	if err != nil {
		log.Error("agent key cipher init failed", "err", err)
		os.Exit(1)
	}

	store := channels.NewPostgresStore(db)
	auditor := audit.NewService(audit.NewPostgresRepo(db))

	linker := channels.NewLinker(channels.LinkerConfig{
		Gateway:   gw,
		Store:     store,
		Agents:    agents.NewPostgresDirectory(db),
		Keys:      cipher,
		Locker:    utils.NewRedisLocker(rdb, cfg.Link.LockTTL),
		Audit:     auditor,
		PublicURL: cfg.App.PublicURL,
		Logger:    log,
	})

	h := httpapi.Handlers{
		Channels: channels.NewService(gw, store, linker, auditor, log),
		Linker:   linker,
		Lister:   channels.NewLister(gw, store, auditor, log),
		Webhook:  channels.NewWebhookHandler(store, log),
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		Handlers: h,
		AuthMW:   auth.RequireAccessToken(authManager),
		DB:       db,
		Metrics:  reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.HTTPWriteTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
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
}
