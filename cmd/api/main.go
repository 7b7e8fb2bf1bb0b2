package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callcenter/internal/audit"
	"callcenter/internal/auth"
	"callcenter/internal/calls"
	"callcenter/internal/config"
	"callcenter/internal/events"
	"callcenter/internal/httpapi"
	"callcenter/internal/prospects"
	"callcenter/internal/reporting"
	"callcenter/internal/storage"
	"callcenter/internal/telephony"
	"callcenter/pkg/logger"
	"callcenter/pkg/utils"

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

	if cfg.DB.AutoMigrate {
		if err := storage.Migrate(rootCtx, db); err != nil {
			log.Error("migrations failed", "err", err)
			os.Exit(1)
		}
		log.Info("migrations applied")
	}

	callOpts := calls.Options{Cooldown: cfg.Calls.Cooldown}

	var rdb *redis.Client
	if cfg.Calls.MaxOpenPerCaller > 0 {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		lim, err := calls.NewRedisCallerLimiter(rdb, cfg.Calls.MaxOpenPerCaller, cfg.Calls.CallerCapTTL)
		if err != nil {
			log.Error("caller limiter init failed", "err", err)
			os.Exit(1)
		}
		callOpts.Limiter = lim
	}

	if cfg.Kafka.Enabled() {
		pub, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("kafka init failed", "err", err)
			os.Exit(1)
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn("kafka close failed", "err", err)
			}
		}()
		callOpts.Events = pub
	}

	var telnyxKey ed25519.PublicKey
	if cfg.Telnyx.PublicKey != "" {
		telnyxKey, err = telephony.ParseTelnyxPublicKey(cfg.Telnyx.PublicKey)
		if err != nil {
			log.Error("telnyx key invalid", "err", err)
			os.Exit(1)
		}
	}

	callManager := calls.NewManager(calls.NewPostgresRepo(db), callOpts)
	prospectRepo := prospects.NewPostgresRepo(db)
	prospectSvc := prospects.NewService(prospectRepo, nil)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		DB:   db,
		Auth: authManager,
		API: httpapi.Handlers{
			Auth:      authManager,
			Calls:     callManager,
			Prospects: prospectSvc,
			Reports:   reporting.NewService(callManager, prospectRepo),
			Audit:     auditSvc,
		},
		Webhooks: telephony.WebhookHandler{
			Calls:           callManager,
			Audit:           auditSvc,
			TwilioAuthToken: cfg.Twilio.AuthToken,
			TelnyxPublicKey: telnyxKey,
			PublicBaseURL:   cfg.App.PublicBaseURL,
			RecordCalls:     cfg.Twilio.RecordCalls,
		},
		DevRoutes: cfg.IsDevelopment(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
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
