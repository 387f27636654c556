package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sankalp/internal/alert"
	"sankalp/internal/api"
	"sankalp/internal/config"
	"sankalp/internal/currency"
	"sankalp/internal/db"
	"sankalp/internal/dispatch"
	"sankalp/internal/metrics"
	"sankalp/internal/ratelimit"
	"sankalp/internal/whatsapp"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	store, err := db.New(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// WhatsApp Sender
	// ------------------------------------------------
	var sender whatsapp.Sender
	if cfg.DisableCloudSend {
		logger.Warn("cloud sends disabled, messages will be logged only")
		sender = whatsapp.NoopSender{}
	} else {
		sender = whatsapp.NewClient(
			cfg.WhatsAppAPIBase,
			cfg.WhatsAppToken,
			cfg.WhatsAppPhoneID,
			time.Duration(cfg.SendTimeoutSeconds)*time.Second,
			cfg.SendRetryAttempts,
		)
	}

	// ------------------------------------------------
	// Rate Limiter + Send Guard
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.SendRatePerSecond), cfg.SendRatePerSecond)
	guard := ratelimit.NewFixedWindow(cfg.DailySendLimit, cfg.PerPhoneDaily)

	// ------------------------------------------------
	// Dispatcher
	// ------------------------------------------------
	dispatcher := dispatch.New(store, sender, guard, limiter, logger, cfg.SendConcurrency)

	// ------------------------------------------------
	// Ops Alerts
	// ------------------------------------------------
	alerts := &alert.Mailer{
		Host: cfg.SMTPHost,
		Port: cfg.SMTPPort,
		User: cfg.SMTPUser,
		Pass: cfg.SMTPPass,
		From: cfg.AlertFrom,
		To:   cfg.AlertEmail,
	}

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	apiHandler := &api.Handler{
		Store:      store,
		Dispatcher: dispatcher,
		Log:        logger,
		Alerts:     alerts,
		Converter:  currency.NewConverter(cfg.USDRate, cfg.NPRRate),

		CronSecret:         cfg.CronSecret,
		WebhookVerifyToken: cfg.WebhookVerifyToken,
		WebhookAppSecret:   cfg.WebhookAppSecret,

		DefaultJobLimit:         cfg.JobLimit,
		DefaultLeadsPerJobLimit: cfg.LeadsPerJobLimit,

		PayUMerchantKey:  cfg.PayUMerchantKey,
		PayUMerchantSalt: cfg.PayUMerchantSalt,
		PayUBaseURL:      cfg.PayUBaseURL,
		ProcessingFeePct: cfg.ProcessingFeePct,
	}

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiHandler.Router(),
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
