package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ai-gateway-go/internal/config"
	"github.com/ai-gateway-go/internal/handlers"
	"github.com/ai-gateway-go/internal/i18n"
	"github.com/ai-gateway-go/internal/middleware"
	"github.com/ai-gateway-go/internal/models"
	"github.com/ai-gateway-go/internal/services/ai"
	"github.com/ai-gateway-go/internal/services/auth"
	dynamicconfig "github.com/ai-gateway-go/internal/services/config"
	"github.com/ai-gateway-go/internal/services/credentials"
	"github.com/ai-gateway-go/internal/services/notify"
	"github.com/ai-gateway-go/pkg/logger"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Load .env file if exists
	if err := godotenv.Load(*envFile); err != nil {
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting AI gateway...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := credentials.NewPool(map[models.Provider][]string{
		models.PrimaryProvider:   cfg.Providers.Primary.APIKeys,
		models.SecondaryProvider: cfg.Providers.Secondary.APIKeys,
	}, log, credentials.WithCoolDown(cfg.Gateway.CoolDown))

	adapters := map[models.Provider]ai.Adapter{
		models.PrimaryProvider:   ai.NewOpenAIAdapter(adapterOptions(cfg.Providers.Primary), log),
		models.SecondaryProvider: ai.NewAnthropicAdapter(adapterOptions(cfg.Providers.Secondary), cfg.Providers.Secondary.DefaultMaxTokens, log),
	}

	overrides, err := dynamicconfig.LoadAliasOverrides(ctx, cfg.AliasSource, log)
	if err != nil {
		// the file's alias table still applies
		log.WithError(err).Warn("Failed to load model alias overrides")
	}
	resolver := ai.NewResolver(cfg.Models, overrides)

	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit, log)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	notifier, err := newNotifier(cfg.Notify, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize notifier")
	}

	metrics := middleware.NewMetrics()

	// A distinct metrics port gets its own server; otherwise metrics share the API router
	metricsPath := ""
	if m := cfg.Monitoring.Metrics; m.Enabled {
		if m.Port != 0 && m.Port != cfg.Server.Port {
			go func() {
				log.WithFields(logrus.Fields{
					"port": m.Port,
					"path": m.Path,
				}).Info("Starting metrics server")

				if err := middleware.StartMetricsServer(m.Port, m.Path); err != nil {
					log.WithError(err).Error("Metrics server failed")
				}
			}()
		} else {
			metricsPath = m.Path
		}
	}

	ips, err := middleware.NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		log.WithError(err).Fatal("Invalid trusted proxy list")
	}

	gateway := ai.NewGateway(
		auth.NewJWTVerifier(cfg.Auth.JWTSecret),
		rateLimiter,
		middleware.AIPolicy(cfg.RateLimit),
		resolver,
		pool,
		adapters,
		log,
		ai.WithMaxAttempts(cfg.Gateway.MaxAttempts),
		ai.WithNotifier(notifier),
		ai.WithMetrics(metrics),
	)

	responder := handlers.NewResponder(localizer, log)
	router := handlers.NewRouter(handlers.RouterConfig{
		Chat:          handlers.NewChatHandler(gateway, ips, responder, log),
		Health:        handlers.NewHealthHandler(pool, metrics, responder),
		Responder:     responder,
		Limiter:       rateLimiter,
		GeneralPolicy: middleware.GeneralPolicy(cfg.RateLimit),
		ClientIPs:     ips,
		Metrics:       metrics,
		MetricsPath:   metricsPath,
		Logger:        log,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Graceful shutdown failed")
	}

	log.Info("Gateway stopped")
}

func adapterOptions(p config.ProviderConfig) ai.AdapterOptions {
	return ai.AdapterOptions{
		BaseURL: p.BaseURL,
		Timeout: p.Timeout,
		Limiter: ai.NewPacer(p.RequestsPerSecond, p.Burst),
	}
}

func newNotifier(cfg config.NotifyConfig, log *logrus.Logger) (notify.Notifier, error) {
	if !cfg.Telegram.Enabled {
		return notify.NewLogNotifier(log), nil
	}
	return notify.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.ChatID, log)
}
