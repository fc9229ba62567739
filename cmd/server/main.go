package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/attestia/be-evidence-exchange/internal/config"
	"github.com/attestia/be-evidence-exchange/internal/handler"
	"github.com/attestia/be-evidence-exchange/internal/middleware"
	"github.com/attestia/be-evidence-exchange/internal/service"
	"github.com/attestia/be-evidence-exchange/internal/store"
	"github.com/attestia/be-evidence-exchange/internal/store/memory"
	"github.com/attestia/be-evidence-exchange/internal/store/postgres"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := newLogger(cfg)

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting Evidence Exchange Service")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Open the store
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open store")
	}
	defer st.Close()
	log.Info().Str("driver", cfg.Store.Driver).Msg("Store opened")

	// Initialize services
	identityService := service.NewIdentityService(st, log)
	evidenceService := service.NewEvidenceService(st, log)
	requestService := service.NewRequestService(st, log)
	auditService := service.NewAuditService(st, log)

	// Setup HTTP routes
	httpHandler := handler.NewHTTPHandler(identityService, evidenceService, requestService, auditService, log)
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", httpHandler.Root)
	mux.HandleFunc("GET /health", httpHandler.Health)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /auth/login", httpHandler.Login)
	mux.HandleFunc("POST /evidence", httpHandler.CreateEvidence)
	mux.HandleFunc("POST /evidence/{id}/versions", httpHandler.AddVersion)
	mux.HandleFunc("POST /requests", httpHandler.CreateRequest)
	mux.HandleFunc("GET /factory/requests", httpHandler.ListFactoryRequests)
	mux.HandleFunc("POST /requests/{requestID}/items/{itemID}/fulfill", httpHandler.FulfillItem)
	mux.HandleFunc("GET /audit", httpHandler.ListAudit)

	// Apply middleware
	var h http.Handler = mux
	h = middleware.Logger(log)(h)
	h = middleware.Recovery(log)(h)
	h = middleware.Metrics()(h)
	h = middleware.CORS([]string{"*"})(h)
	h = middleware.Timeout(cfg.Server.RequestTimeout)(h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("Starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}

	log.Info().Msg("Server stopped")
}

// newLogger builds the root logger from configuration. Development gets a
// console writer; everything else logs JSON.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Service.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out = os.Stdout
	logger := zerolog.New(out)
	if cfg.Service.Environment == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().
		Timestamp().
		Str("service", cfg.Service.Name).
		Logger()
}

// openStore selects the store driver from configuration.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Driver {
	case "memory":
		return memory.New(), nil
	case "postgres":
		pg, err := postgres.Open(ctx, postgres.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			Database: cfg.Database.Database,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
