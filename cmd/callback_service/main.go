package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/threemagw/golang_services/internal/platform/config"
	"github.com/threemagw/golang_services/internal/platform/database"
	"github.com/threemagw/golang_services/internal/platform/logger"
	"github.com/threemagw/golang_services/internal/platform/messagebroker"

	"github.com/threemagw/golang_services/internal/callback_service/adapters/gatewayclient"
	callbackhttp "github.com/threemagw/golang_services/internal/callback_service/adapters/http"
	callbackapp "github.com/threemagw/golang_services/internal/callback_service/app"
	callbackpg "github.com/threemagw/golang_services/internal/callback_service/repository/postgres"

	"github.com/threemagw/golang_services/internal/tfa_service/adapters/abusehook"
	tfaapp "github.com/threemagw/golang_services/internal/tfa_service/app"
	tfapg "github.com/threemagw/golang_services/internal/tfa_service/repository/postgres"
)

const (
	serviceName     = "callback_service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.LogLevel)
	appLogger = appLogger.With("service", serviceName)
	appLogger.Info("Starting service...")

	appLogger.Info("Configuration loaded",
		"log_level", cfg.LogLevel,
		"nats_url", cfg.NATSUrl,
		"postgres_dsn_present", cfg.PostgresDSN != "",
		"gateway_id", cfg.GatewayID,
		"receive_enabled", cfg.ReceiveEnabled,
		"debug_mode", cfg.DebugMode,
		"port", cfg.CallbackServicePort,
		"metrics_port", cfg.CallbackServiceMetricsPort,
	)

	privateKey, err := parsePrivateKey(cfg.GatewayPrivateKeyHex)
	if err != nil {
		appLogger.Error("Invalid gateway private key configuration", "error", err)
		os.Exit(1)
	}
	if cfg.ReceiveEnabled && privateKey == nil {
		appLogger.Error("Receiving is enabled but no gateway private key is configured",
			"hint", "set APP_GATEWAY_PRIVATE_KEY_HEX or disable APP_RECEIVE_ENABLED")
		os.Exit(1)
	}

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		appLogger.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	appLogger.Info("Database connection pool initialized")

	nc, err := messagebroker.NewNATSClient(cfg.NATSUrl, appLogger, serviceName)
	if err != nil {
		appLogger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer nc.Close()
	appLogger.Info("NATS connection initialized")

	gwClient := gatewayclient.NewClient(appLogger, cfg.GatewayAPIBaseURL, cfg.GatewayID, cfg.GatewayAPISecret, nil)

	messageRepo := callbackpg.NewPgMessageRepository(dbPool, appLogger)
	stateRepo := tfapg.NewPgProviderStateRepository(dbPool, appLogger)
	pendingStore := tfapg.NewPgConfirmationStore(dbPool, appLogger)
	sessionStore := tfapg.NewPgSetupSessionStore(dbPool, appLogger)

	engine := tfaapp.NewConfirmationEngine(
		tfaapp.EngineConfig{
			ProviderID:   "message_confirm",
			SecretLength: cfg.TFASecretLength,
			LoginWindow:  time.Duration(cfg.TFALoginWindowMinutes) * time.Minute,
			SetupWindow:  time.Duration(cfg.TFASetupWindowMinutes) * time.Minute,
		},
		stateRepo,
		pendingStore,
		sessionStore,
		gwClient,
		abusehook.NewNATSHook(nc, appLogger),
		appLogger,
	)

	validator := callbackapp.NewCallbackValidator(callbackapp.ValidatorConfig{
		ReceiveEnabled: cfg.ReceiveEnabled,
		AllowGET:       cfg.AllowGETCallback || cfg.DebugMode,
		AccessToken:    cfg.CallbackAccessToken,
		APISecret:      []byte(cfg.GatewayAPISecret),
		GatewayID:      cfg.GatewayID,
		MaxMessageAge:  time.Duration(cfg.MaxMessageAgeDays) * 24 * time.Hour,
	}, appLogger)

	dispatcher := callbackapp.NewCallbackDispatcher(
		callbackapp.DispatcherConfig{
			DebugMode:           cfg.DebugMode,
			RecipientPrivateKey: privateKey,
			EventSubjectPrefix:  "gateway.messages.received",
		},
		validator,
		callbackapp.NewMessageDecoder(appLogger),
		gwClient,
		messageRepo,
		engine,
		nc,
		appLogger,
	)

	callbackHandler := callbackhttp.NewCallbackHandler(dispatcher, appLogger)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	router.Post("/callback", callbackHandler.HandleCallback)
	if cfg.AllowGETCallback || cfg.DebugMode {
		router.Get("/callback", callbackHandler.HandleCallback)
	}
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.CallbackServicePort),
		Handler: router,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.CallbackServiceMetricsPort),
		Handler: metricsMux,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		appLogger.Info("Callback HTTP server starting", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("callback server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		appLogger.Info("Metrics server starting", "address", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Callback server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			appLogger.Error("Metrics server shutdown error", "error", err)
		}
		return nil
	})

	appLogger.Info("Service components initialized. Service is ready.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		appLogger.Info("Received termination signal", "signal", sig.String())
	case <-groupCtx.Done():
		appLogger.Error("A critical component failed, initiating shutdown")
	}

	appLogger.Info("Attempting graceful shutdown...")
	mainCancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		appLogger.Error("Error during graceful shutdown of components", "error", err)
	}

	appLogger.Info("Service shutdown complete.")
}

// parsePrivateKey decodes the configured hex private key. An empty
// value is allowed so the service can run with receiving disabled.
func parsePrivateKey(hexKey string) (*[32]byte, error) {
	if hexKey == "" {
		return nil, nil
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("private key is not valid hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
