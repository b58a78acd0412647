package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/api"
	"github.com/wardenhq/warden/internal/approval"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/executor"
	"github.com/wardenhq/warden/internal/fsops"
	"github.com/wardenhq/warden/internal/gateway"
	"github.com/wardenhq/warden/internal/indexer"
	"github.com/wardenhq/warden/internal/interceptor"
	"github.com/wardenhq/warden/internal/kv"
	"github.com/wardenhq/warden/internal/logging"
	"github.com/wardenhq/warden/internal/metrics"
	"github.com/wardenhq/warden/internal/secrets"
	"github.com/wardenhq/warden/internal/sensitivity"
	"github.com/wardenhq/warden/internal/usersettings"
	"github.com/wardenhq/warden/internal/websocket"
	"github.com/wardenhq/warden/internal/workspace"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:     "warden",
	Short:   "Warden - sandboxed execution gateway with human-in-the-loop approvals",
	Long:    `Warden confines an agent's filesystem and shell access to a single workspace directory, classifies every operation by sensitivity, and routes the risky ones through human approval before they run.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		runServer()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file loaded before the environment is read")
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Warden %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServer() {
	// Initialize logger with baseline defaults for early startup logs
	logging.Init(logging.Config{
		Format:    "auto",
		Level:     "info",
		Component: "warden",
	})

	if envFile != "" {
		os.Setenv("WARDEN_ENV_FILE", envFile)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Re-initialize logging with configuration-driven settings
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "warden",
	})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("version", Version).
		Str("workspace", cfg.WorkspaceRoot).
		Msg("Starting Warden gateway")

	// Secrets backend fails fast: a configured file that cannot be read or
	// decrypted aborts startup rather than running half-configured.
	if cfg.SecretsFile != "" {
		backend := secrets.NewFileBackend(cfg.SecretsFile, cfg.SecretsPassphrase)
		if err := backend.Init(); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize secrets backend")
		}
		if cfg.RedisPassword == "" {
			if pw, err := backend.Get("redis.password"); err == nil {
				cfg.RedisPassword = pw
			}
		}
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", cfg.DataDir).Msg("Failed to create data directory")
	}

	// Create context that cancels on shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// KV store. REDIS_ADDR=memory runs without Redis for single-node
	// setups; approvals then do not survive restarts.
	var kvClient kv.Client
	if cfg.RedisAddr == "memory" {
		log.Warn().Msg("Using in-memory KV store, approvals and settings will not survive restarts")
		kvClient = kv.NewMemory()
	} else {
		client, err := kv.NewRedis(kv.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		kvClient = client
	}

	val, err := workspace.NewValidator(cfg.WorkspaceRoot, cfg.BlockedPatterns)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize workspace validator")
	}

	store, err := indexer.NewStore(cfg.IndexDBPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.IndexDBPath).Msg("Failed to open index store")
	}

	ix := indexer.New(cfg.WorkspaceRoot, store, time.Duration(cfg.IndexDebounceMs)*time.Millisecond)
	if err := ix.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start tree indexer")
	}

	trail, err := audit.NewLogger(cfg.AuditLogPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.AuditLogPath).Msg("Failed to open audit log")
	}

	approvals := approval.NewStore(kvClient, time.Duration(cfg.HITLTimeoutSec)*time.Second)
	settings := usersettings.NewStore(kvClient)

	// WebSocket hub streams approval lifecycle events to connected clients
	wsHub := websocket.NewHub()
	go wsHub.Run()
	approvals.SetNotifier(wsHub.NotifyApproval)

	adapter := gateway.New(gateway.Deps{
		Validator:    val,
		Classifier:   sensitivity.NewClassifier(sensitivity.Config{}),
		Files:        fsops.New(val, store, cfg.MaxFileSize, cfg.MaxOutputLines),
		Runner:       executor.New(val, cfg.DefaultTimeoutSec, cfg.MaxTimeoutSec, cfg.MaxOutputLines),
		Approvals:    approvals,
		Audit:        trail,
		Settings:     settings,
		HITLTimeout:  time.Duration(cfg.HITLTimeoutSec) * time.Second,
		PollInterval: time.Duration(cfg.ApprovalPollMs) * time.Millisecond,
	})

	router := api.NewRouter(cfg, adapter, approvals, interceptor.New(approvals), ix, settings, wsHub)

	if cfg.MetricsPort > 0 {
		startMetricsServer(ctx, fmt.Sprintf("%s:%d", cfg.GatewayHost, cfg.MetricsPort))
		metrics.StartHostCollector(ctx, cfg.WorkspaceRoot, 30*time.Second)
	}

	// NOTE: ReadHeaderTimeout instead of ReadTimeout so the deadline does
	// not outlive the WebSocket upgrade.
	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.GatewayHost, cfg.GatewayPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Info().
			Str("host", cfg.GatewayHost).
			Int("port", cfg.GatewayPort).
			Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start HTTP server")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	cancel()
	ix.Stop()
	if err := store.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close index store")
	}
	if err := trail.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close audit log")
	}
	if err := kvClient.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close KV client")
	}

	log.Info().Msg("Server stopped")
}
