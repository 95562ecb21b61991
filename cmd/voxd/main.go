package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/voxd/voxd/internal/api"
	"github.com/voxd/voxd/internal/audio"
	"github.com/voxd/voxd/internal/capture"
	"github.com/voxd/voxd/internal/config"
	"github.com/voxd/voxd/internal/credentials"
	"github.com/voxd/voxd/internal/output"
	"github.com/voxd/voxd/internal/permission"
	"github.com/voxd/voxd/internal/recorder"
	"github.com/voxd/voxd/internal/session"
	"github.com/voxd/voxd/internal/storage/sqlite"
	"github.com/voxd/voxd/internal/transcription"
	"github.com/voxd/voxd/internal/websocket"
	"github.com/voxd/voxd/pkg/logger"
)

var (
	// Version is injected at build time
	Version = "dev"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to configuration file (optional - will search in configs/ and root directory)")
	flag.Parse()

	// Load configuration with fallback logic
	cfg, err := config.LoadWithFallback(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: "console", // Always use console format for better readability
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting voxd",
		logger.String("version", Version),
		logger.String("config_path", *configPath),
	)

	// Resolve the API credential (config value or environment)
	creds := credentials.Resolve(cfg.Transcription.APIKey)
	if creds.APIKey() == "" {
		log.Warn("No API key configured - transcription will fail until one is set",
			logger.String("env_var", credentials.EnvVar))
	}

	// Permissions: assume granted; a platform front-end can swap in a
	// real checker through the session service later
	perms := permission.AllGranted()

	// Microphone recorder
	engine := recorder.NewPortAudioEngine(log)
	meterInterval := time.Duration(cfg.Recording.LevelMeterIntervalMs) * time.Millisecond
	rec := recorder.New(engine, perms, cfg.Recording.TempDir, meterInterval, log)

	// System-audio capture session
	source := capture.NewPortAudioSource(cfg.SystemCapture.Device, log)
	sinkFormat := audio.CaptureSinkFormat(cfg.SystemCapture.SampleRate, cfg.SystemCapture.Channels)
	capt := capture.NewSession(source, perms, sinkFormat, log)

	// Transcription client
	client := transcription.NewClient(cfg.Transcription, creds, log)

	// Output delivery
	deliverer := output.NewDeliverer(cfg.Output, cfg.Notifications, perms, log)

	// Transcript history (optional)
	var history session.History
	var historyStorage *sqlite.HistoryStorage
	if cfg.Storage.SQLitePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
			log.Error("Failed to create database directory", logger.Error(err))
			os.Exit(1)
		}
		historyStorage, err = sqlite.NewHistoryStorage(cfg.Storage.SQLitePath, log)
		if err != nil {
			log.Error("Failed to create SQLite storage", logger.Error(err))
			os.Exit(1)
		}
		defer historyStorage.Close()
		history = historyStorage
		log.Info("Using SQLite history", logger.String("path", cfg.Storage.SQLitePath))
	} else {
		log.Info("Transcript history disabled")
	}

	// Create WebSocket server
	wsServer := websocket.NewServer(log)

	// Start WebSocket server
	go wsServer.Run()

	// Create the session orchestrator
	service := session.NewService(cfg, rec, capt, client, deliverer, history, wsServer, log)
	defer service.Close()

	// Session service answers client status requests over the WebSocket
	wsServer.SetMessageHandler(service)

	// Create API router
	router := api.NewRouter(service, engine, client, cfg, log, wsServer)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Routes(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSecs) * time.Second,
	}

	go func() {
		log.Info("Starting HTTP server", logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error on startup", logger.String("addr", server.Addr), logger.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("Shutting down...")

	// Stop the session service first so no new pipelines start
	service.Close()

	// Shutdown the HTTP server
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", logger.Error(err))
	}

	log.Info("Server fully stopped")
}
