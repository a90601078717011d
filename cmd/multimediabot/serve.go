package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/amaumene/multimediabot/internal/api"
	"github.com/amaumene/multimediabot/internal/api/handlers"
	"github.com/amaumene/multimediabot/internal/bot"
	"github.com/amaumene/multimediabot/internal/config"
	"github.com/amaumene/multimediabot/internal/controllers"
	"github.com/amaumene/multimediabot/internal/models"
	"github.com/amaumene/multimediabot/internal/scheduler"
	"github.com/amaumene/multimediabot/internal/services/metadata"
	"github.com/amaumene/multimediabot/internal/services/telegram"
	"github.com/amaumene/multimediabot/internal/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const retryInitialInterval = 500 * time.Millisecond

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot, the scheduler and the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Setup logger and tracing
	logger := utils.NewLogger(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting multimediabot")
	logger.WithField("config_dir", filepath.Dir(cfg.DatabaseFile)).Info("Configuration loaded")

	tp := utils.NewTracerProvider("multimediabot", logger)
	defer tp.Shutdown(context.Background())

	// 3. Initialize database
	db, err := models.NewDatabase(cfg.DatabaseFile)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()
	logger.Info("Database initialized")

	maxID, err := db.MaxSeriesID()
	if err != nil {
		return fmt.Errorf("failed to read catalog ids: %w", err)
	}
	ids := utils.NewIDGenerator(maxID)

	// 4. Load caption noise list
	noise, err := utils.LoadNoiseFilter(cfg.NoiseFile)
	if err != nil {
		logger.WithError(err).Warn("Failed to load noise list, continuing with built-in terms")
		noise = utils.NewNoiseFilter()
	} else {
		logger.WithField("terms", noise.Len()).Info("Noise list loaded")
	}

	// 5. Initialize services
	client, err := telegram.NewClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to reach Telegram: %w", err)
	}
	if !strings.EqualFold(me.Username, cfg.BotUsername) {
		logger.WithFields(logrus.Fields{
			"configured": cfg.BotUsername,
			"actual":     me.Username,
		}).Warn("BOT_USERNAME does not match the bot account, deep links may break")
	}
	logger.WithField("bot", me.Username).Info("Telegram client initialized")

	lookup := metadata.NewService(cfg, logger)
	logger.Info("Metadata service initialized")

	// 6. Initialize controllers
	retry := controllers.NewRetrier(cfg.CopyMaxAttempts, retryInitialInterval, logger)
	sessions := controllers.NewSessionStore(time.Duration(cfg.SessionIdleMinutes)*time.Minute, logger)
	pipeline := controllers.NewPipeline(cfg, client, db, ids, retry, logger)
	ingest := controllers.NewIngestController(sessions, client, lookup, pipeline, noise, retry, logger)
	catalog := controllers.NewCatalogController(db, client, retry, cfg.SearchChannelID, logger)
	logger.Info("Controllers initialized")

	// 7. Initialize update routing
	router := bot.NewRouter(cfg, ingest, catalog, client, logger)
	dispatcher := bot.NewDispatcher(ctx, router, logger)

	// 8. Initialize scheduler
	sched := scheduler.NewScheduler(db, sessions, logger)
	if err := sched.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer sched.Stop()

	// 9. Initialize HTTP server, receiving updates when a webhook is configured
	var sink handlers.UpdateSink
	if cfg.WebhookURL != "" {
		sink = dispatcher
	}
	server := api.NewServer(cfg, db, sessions, sink, logger)

	errChan := make(chan error, 2)
	go func() {
		if err := server.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	if cfg.WebhookURL != "" {
		url := strings.TrimRight(cfg.WebhookURL, "/") + api.WebhookPath
		if err := client.SetWebhook(ctx, url, cfg.WebhookSecret); err != nil {
			return fmt.Errorf("failed to register webhook: %w", err)
		}
		logger.WithField("url", url).Info("Webhook registered")
	} else {
		poller := telegram.NewPoller(client, dispatcher.Dispatch, logger)
		go func() {
			if err := poller.Run(ctx); err != nil {
				errChan <- err
			}
		}()
	}

	// 10. Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("multimediabot is running")

	select {
	case err := <-errChan:
		cancel()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
	case <-parent.Done():
	}

	cancel()
	if err := server.Shutdown(context.Background()); err != nil {
		logger.WithError(err).Error("Error during server shutdown")
	}
	dispatcher.Close()

	// uploads in flight keep their own context; let them finish
	logger.Info("Waiting for uploads in progress")
	ingest.Wait()

	logger.Info("multimediabot stopped")
	return nil
}
