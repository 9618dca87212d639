package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Rozen29/WhaTel-AI/internal/config"
	"github.com/Rozen29/WhaTel-AI/internal/handlers"
	"github.com/Rozen29/WhaTel-AI/internal/i18n"
	"github.com/Rozen29/WhaTel-AI/internal/middleware"
	"github.com/Rozen29/WhaTel-AI/internal/models"
	"github.com/Rozen29/WhaTel-AI/internal/services/ai"
	"github.com/Rozen29/WhaTel-AI/internal/services/session"
	"github.com/Rozen29/WhaTel-AI/internal/services/storage"
	"github.com/Rozen29/WhaTel-AI/internal/services/whatsapp"
	"github.com/Rozen29/WhaTel-AI/pkg/logger"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
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
		// It's okay if .env doesn't exist
		fmt.Printf("Warning: .env file not found: %v\n", err)
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting WhaTel-AI...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	storageManager, err := storage.NewManager(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize storage")
	}

	// Refresh the daily login marker; the process refuses to start when the
	// marker cannot be persisted.
	if err := performDailyLogin(ctx, storageManager, cfg.Session.LoginMarker, log); err != nil {
		log.WithError(err).Fatal("Daily login failed")
	}

	// Initialize Telegram control channel
	bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		log.WithError(err).Fatal("Failed to create Telegram bot")
	}
	bot.Debug = cfg.Logging.Level == "debug"
	log.WithField("username", bot.Self.UserName).Info("Telegram bot authorized")

	// Initialize i18n
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	// Initialize services
	registry, err := session.NewRegistry(ctx, storageManager, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize authorized user registry")
	}

	settings := ai.NewSettings()
	router, err := ai.NewRouter(cfg.Providers, settings, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize AI router")
	}

	conversations := session.NewConversationStore(storageManager, cfg.Session.SystemPrompt, cfg.Session.MaxTurns, log)
	rateLimiter := session.NewRateLimiter(storageManager, registry, cfg.RateLimit.DailyLimit, log)
	floodLimiter := middleware.NewFloodLimiter(cfg, log)
	pending := session.NewPendingFlow(registry, cfg.Session.AdminPassword, cfg.Session.MaxAttempts, log)
	toggle := handlers.NewChatbotToggle(true)
	metrics := middleware.NewMetrics()

	if cfg.WhatsApp.MediaDir != "" {
		if err := os.MkdirAll(cfg.WhatsApp.MediaDir, 0o755); err != nil {
			log.WithError(err).Fatal("Failed to create media directory")
		}
	}

	// Initialize WhatsApp connection machinery
	notifier := handlers.NewTelegramNotifier(bot, cfg.Telegram.ErrorChatID, log)
	factory := whatsapp.NewWhatsmeowFactory(cfg.WhatsApp.SessionPath, log)
	stateMachine := whatsapp.NewStateMachine(factory, notifier, localizer.GetDefault, log)

	dispatcher := handlers.NewDispatcher(
		cfg, router, conversations, registry, rateLimiter, floodLimiter,
		toggle, storageManager, metrics, localizer, log,
	)
	stateMachine.SetMessageHandler(func(client whatsapp.Client, msg whatsapp.Message) {
		go dispatcher.Dispatch(ctx, client, msg)
	})

	// Initialize Telegram handlers
	commandHandler := handlers.NewCommandHandler(
		bot, cfg, router, settings, conversations, registry, rateLimiter,
		pending, stateMachine, toggle, metrics, localizer, log,
	)
	messageHandler := handlers.NewMessageHandler(
		bot, cfg, router, conversations, pending, toggle, metrics, localizer, log,
	)

	// Start metrics server if enabled
	if cfg.Monitoring.Metrics.Enabled {
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")

			if err := middleware.StartMetricsServer(cfg.Monitoring.Metrics.Port, cfg.Monitoring.Metrics.Path); err != nil {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// Setup long polling
	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Telegram.UpdateTimeout
	updates := bot.GetUpdatesChan(u)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Main control loop
	go func() {
		for update := range updates {
			if update.Message == nil {
				continue
			}
			message := update.Message

			// A live password prompt consumes plain text and /cancel
			// before anything else sees them.
			if messageHandler.HandlePending(ctx, message) {
				continue
			}

			if message.IsCommand() {
				if err := commandHandler.HandleCommand(ctx, message); err != nil {
					log.WithError(err).WithField("command", message.Command()).Error("Command failed")
				}
				continue
			}

			messageHandler.HandleChat(ctx, message)
		}
	}()

	// Report the connection state gauge periodically
	go trackConnectionState(ctx, stateMachine, metrics)

	// Wait for shutdown signal
	<-sigChan
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	stateMachine.Shutdown(shutdownCtx)
	bot.StopReceivingUpdates()
	cancel()

	// Give in-flight handlers time to finish
	time.Sleep(2 * time.Second)

	log.Info("Bot stopped")
}

// performDailyLogin refreshes the persisted login marker at most once per
// 24 hours.
func performDailyLogin(ctx context.Context, storage *storage.Manager, marker string, log *logrus.Logger) error {
	last, err := storage.GetLastLogin(ctx)
	if err != nil {
		return fmt.Errorf("failed to load login marker: %w", err)
	}

	now := time.Now().UnixMilli()
	if last != nil && now-last.LastLogin < 24*time.Hour.Milliseconds() {
		log.Info("Already logged in today")
		return nil
	}

	if err := storage.SetLastLogin(ctx, &models.LastLogin{LastLogin: now}); err != nil {
		return fmt.Errorf("failed to persist login marker: %w", err)
	}
	log.WithField("login_marker", marker).Info("Daily login successful")
	return nil
}

var connectionStates = []string{
	whatsapp.StateUninitialized.String(),
	whatsapp.StateInitializing.String(),
	whatsapp.StateQRReceived.String(),
	whatsapp.StateAuthenticated.String(),
	whatsapp.StateReady.String(),
	whatsapp.StateAuthFailure.String(),
	whatsapp.StateDisconnected.String(),
	whatsapp.StateAbnormal.String(),
}

func trackConnectionState(ctx context.Context, sm *whatsapp.StateMachine, metrics *middleware.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state, _ := sm.State()
			metrics.SetConnectionState(state.String(), connectionStates)
		}
	}
}
