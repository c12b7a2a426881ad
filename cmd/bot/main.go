package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/nightreel/reelforge/internal/admin"
	"github.com/nightreel/reelforge/internal/billing"
	"github.com/nightreel/reelforge/internal/catalog"
	"github.com/nightreel/reelforge/internal/config"
	"github.com/nightreel/reelforge/internal/database"
	"github.com/nightreel/reelforge/internal/dispatch"
	"github.com/nightreel/reelforge/internal/models"
	"github.com/nightreel/reelforge/internal/notify"
	"github.com/nightreel/reelforge/internal/provider"
	"github.com/nightreel/reelforge/internal/repository"
	"github.com/nightreel/reelforge/internal/service"
	"github.com/nightreel/reelforge/internal/storage"
	"github.com/nightreel/reelforge/internal/telegram"
	"github.com/nightreel/reelforge/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logr := logger.New(cfg.LogLevel)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		log.Fatalf("telegram bot: %v", err)
	}

	userRepo := repository.NewUserRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	artifactRepo := repository.NewArtifactRepository(db)

	engine := billing.NewEngine(ledgerRepo, logr)

	providerClient := provider.NewClient(provider.Options{
		APIKey:  cfg.ProviderAPIKey,
		BaseURL: cfg.ProviderBaseURL,
		Timeout: cfg.ProviderTimeout,
	}, logr)

	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Fatalf("storage uploader: %v", err)
	}

	cat := catalog.Default()
	sink := notify.NewTelegramSink(botAPI, cfg.AdminChatID, logr)

	userService := service.NewUserService(userRepo, ledgerRepo, cfg.BotName)
	operationService := service.NewOperationService(logr, cat, engine, providerClient, uploader, artifactRepo, sink, cfg.RefundOnFailure)
	ingestService := service.NewIngestService(logr, userService, engine)

	queue := dispatch.NewClient(cfg.RedisAddr, cfg.RedisPassword, logr)
	defer queue.Close()

	paymentService := service.NewPaymentService(cfg, queue, ledgerRepo)

	dispatcher := dispatch.NewServer(cfg.RedisAddr, cfg.RedisPassword, logr)
	dispatcher.HandlePayment(ingestService.HandlePaymentEvent)
	dispatcher.HandleOperation(func(ctx context.Context, req models.OperationRequest) error {
		_, err := operationService.Run(ctx, req)
		return err
	})
	go func() {
		if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("dispatcher stopped", "err", err)
		}
	}()

	adminServer := admin.NewServer(cfg.AdminListenAddr, cfg.AdminUsername, cfg.AdminPassword, logr, userService, paymentService, engine, cat, botAPI)
	go func() {
		if err := adminServer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logr.Error("admin server stopped", "err", err)
		}
	}()

	bot := telegram.NewBot(cfg, botAPI, logr, userService, paymentService, cat, queue, uploader)
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logr.Error("bot stopped", "err", err)
	}
}
