package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/BatmanBruc/bat-bot-merger/internal/config"
	"github.com/BatmanBruc/bat-bot-merger/internal/gateway"
	"github.com/BatmanBruc/bat-bot-merger/internal/handlers"
	"github.com/BatmanBruc/bat-bot-merger/internal/httpapi"
	"github.com/BatmanBruc/bat-bot-merger/internal/merger"
	"github.com/BatmanBruc/bat-bot-merger/internal/middleware"
	"github.com/BatmanBruc/bat-bot-merger/internal/queue"
	"github.com/BatmanBruc/bat-bot-merger/internal/scheduler"
	"github.com/BatmanBruc/bat-bot-merger/store"
	"github.com/BatmanBruc/bat-bot-merger/types"
)

func main() {
	if err := config.LoadEnvFile("config.env"); err != nil {
		log.Printf("Failed to read config.env: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var rdb *store.RedisClient
	if cfg.QueueBackend == "redis" {
		rdb, err = store.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, "merge_bot")
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
	}

	var queueStore types.QueueStore
	if rdb != nil {
		queueStore = store.NewRedisQueueStore(rdb, cfg.QueueTTLHours)
	} else {
		log.Println("Using in-memory queue store; queues are lost on restart.")
		queueStore = store.NewMemoryQueueStore()
	}

	var userStore types.UserStore
	switch {
	case cfg.UsePostgres:
		pgStore, err := store.NewPostgresStore(ctx, cfg.PostgresDSN, cfg.MigrationsDir)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgStore.Close()
		userStore = pgStore
	case rdb != nil:
		userStore = store.NewRedisUserStore(rdb)
	default:
		userStore = store.NewMemoryUserStore()
	}

	var archiver scheduler.Archiver
	if cfg.S3.Enabled() {
		s3, err := store.NewS3Archive(ctx, cfg.S3.Endpoint, cfg.S3.AccessKey, cfg.S3.SecretKey, cfg.S3.Bucket, cfg.S3.UseSSL, cfg.S3.LinkTTL)
		if err != nil {
			log.Fatalf("Failed to set up S3 archive: %v", err)
		}
		archiver = s3
	}

	httpClient := &http.Client{
		Timeout: 30 * time.Minute,
	}
	pollTimeout := 50 * time.Second

	b, err := bot.New(
		cfg.BotToken,
		bot.WithHTTPClient(pollTimeout, httpClient),
	)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	tg := gateway.NewTelegram(b, cfg.BotToken)
	queueManager := queue.NewManager(queueStore, cfg.Merge.MaxQueueSize)

	mergeScheduler := scheduler.NewScheduler(
		queueManager,
		tg,
		merger.NewFFmpeg(cfg.FFmpegPath),
		archiver,
		scheduler.Config{
			Workers:          cfg.Merge.Workers,
			MinMergeItems:    cfg.Merge.MinMergeItems,
			DownloadDir:      cfg.DownloadDir,
			StrictDownloads:  cfg.Merge.StrictDownloads,
			DownloadTimeout:  cfg.Merge.DownloadTimeout,
			MergeTimeout:     cfg.Merge.MergeTimeout,
			UploadTimeout:    cfg.Merge.UploadTimeout,
			ProgressInterval: cfg.Merge.ProgressInterval,
			UploadLimit:      cfg.UploadLimit,
			UploadAsDocument: cfg.UploadAsDoc,
		},
	)
	mergeScheduler.Start()
	defer mergeScheduler.Stop()

	if cfg.HTTPAddr != "" {
		go func() {
			if err := httpapi.Serve(ctx, cfg.HTTPAddr, httpapi.NewHandler(mergeScheduler)); err != nil {
				log.Printf("HTTP server stopped: %v", err)
			}
		}()
	}

	middlewares := middleware.NewMiddlewares(userStore, tg, cfg.OwnerID, cfg.LoginPassword)
	h := handlers.NewHandlers(queueManager, mergeScheduler, tg, userStore, b, cfg.LoginPassword)

	handlerChain := middlewares.AuthMiddleware(
		middlewares.AnalyzeMessageMiddleware(
			h.MainHandler,
		),
	)

	b.RegisterHandlerMatchFunc(func(update *models.Update) bool {
		return update.Message != nil
	}, handlerChain)

	b.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, handlerChain)

	log.Printf("Bot started (workers=%d, queue=%s). Press Ctrl+C to stop.", cfg.Merge.Workers, cfg.QueueBackend)
	b.Start(ctx)
}
