package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/squeeko/squeeko/internal/config"
	"github.com/squeeko/squeeko/internal/database"
	"github.com/squeeko/squeeko/internal/memq"
	"github.com/squeeko/squeeko/internal/models"
	"github.com/squeeko/squeeko/internal/pipeline"
	"github.com/squeeko/squeeko/internal/queue"
	"github.com/squeeko/squeeko/internal/redis"
	"github.com/squeeko/squeeko/internal/repository"
	"github.com/squeeko/squeeko/internal/server"
	"github.com/squeeko/squeeko/internal/storage"
	"github.com/squeeko/squeeko/internal/stt"
	"github.com/squeeko/squeeko/internal/summarize"
	"github.com/squeeko/squeeko/internal/translate"
	httpapi "github.com/squeeko/squeeko/internal/transport/http"
	"github.com/squeeko/squeeko/internal/workers"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting squeeko", "addr", cfg.HTTPAddr, "workers", cfg.QueueWorkers, "queue", cfg.QueueMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	storageService, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize storage", "err", err)
		os.Exit(1)
	}
	slog.Info("storage initialized", "type", storage.GetStorageType(cfg))

	redisService, err := redis.New(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to connect to Redis", "err", err)
		os.Exit(1)
	}
	defer redisService.Close()

	var q memq.JobQueue
	switch cfg.QueueMode {
	case "memory":
		q = memq.NewMemoryQueue(cfg.QueueBuf, cfg.JobMaxDuration)
	default:
		qcfg := queue.DefaultConfig()
		qcfg.MaxJobTime = cfg.JobMaxDuration
		q, err = queue.NewRedisQueue(redisService.Client(), qcfg)
		if err != nil {
			slog.Error("failed to initialize redis queue", "err", err)
			os.Exit(1)
		}
	}
	defer q.Close()

	repo := repository.New(db)

	transcriber := stt.NewClient(cfg.AssemblyAIBaseURL, cfg.AssemblyAIAPIKey)
	translator := translate.NewClient(cfg.DeepLBaseURL, cfg.DeepLAPIKey)
	summarizer := summarize.NewClient(cfg.OpenAIAPIKey)

	webhookURL := cfg.AppBaseURL + "/webhooks/transcription"
	pipe := pipeline.New(repo, q, storageService, transcriber, translator, summarizer, webhookURL, cfg.UploadURLTTL)

	pipelineHandler := workers.NewPipelineHandler(pipe)
	q.StartConsumers(ctx, cfg.QueueWorkers, pipelineHandler.Handle)

	sweeper := pipeline.NewSweeper(repo, cfg.SweepInterval, map[models.JobStatus]time.Duration{
		models.StatusQueued:                cfg.MaxAgeQueued,
		models.StatusProcessingSTT:         cfg.MaxAgeSTT,
		models.StatusProcessingTranslation: cfg.MaxAgeTranslation,
		models.StatusProcessingSummary:     cfg.MaxAgeSummarization,
	})
	go sweeper.Run(ctx)

	handlers := &httpapi.Handlers{
		Q:        q,
		Pipeline: pipe,
		Repo:     repo,
		Storage:  storageService,
		Redis:    redisService,
		DB:       db,
		Config:   cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
}
