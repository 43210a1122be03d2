package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/ai"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/db"
	"github.com/evermind-ai/evermind/internal/embedcache"
	"github.com/evermind-ai/evermind/internal/filestore"
	"github.com/evermind-ai/evermind/internal/handler"
	"github.com/evermind-ai/evermind/internal/job"
	"github.com/evermind-ai/evermind/internal/middleware"
	"github.com/evermind-ai/evermind/internal/repo"
	"github.com/evermind-ai/evermind/internal/schedule"
	"github.com/evermind-ai/evermind/internal/service"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "evermind",
		Short: "evermind assistant backend server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run evermind server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			database, err := db.Open(cfg.Database)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := db.ApplyMigrations(database); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, database)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func buildEmbedder(cfg *config.Config, cacheRepo *repo.EmbeddingCacheRepo) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.AI.Embedders))
	for _, item := range cfg.AI.Embedders {
		provider, err := ai.NewEmbedProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", item.Provider, err)
		}
		entries = append(entries, ai.EmbedderEntry{
			Name:     item.Provider + "/" + item.Model,
			Embedder: ai.NewEmbedder(provider, item.Model),
		})
	}
	embedder := ai.NewGroupEmbedder(entries)
	embedder = embedcache.WrapDimCheckToEmbedder(embedder, cfg.AI.EmbedDimension)
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, cacheRepo)
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.AI.CacheSize, time.Duration(cfg.AI.CacheTTLMinutes)*time.Minute)
	embedder = embedcache.WrapInputCheckToEmbedder(embedder, cfg.AI.MaxInputChars)
	return embedder, nil
}

func buildGenerator(cfg *config.Config) (ai.IGenerator, error) {
	entries := make([]ai.GeneratorEntry, 0, len(cfg.AI.Generators))
	for _, item := range cfg.AI.Generators {
		provider, err := ai.NewProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init ai provider %s: %w", item.Provider, err)
		}
		entries = append(entries, ai.GeneratorEntry{
			Name:      item.Provider + "/" + item.Model,
			Generator: ai.NewGenerator(provider, item.Model),
		})
	}
	// nil when no generators are configured; knowledge descriptions are
	// then left empty.
	return ai.NewGroupGenerator(entries), nil
}

func runServer(cfg *config.Config, database *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.Int("embed_dimension", cfg.AI.EmbedDimension),
		zap.String("file_store", cfg.FileStore.Type),
	)

	dim := cfg.AI.EmbedDimension
	messageRepo := repo.NewMessageRepo(database, dim)
	chunkRepo := repo.NewChunkRepo(database, dim)
	knowledgeRepo := repo.NewKnowledgeRepo(database, dim)
	assetRepo := repo.NewAssetRepo(database)
	cacheRepo := repo.NewEmbeddingCacheRepo(database, dim)

	embedder, err := buildEmbedder(cfg, cacheRepo)
	if err != nil {
		return err
	}
	generator, err := buildGenerator(cfg)
	if err != nil {
		return err
	}

	store, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}

	ragService := service.NewRagService(embedder, messageRepo, chunkRepo, knowledgeRepo, cfg.RAG)
	ingestService, err := service.NewIngestService(store, assetRepo, chunkRepo, embedder, cfg.Ingest)
	if err != nil {
		return fmt.Errorf("init ingest service: %w", err)
	}
	knowledgeService := service.NewKnowledgeService(embedder, generator, messageRepo, knowledgeRepo, cfg.Knowledge, cfg.RAG)

	deps := handler.RouterDeps{
		Chat:         handler.NewChatHandler(ragService),
		Assets:       handler.NewAssetHandler(ingestService),
		Knowledge:    handler.NewKnowledgeHandler(knowledgeService),
		JWTSecret:    []byte(cfg.JWTSecret),
		UploadWindow: time.Duration(cfg.Ingest.UploadRateSeconds) * time.Second,
	}

	engine, err := webapi.NewEngine(
		"/api/v1",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(job.NewKnowledgeExtractJob(knowledgeService), cfg.Schedule.KnowledgeExtract); err != nil {
		return fmt.Errorf("schedule knowledge extraction: %w", err)
	}
	if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(cacheRepo, cfg.Schedule.CacheKeepDays), cfg.Schedule.CacheCleanup); err != nil {
		return fmt.Errorf("schedule cache cleanup: %w", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
