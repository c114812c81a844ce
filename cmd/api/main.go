package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"zackhub/api/internal/app"
	"zackhub/api/internal/cache"
	"zackhub/api/internal/config"
	"zackhub/api/internal/ledger"
	"zackhub/api/internal/logging"
	"zackhub/api/internal/retention"
	"zackhub/api/internal/search"
	"zackhub/api/internal/store"
)

func main() {
	envErr := godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg)
	defer func() { _ = logger.Sync() }()
	if envErr != nil {
		logger.Debug("no .env file loaded", zap.Error(envErr))
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeperOpts := retention.Options{
		Window:   cfg.RetentionWindow,
		Interval: cfg.SweepInterval,
		Logger:   logger,
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiver, err := retention.NewMinioArchiver(ctx, retention.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("minio archive unavailable", zap.Error(err))
		}
		sweeperOpts.Archiver = archiver
		logger.Info("archiving expired comments", zap.String("bucket", cfg.MinioBucket))
	}

	dataStore, fallback, loader, closeStore := openStore(ctx, cfg, retention.StoreExpiry(sweeperOpts), logger)
	defer closeStore()

	voteBackend := ledger.Backend(dataStore)
	var redisVotes *ledger.RedisBackend
	if cfg.VoteBackend == config.VotesInRedis {
		exists := func(ctx context.Context, commentID string) (bool, error) {
			_, err := dataStore.GetComment(ctx, commentID)
			if errors.Is(err, store.ErrNotFound) {
				return false, nil
			}
			return err == nil, err
		}
		var err error
		redisVotes, err = ledger.NewRedisBackend(cfg.RedisURL, exists)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisVotes.Close()
		voteBackend = redisVotes
		logger.Info("using redis for vote storage")
	}
	votes := ledger.New(voteBackend, logger.Named("ledger"))

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.Named("meili"))
	}
	searchService := search.NewService(meiliClient, fallback, logger)
	defer searchService.Close()
	if loader != nil {
		go searchService.ReindexAll(ctx, loader)
	}

	threads, err := cache.NewThreadCache(cfg.ThreadCacheSize, cfg.ThreadCacheTTL)
	if err != nil {
		logger.Fatal("thread cache", zap.Error(err))
	}

	service := app.NewService(dataStore, votes, threads, searchService, app.Options{
		StoreTimeout:            cfg.StoreTimeout,
		ThreadLimit:             cfg.ThreadLimit,
		RequireRegisteredHandle: cfg.RequireRegisteredHandle,
		AdminName:               cfg.AdminName,
		BlockedWords:            cfg.BlockedWords,
	}, logger.Named("comments"))
	if redisVotes != nil {
		service.AddReadinessCheck("redis", redisVotes)
	}

	sweeperOpts.Votes = votes
	sweeperOpts.Search = searchService
	sweeperOpts.Cache = threads
	go retention.NewSweeper(dataStore, sweeperOpts).Run(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.AdminToken, logger.Named("http"))
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("ZackHub comments API listening", zap.String("addr", cfg.Addr), zap.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
}

// openStore connects the configured comment store and returns the search
// fallback and reindex source that fit it. expireAfter is the server-side
// expiry for stores that support one.
func openStore(ctx context.Context, cfg config.Config, expireAfter time.Duration, logger *zap.Logger) (store.Store, search.Searcher, search.RecordLoader, func()) {
	switch cfg.StoreDriver {
	case config.StoreMongo:
		mongoStore, err := store.OpenMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			logger.Fatal("mongodb connection failed", zap.Error(err))
		}
		if err := mongoStore.EnsureIndexes(ctx, expireAfter); err != nil {
			logger.Fatal("mongodb indexes failed", zap.Error(err))
		}
		closeFn := func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoStore.Close(closeCtx)
		}
		return mongoStore, search.NewScan(mongoStore, cfg.ThreadLimit), nil, closeFn

	case config.StoreMemory:
		logger.Warn("using in-memory comment store; data is lost on restart")
		memStore := store.NewMemoryStore()
		return memStore, search.NewScan(memStore, cfg.ThreadLimit), nil, func() {}

	default:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, logger.Named("migrate")); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		pgfts := search.NewPgFTS(db)
		return store.NewPostgresStore(db), pgfts, pgfts, func() { _ = db.Close() }
	}
}
