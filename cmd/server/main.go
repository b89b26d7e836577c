package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"cellstock/backend/internal/cache"
	"cellstock/backend/internal/config"
	"cellstock/backend/internal/documents"
	"cellstock/backend/internal/httpapi"
	"cellstock/backend/internal/logger"
	"cellstock/backend/internal/service"
	"cellstock/backend/internal/store"
	"cellstock/backend/internal/store/memory"
	pgstore "cellstock/backend/internal/store/postgres"
)

type documentQueue interface {
	service.DocumentQueue
	Run(ctx context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg.AppEnv, cfg.LogLevel)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid security configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(ctx context.Context, cfg config.Config) error {
	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)
	defer func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				log.Warn().Err(err).Msg("close error")
			}
		}
	}()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(startCtx, cfg.DatabaseURL, cfg.DBMaxConcurrentTx)
		if err != nil {
			return fmt.Errorf("postgres unavailable and DATABASE_URL is set, refusing to fall back to memory: %w", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	var rdb *redis.Client
	productCache := cache.ProductCache(cache.NoopProductCache{})
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(startCtx).Err(); err != nil {
			log.Warn().Err(err).Msg("redis unavailable, using noop cache and in-process document queue")
			_ = client.Close()
		} else {
			rdb = client
			productCache = cache.NewRedisProductCache(client)
			closers = append(closers, client.Close)
			log.Info().Msg("cache: redis")
		}
	}

	var storage documents.ObjectStorage
	uploadDir := ""
	if cfg.Minio.Enabled() {
		m := cfg.Minio
		minioStorage, err := documents.NewMinioStorage(startCtx, m.Endpoint, m.AccessKey, m.SecretKey, m.Bucket, m.UseSSL)
		if err != nil {
			return fmt.Errorf("minio storage: %w", err)
		}
		storage = minioStorage
		log.Info().Str("bucket", m.Bucket).Msg("document storage: minio")
	} else {
		local, err := documents.NewLocalStorage(cfg.UploadDir, cfg.PublicBaseURL)
		if err != nil {
			return fmt.Errorf("local storage: %w", err)
		}
		storage = local
		uploadDir = cfg.UploadDir
		log.Info().Str("dir", cfg.UploadDir).Msg("document storage: local")
	}

	generator := documents.NewGenerator(storage, repo)
	var queue documentQueue
	if rdb != nil {
		queue = documents.NewRedisQueue(rdb, generator, cfg.DocumentWorkers)
	} else {
		queue = documents.NewLocalQueue(generator, cfg.DocumentWorkers, 256)
	}

	svc := service.New(repo, service.Options{
		Cache:     productCache,
		CacheTTL:  cfg.CatalogCacheTTL(),
		Documents: queue,
		Location:  cfg.Location,
	})
	auth, err := httpapi.NewAuthManager(startCtx, cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		UploadDir:     uploadDir,
		Release:       cfg.AppEnv == "production",
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return queue.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Str("addr", cfg.Address()).Msg("cellstock backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown error")
		}
		return nil
	})
	return g.Wait()
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.AppEnv == "production" && cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required in production")
	}
	return nil
}
