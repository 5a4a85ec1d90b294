package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"mediaqueue/internal/api"
	"mediaqueue/internal/cache"
	"mediaqueue/internal/config"
	"mediaqueue/internal/fetcher"
	fileutil "mediaqueue/internal/file"
	"mediaqueue/internal/history"
	"mediaqueue/internal/publish"
	"mediaqueue/internal/ratelimit"
	"mediaqueue/internal/storage"
	"mediaqueue/internal/task"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

type app struct {
	store     storage.Store
	publisher publish.Publisher
	manager   *task.Manager
}

func main() {
	configPath := flag.String("config", "config.yml", "path to the YAML config file")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	for _, dir := range []string{cfg.DataDir, cfg.DownloadDir} {
		if err := fileutil.EnsureDir(dir); err != nil {
			log.Fatal().Err(err).Str("dir", dir).Msg("ensure dir")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise")
	}

	router := setupRouter()
	api.NewAPI(a.manager).RegisterRoutes(router)
	srv := newHTTPServer(cfg.Port, router, readHeaderTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Int("port", cfg.Port).Int("workers", cfg.MaxConcurrentDownloads).Str("storage", cfg.Storage.Backend).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutdown signal received")
		gracefulShutdown(srv, a, shutdownTimeout)
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	log.Info().Msg("server exited cleanly")
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(ctx, storage.Options{
		Backend:       cfg.Storage.Backend,
		DataDir:       cfg.DataDir,
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		RedisPrefix:   cfg.Storage.RedisPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	metaCache, err := cache.Open(ctx, store, cache.Options{TTL: cfg.Cache.TTL, MaxSize: int64(cfg.Cache.MaxSize)})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	hist, err := history.Open(ctx, store, cfg.History.MaxEntries)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open history: %w", err)
	}
	limiter, err := ratelimit.New(cfg.RateLimit.Rate, cfg.RateLimit.Period, cfg.RateLimit.Burst, cfg.RateLimit.Cooldown)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	publisher, err := publish.New(publish.OBSConfig{
		Endpoint:  cfg.Publish.OBS.Endpoint,
		AccessKey: cfg.Publish.OBS.AccessKey,
		SecretKey: cfg.Publish.OBS.SecretKey,
		Bucket:    cfg.Publish.OBS.Bucket,
		Prefix:    cfg.Publish.OBS.Prefix,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("publisher: %w", err)
	}

	ytdlp := fetcher.NewYTDLP(cfg.Fetcher.Binary, cfg.Fetcher.ExtraArgs)
	ytdlp.TerminateGrace = cfg.Fetcher.TerminateGrace

	manager, err := task.NewManager(task.Options{
		MaxWorkers:       cfg.MaxConcurrentDownloads,
		MaxRetries:       cfg.Retry.MaxRetries,
		RetryDelay:       cfg.Retry.Delay,
		URLPattern:       cfg.URLPattern,
		MinFreeSpace:     uint64(cfg.MinFreeSpace),
		DefaultOutputDir: cfg.DownloadDir,
		InfoTimeout:      cfg.RateLimit.AcquireTimeout,
	}, task.Deps{
		Fetcher:   ytdlp,
		Cache:     metaCache,
		History:   hist,
		Limiter:   limiter,
		Publisher: publisher,
	})
	if err != nil {
		publisher.Close()
		_ = store.Close()
		return nil, fmt.Errorf("task manager: %w", err)
	}
	return &app{store: store, publisher: publisher, manager: manager}, nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func gracefulShutdown(srv *http.Server, a *app, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}
	if err := a.manager.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("downloads did not stop before timeout")
	}
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		log.Warn().Err(err).Msg("close storage")
	}
}
