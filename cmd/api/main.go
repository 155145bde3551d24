package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"counsel/api/internal/app"
	"counsel/api/internal/auth"
	"counsel/api/internal/comments"
	"counsel/api/internal/config"
	"counsel/api/internal/export"
	"counsel/api/internal/history"
	"counsel/api/internal/metrics"
	"counsel/api/internal/presence"
	"counsel/api/internal/pubsub"
	"counsel/api/internal/realtime"
	"counsel/api/internal/search"
	"counsel/api/internal/session"
	"counsel/api/internal/storage"
	"counsel/api/internal/store"
)

type dataStore interface {
	session.Store
	comments.Store
	Ping(ctx context.Context) error
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("could not load .env", "error", err)
	}
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	var st dataStore
	var fallback search.Searcher
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, os.DirFS(cfg.MigrationsDir), logger); err != nil {
			return err
		}
		st = store.NewPostgresStore(db)
		fallback = search.NewPgFTS(db)
		logger.Info("using postgres store")
	} else {
		st = store.NewMemoryStore()
		fallback = search.NewMemory()
		logger.Warn("DATABASE_URL not set, documents are kept in memory")
	}

	var broker pubsub.Broker
	var directory presence.Directory
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBroker, err := pubsub.NewRedisBroker(cfg.RedisURL, logger)
		if err != nil {
			return err
		}
		broker = redisBroker
		directory = presence.NewRedisDirectory(redisBroker.Client(), cfg.PresenceTimeout, logger)
		logger.Info("using redis broker")
	} else {
		broker = pubsub.NewLocalBroker()
	}
	defer broker.Close()

	var meili *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meili = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meili.Close()
	}
	searchService := search.NewService(meili, fallback, logger)
	if meili != nil {
		go reindexWhenReady(ctx, meili, searchService, logger)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		return err
	}
	hist := history.New(cfg.HistoryDir)

	var coord *session.Coordinator
	tracker := presence.NewTracker(presence.Config{
		Timeout: cfg.PresenceTimeout,
		OnEvict: func(rec presence.Record) { coord.Evicted(rec) },
	})
	coord = session.New(st, broker, tracker, logger).
		WithHistory(hist, cfg.CheckpointEvery).
		WithIndexer(searchService).
		WithMetrics(m)
	if directory != nil {
		coord.WithDirectory(directory)
	}
	go tracker.Run(ctx, cfg.PresenceSweep)

	commentService := comments.NewService(st, coord, logger).WithIndexer(searchService)

	exports := export.NewService(app.ExportSource{Sessions: coord, Comments: commentService}, logger)
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := storage.NewMinIO(ctx, storage.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return err
		}
		exports.WithStorage(objects, cfg.ExportURLTTL)
	}

	verifier, err := newVerifier(ctx, cfg, logger)
	if err != nil {
		return err
	}

	service := app.New(app.Deps{
		DB:       st,
		Sessions: coord,
		Comments: commentService,
		Search:   searchService,
		History:  hist,
		Exports:  exports,
		Verifier: verifier,
		Logger:   logger,
	})
	live := realtime.NewHandler(coord, cfg.CORSOrigin, logger).
		WithMetrics(m).
		WithPresenceTimeout(cfg.PresenceTimeout)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger).
		WithLive(live).
		WithMetrics(m, registry)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("counsel api listening", "addr", cfg.Addr, "env", cfg.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	coord.Wait()
	return nil
}

func newVerifier(ctx context.Context, cfg config.Config, logger *slog.Logger) (*auth.Verifier, error) {
	if strings.TrimSpace(cfg.JWKSURL) != "" {
		return auth.NewJWKSVerifier(ctx, cfg.JWKSURL, logger)
	}
	if !cfg.IsDev() && cfg.JWTSecret == config.DefaultJWTSecret {
		return nil, errors.New("COUNSEL_JWT_SECRET must be set outside dev")
	}
	return auth.NewHMACVerifier([]byte(cfg.JWTSecret), logger)
}

// reindexWhenReady copies Postgres rows into Meilisearch once it answers.
func reindexWhenReady(ctx context.Context, meili *search.Meili, svc *search.Service, logger *slog.Logger) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	deadline := time.After(time.Minute)
	for !meili.Healthy() {
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			logger.Warn("meilisearch not healthy, skipping reindex")
			return
		case <-ticker.C:
		}
	}
	svc.ReindexAllFromPG(ctx)
}
