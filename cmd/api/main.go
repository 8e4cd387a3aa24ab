package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pagepush/api/internal/app"
	"pagepush/api/internal/auth"
	"pagepush/api/internal/config"
	"pagepush/api/internal/converter"
	"pagepush/api/internal/idempotency"
	"pagepush/api/internal/logger"
	"pagepush/api/internal/media"
	"pagepush/api/internal/merger"
	"pagepush/api/internal/metrics"
	"pagepush/api/internal/scheduler"
	"pagepush/api/internal/search"
	"pagepush/api/internal/store"
	"pagepush/api/internal/versions"
)

func main() {
	cfg := config.Load()
	log, err := logger.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("database connection failed", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Error("migrations failed", logger.Error(err))
		os.Exit(1)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", logger.Strings("versions", applied))
	}

	pages := store.NewPostgresStore(db)
	collector := metrics.New()

	var (
		idemStore idempotency.Store = idempotency.NewPostgresStore(db)
		limiter   auth.Limiter      = auth.NewMemoryLimiter(cfg.RateLimit, cfg.RateWindow)
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := idempotency.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, using postgres idempotency and in-process rate limits", logger.Error(err))
		} else {
			defer redisStore.Close()
			log.Info("using redis for idempotency and rate limits")
			idemStore = redisStore
			limiter = auth.NewRedisLimiter(redisStore.Client(), cfg.RateLimit, cfg.RateWindow)
		}
	}

	gate, err := auth.NewGate(credentials(cfg), limiter, log)
	if err != nil {
		log.Error("invalid credentials config", logger.Error(err))
		os.Exit(1)
	}
	watcher, err := config.Watch(cfg.EnvFile, log, func(next config.Config) {
		if err := gate.Reload(credentials(next)); err != nil {
			log.Error("credential reload rejected", logger.Error(err))
		}
	})
	if err != nil {
		log.Warn("config watcher disabled", logger.Error(err))
	} else {
		defer watcher.Close()
	}

	var backend versions.Backend = versions.NewPostgresBackend(db)
	if cfg.VersionBackend == "git" {
		if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
			log.Error("failed to create repos dir", logger.Error(err))
			os.Exit(1)
		}
		backend = versions.NewGitBackend(cfg.ReposDir)
	}
	log.Info("version store ready", logger.String("backend", cfg.VersionBackend), logger.Int("cap", cfg.VersionCap))

	var uploader app.ImageUploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		objects, err := media.NewMinioStore(ctx, media.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
			PublicURL: cfg.MinioPublicURL,
		})
		if err != nil {
			log.Warn("media storage unavailable, uploads disabled", logger.Error(err))
		} else {
			uploader = media.NewUploader(objects, cfg.MediaFetchTimeout, log)
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewPgFTS(db), log)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(context.Background())
	}

	service := app.New(app.Deps{
		Config:      cfg,
		Store:       pages,
		Idempotency: idempotency.New(idemStore, cfg.IdempotencyTTL),
		Converter:   converter.New(converter.NewCapabilitySet(cfg.WidgetFamilies...)),
		Merger:      merger.New(merger.Policy(cfg.SafeNoMarkers)),
		Versions:    versions.New(backend, cfg.VersionCap),
		Media:       uploader,
		Search:      searchService,
		Metrics:     collector,
		Logger:      log,
	})

	sched, err := scheduler.New(cfg.SchedulerSpec, pages, service.ReplayScheduled, log, collector)
	if err != nil {
		log.Error("invalid scheduler spec", logger.String("spec", cfg.SchedulerSpec), logger.Error(err))
		os.Exit(1)
	}
	sched.Start()

	httpServer := app.NewHTTPServer(service, gate)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("pagepush API listening", logger.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", logger.Error(err))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", logger.Error(err))
	}
	sched.Stop(shutdownCtx)
}

func credentials(cfg config.Config) auth.Credentials {
	return auth.Credentials{
		APIKey:           cfg.APIKey,
		APIKeyHash:       cfg.APIKeyHash,
		ReadKey:          cfg.ReadKey,
		Secret:           cfg.HMACSecret,
		RequireSignature: cfg.RequireSignature,
		Window:           cfg.SignatureWindow,
		Allowlist:        cfg.IPAllowlist,
	}
}
