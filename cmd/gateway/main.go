package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aegisgate/aegisgate/internal/app"
	"github.com/aegisgate/aegisgate/internal/gateway"
	"github.com/aegisgate/aegisgate/internal/keyring"
	"github.com/aegisgate/aegisgate/internal/keys"
	"github.com/aegisgate/aegisgate/internal/manifest"
	"github.com/aegisgate/aegisgate/internal/observability"
	"github.com/aegisgate/aegisgate/internal/platform/cache"
	"github.com/aegisgate/aegisgate/internal/signedcache"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	provider, err := keys.Load(cfg.KeyDir, cfg.KeyName, cfg.KeyBits)
	if err != nil {
		logger.Error("load signing key", slog.Any("error", err))
		os.Exit(1)
	}

	m, err := manifest.Load(cfg.ManifestPath)
	if err != nil {
		logger.Error("load manifest", slog.String("path", cfg.ManifestPath), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("manifest loaded",
		slog.String("project", m.Project),
		slog.Int("routes", len(m.Routes)))

	metrics := observability.NewMetrics()

	var issuerClient gateway.IssuerClient = gateway.NewIssuerClient(cfg.IssuerURL, cfg.UpstreamTimeout)
	if cfg.LocalValidation {
		ring := keyring.NewClient(redisClient, &http.Client{Timeout: cfg.UpstreamTimeout}, cfg.PublicKeyTTL,
			keyring.Source{Name: "issuer", URL: cfg.IssuerURL + "/auth/public-key"})
		if err := ring.WarmUp(ctx); err != nil {
			logger.Warn("keyring warm-up", slog.Any("error", err))
		}
		issuerClient = gateway.NewLocalValidator(ring, "issuer")
		logger.Info("local token validation enabled")
	}

	pipeline := gateway.NewPipeline(gateway.PipelineParams{
		Router:   gateway.NewRouter(m),
		Store:    signedcache.NewStore(redisClient),
		Provider: provider,
		Issuer:   issuerClient,
		ACL:      gateway.NewACLClient(cfg.ACLURL, cfg.UpstreamTimeout),
		CacheTTL: cfg.CacheEntryTTL,
		Logger:   logger,
		Metrics:  metrics,
	})
	handler, err := gateway.NewHandler(pipeline, logger)
	if err != nil {
		logger.Error("init gateway", slog.Any("error", err))
		os.Exit(1)
	}

	r := chi.NewRouter()
	for _, mw := range app.MiddlewareStack(app.MiddlewareConfig{Logger: logger, Config: cfg, Metrics: metrics}) {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/*", handler)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      r,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting gateway", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
