package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkonda/poolguard/pkg/auditlog"
	"github.com/mkonda/poolguard/pkg/auth"
	"github.com/mkonda/poolguard/pkg/cache"
	"github.com/mkonda/poolguard/pkg/config"
	"github.com/mkonda/poolguard/pkg/keyprovider"
	"github.com/mkonda/poolguard/pkg/metrics"
	"github.com/mkonda/poolguard/pkg/server"
	"github.com/mkonda/poolguard/pkg/utils"
	"github.com/mkonda/poolguard/pkg/validator"
	"github.com/mkonda/poolguard/pkg/version"
)

func main() {
	var (
		listenAddr = flag.String("listen", "", "Listen address (overrides config)")
		logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	)
	flag.Parse()

	cfg, err := config.NewConfig()
	if err != nil {
		slog.Error("Failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	setupLogging(cfg.LogLevel)

	versionInfo := version.Get()
	slog.Info("Starting poolguard",
		slog.String("version", versionInfo.Version),
		slog.String("commit", versionInfo.Commit),
		slog.String("date", versionInfo.Date),
		slog.String("issuer", cfg.Issuer),
		slog.String("jwks_url", cfg.JWKSURL),
	)

	keyCache, err := cache.New(cfg)
	if err != nil {
		slog.Error("Failed to initialize key cache", slog.String("error", err.Error()))
		os.Exit(1)
	}

	metricsHandler, err := metrics.Register(prometheus.DefaultRegisterer)
	if err != nil {
		slog.Error("Failed to register metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	provider := keyprovider.New(cfg, keyCache)
	verifier := validator.NewTokenVerifier(provider)
	claims := validator.NewClaimsValidator(cfg)

	trail := auditlog.New(cfg)
	defer func() {
		if err := trail.Close(); err != nil {
			slog.Error("Failed to close audit trail", slog.String("error", err.Error()))
		}
	}()

	authenticator := auth.NewAuthenticator(cfg, verifier, claims).WithAuditTrail(trail)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(cfg, authenticator, metricsHandler)
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("Server stopped")
}

func setupLogging(level string) {
	logLevel, err := utils.ParseLogLevel(level)
	if err != nil {
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
