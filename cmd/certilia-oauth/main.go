// Command certilia-oauth runs the authentication broker as an HTTP
// service in front of the Certilia eID identity provider.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	broker "github.com/e-id/certilia-oauth"
	"github.com/e-id/certilia-oauth/credential"
	"github.com/e-id/certilia-oauth/instrumentation"
	"github.com/e-id/certilia-oauth/providers/certilia"
	"github.com/e-id/certilia-oauth/storage/memory"
)

type appConfig struct {
	Port      string `env:"PORT" env-default:"8080"`
	ServerURL string `env:"SERVER_URL" env-default:"http://localhost:8080"`
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`

	CertiliaClientID     string        `env:"CERTILIA_CLIENT_ID"`
	CertiliaClientSecret string        `env:"CERTILIA_CLIENT_SECRET"`
	CertiliaBaseURL      string        `env:"CERTILIA_BASE_URL"`
	CertiliaTimeout      time.Duration `env:"CERTILIA_TIMEOUT"`

	TokenSecret string        `env:"TOKEN_SECRET"`
	TokenIssuer string        `env:"TOKEN_ISSUER" env-default:"certilia-oauth"`
	AccessTTL   time.Duration `env:"ACCESS_TOKEN_TTL"`
	RefreshTTL  time.Duration `env:"REFRESH_TOKEN_TTL"`

	SessionTTL time.Duration `env:"SESSION_TTL"`
	PollingTTL time.Duration `env:"POLLING_TTL"`

	RateLimitPerSecond int  `env:"RATE_LIMIT_PER_SECOND"`
	RateLimitBurst     int  `env:"RATE_LIMIT_BURST"`
	TrustProxy         bool `env:"TRUST_PROXY" env-default:"false"`
	TrustedProxyCount  int  `env:"TRUSTED_PROXY_COUNT" env-default:"1"`

	AuditLogging     bool `env:"AUDIT_LOGGING" env-default:"true"`
	TelemetryEnabled bool `env:"TELEMETRY_ENABLED" env-default:"false"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

func (c *appConfig) validate() error {
	if c.CertiliaClientID == "" {
		return fmt.Errorf("CERTILIA_CLIENT_ID is required")
	}
	if c.CertiliaClientSecret == "" {
		return fmt.Errorf("CERTILIA_CLIENT_SECRET is required")
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("TOKEN_SECRET is required")
	}
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run() error {
	// A local .env is optional; real deployments use the environment.
	_ = godotenv.Load()

	var cfg appConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	inst, err := instrumentation.New(instrumentation.Config{
		ServiceName: "certilia-oauth",
		Enabled:     cfg.TelemetryEnabled,
	})
	if err != nil {
		return fmt.Errorf("setting up instrumentation: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := inst.Shutdown(ctx); err != nil {
			logger.Warn("instrumentation shutdown", "error", err)
		}
	}()

	store := memory.New()
	defer store.Stop()
	store.SetLogger(logger)
	store.SetInstrumentation(inst)

	brokerCfg := &broker.Config{
		Issuer:             cfg.TokenIssuer,
		ServerURL:          cfg.ServerURL,
		SessionTTL:         cfg.SessionTTL,
		PollingTTL:         cfg.PollingTTL,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
		TrustProxy:         cfg.TrustProxy,
		TrustedProxyCount:  cfg.TrustedProxyCount,
		AuditLogging:       cfg.AuditLogging,
		Logger:             logger,
	}
	if err := brokerCfg.Validate(); err != nil {
		return fmt.Errorf("broker configuration: %w", err)
	}

	provider, err := certilia.New(&certilia.Config{
		ClientID:     cfg.CertiliaClientID,
		ClientSecret: cfg.CertiliaClientSecret,
		RedirectURL:  brokerCfg.RedirectURI(),
		BaseURL:      cfg.CertiliaBaseURL,
		Timeout:      cfg.CertiliaTimeout,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("configuring provider: %w", err)
	}

	credentials, err := credential.New(credential.Config{
		Secret:          cfg.TokenSecret,
		Issuer:          cfg.TokenIssuer,
		AccessTokenTTL:  cfg.AccessTTL,
		RefreshTokenTTL: cfg.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("configuring credential service: %w", err)
	}

	b, err := broker.New(brokerCfg, provider, store, store, credentials)
	if err != nil {
		return fmt.Errorf("building broker: %w", err)
	}
	b.SetInstrumentation(inst)

	handler := broker.NewHandler(b)
	defer handler.Close()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", server.Addr, "provider", provider.Name())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
