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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/sumanism/ECA2/internal/ai"
	"github.com/sumanism/ECA2/internal/analytics"
	"github.com/sumanism/ECA2/internal/api"
	"github.com/sumanism/ECA2/internal/audience"
	"github.com/sumanism/ECA2/internal/audit"
	"github.com/sumanism/ECA2/internal/auth"
	"github.com/sumanism/ECA2/internal/config"
	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/segment"
	"github.com/sumanism/ECA2/internal/store"
	"github.com/sumanism/ECA2/internal/telemetry"
	"github.com/sumanism/ECA2/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("version", version.Version).
		Str("env", cfg.AppEnv).
		Str("store", cfg.StoreType).
		Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, version.Version, cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	st, err := store.NewStore(ctx, cfg.StoreType, cfg.DatabaseDSN, cfg.DBMigrate)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	// admins stays a nil interface unless basic auth is configured
	var admins auth.AdminStore
	if cfg.AdminEmail != "" {
		created, err := auth.EnsureAdmin(ctx, st, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("admin: %w", err)
		}
		if created {
			log.Info().Str("email", cfg.AdminEmail).Msg("admin account created")
		}
		admins = st
	}
	if cfg.AdminAPIKey == "" && admins == nil {
		log.Warn().Msg("no admin credentials configured, mutating routes are open")
	}

	auditSvc := audit.NewService(audit.NewStoreSink(st), nil, log, 0)

	var assistant *ai.Assistant
	if cfg.AI.Enabled() {
		llm := ai.NewClient(cfg.AI, log)
		assistant = ai.NewAssistant(llm, auditSvc, log, llm.IsOpenAI())
		log.Info().Str("model", cfg.AI.Model).Msg("AI assistant enabled")
	} else {
		assistant = ai.NewAssistant(nil, auditSvc, log, false)
		log.Warn().Msg("no AI API key configured, AI routes return fallbacks")
	}

	eval := segment.NewEvaluator(segment.WithParallelism(cfg.EvalParallelism, cfg.EvalParallelMinRecord))

	srvAPI := api.NewServer(api.Deps{
		Store:     st,
		Audience:  audience.NewService(st, eval, log),
		Analytics: analytics.NewService(st),
		Assistant: assistant,
		Auth:      api.NewAuthenticator(admins, cfg.AdminAPIKey),
		Logger:    log,
	}, api.Options{
		RateLimitPerIP:    cfg.RateLimitPerIP,
		RateLimitAIPerKey: cfg.RateLimitAIPerKey,
		CORSOrigins:       cfg.CORSOrigins,
	})

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srvAPI.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(log, "api", apiServer) })
	g.Go(func() error { return serve(log, "metrics", metricsServer) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := errors.Join(
			apiServer.Shutdown(shutCtx),
			metricsServer.Shutdown(shutCtx),
		)
		if cerr := auditSvc.Close(shutCtx); cerr != nil {
			log.Warn().Err(cerr).Int64("dropped", auditSvc.Dropped()).Msg("audit log not fully flushed")
		}
		if terr := shutdownTracer(shutCtx); terr != nil {
			log.Warn().Err(terr).Msg("tracer shutdown")
		}
		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

func serve(log logger.Logger, name string, srv *http.Server) error {
	log.Info().Str("server", name).Str("addr", srv.Addr).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
