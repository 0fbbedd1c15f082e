// Package adminservice assembles the admin sync HTTP service.
package adminservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/pgpavlides/3dprintwiki-sub000/internal/api"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/auth"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/config"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/factory"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/health"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/logger"
	"github.com/pgpavlides/3dprintwiki-sub000/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Run loads configuration from the environment, starts the service and
// blocks until SIGINT/SIGTERM or a fatal error.
func Run() error {
	log := logger.New("admin-sync")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	log = logger.NewWithWriter(os.Stdout, "admin-sync", cfg.LogLevel)

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Str("auth_mode", cfg.AuthMode).
		Int("http_port", cfg.HTTPPort).
		Msg("Admin sync service starting")

	ctx, stop := newServerContext()
	defer stop()

	ln, err := net.Listen("tcp", cfg.GetHTTPAddr())
	if err != nil {
		log.Error().Stack().Err(err).Msg("listen failed")
		return err
	}
	return Serve(ctx, cfg, log, ln)
}

// Serve runs the service on ln until ctx is cancelled. The listener is
// closed on return.
func Serve(ctx context.Context, cfg *config.Config, log zerolog.Logger, ln net.Listener) error {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		_ = ln.Close()
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	verifier, err := newVerifier(cfg)
	if err != nil {
		_ = ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	svcHealth := startHealthCheckers(gctx, g, cfg, log, st)

	if err := health.WaitUntilHealthy(gctx, svcHealth, startupHealthTimeout(cfg.HealthIntervalSeconds)); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		cancel()
		_ = g.Wait()
		_ = ln.Close()
		return err
	}

	router := api.NewRouter(api.Deps{
		Store:     st,
		Verifier:  verifier,
		DevActor:  cfg.DevActor,
		Health:    svcHealth,
		OpTimeout: cfg.OpTimeout(),
		Log:       log,
	})
	server := newHTTPServer(gctx, router)

	g.Go(func() error {
		log.Info().Str("addr", ln.Addr().String()).Msg("HTTP server starting")
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Stack().Err(err).Msg("admin sync service failed")
		return err
	}
	return nil
}

// newVerifier returns nil in dev mode; the router then trusts the actor header.
func newVerifier(cfg *config.Config) (api.Verifier, error) {
	if cfg.AuthMode != "jwt" {
		return nil, nil
	}
	j, err := auth.NewJWT(cfg.JWTSecret, cfg.JWTIssuer)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func startHealthCheckers(ctx context.Context, g *errgroup.Group, cfg *config.Config, log zerolog.Logger, st store.Store) *health.Service {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	storeChecker := store.NewHealthChecker(st, log, probeTimeout)
	svcHealth := health.NewService(log, storeChecker)

	g.Go(func() error { storeChecker.Start(ctx, interval); return nil })
	g.Go(func() error { svcHealth.Start(ctx, interval); return nil })
	return svcHealth
}

func newHTTPServer(ctx context.Context, handler http.Handler) *http.Server {
	return &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: realtime sockets are long-lived and manage their own deadlines.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
}

// startupHealthTimeout is interval*2 with a floor of 60 seconds.
func startupHealthTimeout(healthIntervalSeconds int) time.Duration {
	timeout := healthIntervalSeconds * 2
	if timeout < 60 {
		timeout = 60
	}
	return time.Duration(timeout) * time.Second
}

func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
