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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/MusicRoom/internal/adapters/http"
	signaladapter "github.com/dkeye/MusicRoom/internal/adapters/signal"
	"github.com/dkeye/MusicRoom/internal/app/broadcast"
	"github.com/dkeye/MusicRoom/internal/app/orch"
	"github.com/dkeye/MusicRoom/internal/app/reaper"
	"github.com/dkeye/MusicRoom/internal/auth"
	"github.com/dkeye/MusicRoom/internal/config"
	"github.com/dkeye/MusicRoom/internal/metrics"
	"github.com/dkeye/MusicRoom/internal/store"
	"github.com/dkeye/MusicRoom/internal/workflow"
	"github.com/dkeye/MusicRoom/internal/workflow/local"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	// Device rows never survive a restart: their sockets are gone.
	purged, err := st.Devices().Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge devices: %w", err)
	}
	if purged > 0 {
		log.Info().Int64("devices", purged).Msg("purged stale devices")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	engine := local.New()
	defer engine.Close()
	bridge := workflow.Instrument(workflow.WithTimeout(engine, cfg.Workflow.Timeout))

	rp := reaper.New(bridge, reaper.Config{
		InitialInterval: cfg.Workflow.TerminateRetry.Initial,
		MaxElapsed:      cfg.Workflow.TerminateRetry.MaxElapsed,
		QueueSize:       cfg.Workflow.TerminateRetry.QueueSize,
	})
	hub := broadcast.NewManager(broadcast.SimplePolicy{})
	o := orch.New(st.Devices(), st.Rooms(), bridge, hub, rp)
	engine.SetListener(o.OnWorkflowUpdate)

	if n, err := o.Reconcile(ctx); err != nil {
		return err
	} else if n > 0 {
		log.Info().Int("rooms", n).Msg("evicted rooms of offline creators")
	}

	// Connections outlive ctx until shutdown has stopped evictions.
	connCtx, stopConns := context.WithCancel(context.Background())
	defer stopConns()
	ctrl := router.NewSignalController(cfg, o, signaladapter.NewActionRateLimiter(cfg.RateLimit.Actions, cfg.RateLimit.Interval))
	r := router.SetupRouter(connCtx, cfg, router.Deps{
		Orch:     o,
		Signal:   ctrl,
		Verifier: auth.NewVerifier(cfg.JWTSecret),
		Health:   st.Ping,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("MusicRoom server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return rp.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		o.BeginShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		stopConns()
		if err := ctrl.Drain(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("connections not drained")
		}
		return nil
	})
	return g.Wait()
}
