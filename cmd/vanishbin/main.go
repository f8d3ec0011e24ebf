package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"vanishbin/cfg"
	"vanishbin/svc/api"
	"vanishbin/svc/store"
	"vanishbin/svc/svc"
	"vanishbin/svc/util"
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		util.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if err := cfg.Validate(c); err != nil {
		util.Fatal().Err(err).Msg("invalid configuration")
		os.Exit(1)
	}

	if len(os.Args) > 1 && os.Args[1] == "-health" {
		os.Exit(health(c))
	}

	defer c.Wipe()
	util.InitLog(c.LogLevel, c.Environment == "development")
	util.Info().
		Str("backend", c.StoreBackend).
		Bool("test_mode", c.TestMode).
		Str("redis_url", util.RedactURL(c.RedisURL)).
		Strs("allowed_origins", c.AllowedOrigins).
		Msg("starting vanishbin")

	backend := store.NewLazy(c.StoreBackend, func(ctx context.Context) (store.Backend, error) {
		b, err := store.Open(ctx, c)
		if err != nil {
			util.Error().Err(err).Str("backend", c.StoreBackend).Msg("backend open failed")
			return nil, err
		}
		util.Info().Str("backend", b.Name()).Msg("backend opened")
		return b, nil
	})
	pasteSvc := svc.NewPaste(backend, c)
	server := api.NewServer(c, pasteSvc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		util.Info().Msg("shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			util.Error().Err(err).Msg("server shutdown error")
		}
		if err := pasteSvc.Close(); err != nil {
			util.Error().Err(err).Msg("backend close error")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		util.Error().Err(err).Msg("server failed")
		os.Exit(1)
	}
	util.Info().Msg("shutdown complete")
}

// health opens the configured backend and pings it once.
func health(c *cfg.Cfg) int {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	b, err := store.Open(ctx, c)
	if err != nil {
		return 1
	}
	defer b.Close()
	if err := b.Ping(ctx); err != nil {
		return 1
	}
	return 0
}
