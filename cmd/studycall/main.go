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

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/studycall/internal/adapters/http"
	"github.com/dkeye/studycall/internal/adapters/render"
	"github.com/dkeye/studycall/internal/adapters/room"
	"github.com/dkeye/studycall/internal/adapters/rtc"
	viewsignal "github.com/dkeye/studycall/internal/adapters/signal"
	"github.com/dkeye/studycall/internal/app/orch"
	"github.com/dkeye/studycall/internal/config"
	"github.com/dkeye/studycall/internal/core"
)

const reconnectDelay = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	if err := router.CheckSecret(cfg); err != nil {
		log.Warn().Err(err).Msg("using a random session secret, sessions will not survive restarts")
		cfg.Secret = uuid.NewString() + uuid.NewString()
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("studycall failed")
	}
	log.Info().Msg("Server exited gracefully")
}

func run(ctx context.Context, cfg *config.Config) error {
	api, err := rtc.NewAPI()
	if err != nil {
		return err
	}
	layout := layoutConfig(cfg)
	surface, err := render.NewSurface(cfg.Render.VideoMime, layout.Targets())
	if err != nil {
		return err
	}

	engine := orch.New(engineConfig(cfg), surface, nil)
	client := room.NewClient(room.Config{
		URL:        cfg.Room.URL,
		RoomID:     cfg.Room.ID,
		Name:       cfg.Room.Name,
		Media:      cfg.Room.Media,
		ICEServers: cfg.ICEServers,
		PingPeriod: cfg.PingPeriod,
	}, engine, api)
	engine.SetTransport(client)

	ctl := viewsignal.NewViewController(engine, surface, api,
		viewsignal.NewRateLimiter(cfg.ControlRate.Limit, cfg.ControlRate.Interval))
	ctl.ICE = cfg.ICEServers
	ctl.ReadLimit = cfg.ReadLimit
	stop := ctl.Start()
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router.SetupRouter(ctx, cfg, ctl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		linkRoom(gctx, client, cfg.Room.URL)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("studycall server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return nil
	})
	return g.Wait()
}

// linkRoom keeps the room link up until ctx ends.
func linkRoom(ctx context.Context, client *room.Client, url string) {
	if url == "" {
		log.Warn().Msg("room.url not set, running without a room")
		return
	}
	for {
		err := client.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("room link lost")
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func engineConfig(cfg *config.Config) orch.Config {
	return orch.Config{
		Tick:           cfg.Engine.Tick,
		CommandTimeout: cfg.Engine.CommandTimeout,
		QueueSize:      cfg.Engine.QueueSize,
		Strict:         cfg.Engine.Strict,
		PromoteAfter:   cfg.Speaking.PromoteAfter,
		Speaking: core.SpeakingConfig{
			EnterLevel:  cfg.Speaking.EnterLevel,
			ExitLevel:   cfg.Speaking.ExitLevel,
			MinSpeaking: cfg.Speaking.MinSpeaking,
			MinSilence:  cfg.Speaking.MinSilence,
			MaxGap:      cfg.Speaking.MaxGap,
		},
		Layout: layoutConfig(cfg),
	}
}

func layoutConfig(cfg *config.Config) core.LayoutConfig {
	return core.LayoutConfig{
		StripSlots:     cfg.Layout.StripSlots,
		ColumnSlots:    cfg.Layout.ColumnSlots,
		ThumbnailSlots: cfg.Layout.ThumbnailSlots,
	}
}
