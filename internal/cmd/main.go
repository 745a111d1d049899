package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nik012003/voyeurs/internal/bridge"
	"github.com/nik012003/voyeurs/internal/client"
	"github.com/nik012003/voyeurs/internal/config"
	"github.com/nik012003/voyeurs/internal/player"
	"github.com/nik012003/voyeurs/internal/server"
	"github.com/nik012003/voyeurs/internal/store"
	"github.com/nik012003/voyeurs/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		// A missing .env is normal.
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	setupLogging()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("exiting")
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(getEnv("VOYEURS_LOG_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func run(ctx context.Context, cfg *config.Config) error {
	clk := clockwork.NewRealClock()

	adapter, err := player.NewMPV(player.MPVOptions{
		SocketPath: cfg.MPV.SocketPath,
		Spawn:      cfg.MPV.Spawn,
		Binary:     cfg.MPV.Binary,
	}, clk)
	if err != nil {
		return fmt.Errorf("attach player: %w", err)
	}
	defer adapter.Close()

	switch cfg.Role {
	case "authority":
		return runAuthority(ctx, cfg, adapter, clk)
	case "follower":
		log.Info().Str("server", cfg.Server.Addr).Str("name", cfg.Name).Msg("starting follower")
		return client.New(cfg, adapter, clk).Run(ctx)
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}
}

func runAuthority(ctx context.Context, cfg *config.Config, adapter player.Adapter, clk clockwork.Clock) error {
	var st *store.Store
	if cfg.Store.Path != "" {
		var err error
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open resume store: %w", err)
		}
		defer st.Close()
	}

	var pub *bridge.Publisher
	if cfg.NATS.Enabled {
		var err error
		pub, err = bridge.NewPublisher(bridge.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			MaxReconnects: bridge.DefaultConfig().MaxReconnects,
			ReconnectWait: bridge.DefaultConfig().ReconnectWait,
		})
		if err != nil {
			return fmt.Errorf("connect NATS bridge: %w", err)
		}
		defer pub.Close()
	}

	srv := server.New(cfg, adapter, st, pub, clk)

	if cfg.Listen.TCP != "" {
		l, err := transport.ListenTCP(cfg.Listen.TCP)
		if err != nil {
			return err
		}
		srv.AddListener(l)
	}
	if cfg.Listen.WebSocket != "" {
		l, err := transport.ListenWebSocket(cfg.Listen.WebSocket, cfg.Listen.WebSocketPath)
		if err != nil {
			return err
		}
		srv.AddListener(l)
	}
	if cfg.Listen.Status != "" {
		go srv.ServeStatus(ctx, cfg.Listen.Status)
	}

	log.Info().Str("name", cfg.Name).Msg("starting authority")
	return srv.Run(ctx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
