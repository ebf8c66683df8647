package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blukai/growbles/internal/game"
	"github.com/blukai/growbles/internal/session"
	"github.com/blukai/growbles/internal/world"
	"github.com/kelseyhightower/envconfig"
	"github.com/phuslu/log"
)

type Config struct {
	ServerAddr   string        `envconfig:"SERVER_ADDR" default:"127.0.0.1"`
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	TickRate     int           `envconfig:"TICK_RATE" default:"60"`
	LogLevel     string        `envconfig:"LOG_LEVEL" default:"info"`
}

func loadConfig() (*Config, error) {
	config := new(Config)
	if err := envconfig.Process("growbles", config); err != nil {
		return nil, err
	}
	return config, nil
}

func configureLogger(level string) *log.Logger {
	logger := log.DefaultLogger

	// https://github.com/phuslu/log?tab=readme-ov-file#pretty-console-writer
	logger.Level = log.ParseLevel(level)
	logger.Caller = 1
	logger.TimeFormat = "15:04:05"
	logger.Writer = &log.ConsoleWriter{
		ColorOutput:    true,
		QuoteString:    true,
		EndWithMessage: true,
	}

	return &logger
}

func erringMain() error {
	config, err := loadConfig()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	logger := configureLogger(config.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	s := session.New(session.RoleClient, logger)
	defer s.Close()
	s.SetServer(config.ServerAddr)
	s.SetPolling(config.PollInterval, 0)

	if err := s.Connect(ctx); err != nil {
		return fmt.Errorf("could not connect: %w", err)
	}

	w := world.New()
	if err := s.InitWorld(ctx, w); err != nil {
		return fmt.Errorf("could not init world: %w", err)
	}

	loop := game.NewLoop(s, w, config.TickRate, logger)
	loop.Run(ctx, game.ReadCommands(ctx, os.Stdin, logger))

	logger.Info().Msg("shutting down")
	return nil
}

func main() {
	if err := erringMain(); err != nil {
		fmt.Fprintf(os.Stderr, "growbles-client: %v\n", err)
		os.Exit(1)
	}
}
