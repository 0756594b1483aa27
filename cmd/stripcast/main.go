package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stripcast/internal/agent"
	"stripcast/internal/ble"
	"stripcast/internal/config"
)

// These variables will be set by the build script
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("stripcast %s (%s, %s)\n", version, commit, date)
		return
	}

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("config")
	}
	setupLogging(cfg.Log)
	log.Info().Str("version", version).Str("commit", commit).Str("built", date).Msg("starting stripcast")

	platform, err := ble.NewPlatform(ble.PlatformConfig{
		ServiceUUID:        cfg.BLE.ServiceUUID,
		CharacteristicUUID: cfg.BLE.CharacteristicUUID,
	}, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("wireless platform")
	}

	a, err := agent.New(cfg, platform, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create agent")
	}
	go a.Run()

	// Wait for termination signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
	log.Info().Msg("shut down gracefully")
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}
