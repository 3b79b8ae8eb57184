package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/Guizzs26/dao_governance_stream/internal/config"
	"github.com/Guizzs26/dao_governance_stream/internal/logging"
	"github.com/Guizzs26/dao_governance_stream/internal/simulation"
	"github.com/Guizzs26/dao_governance_stream/internal/transport"
)

func main() {
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	fs := pflag.NewFlagSet("producer", pflag.ExitOnError)
	config.BindFlags(fs, &cfg)
	every := fs.Duration("every", 500*time.Millisecond, "time between published items")
	seed := fs.Int64("seed", time.Now().UnixNano(), "random seed")
	_ = fs.Parse(os.Args[1:])

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := simulation.New(transport.NewClient(cfg.DataServiceURL, nil), log, *every, *seed)

	log.Infof("Producer is publishing to %s. Press Ctrl+C to exit", cfg.DataServiceURL)
	if err := sim.Run(ctx); err != nil {
		log.WithError(err).Error("Error while running simulator")
		os.Exit(1)
	}
	log.Info("Producer terminated")
}
