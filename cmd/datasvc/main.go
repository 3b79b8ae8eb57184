package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/dao_governance_stream/internal/api"
	"github.com/Guizzs26/dao_governance_stream/internal/config"
	"github.com/Guizzs26/dao_governance_stream/internal/event"
	"github.com/Guizzs26/dao_governance_stream/internal/logging"
	"github.com/Guizzs26/dao_governance_stream/internal/schema"
	"github.com/Guizzs26/dao_governance_stream/internal/store"
)

func main() {
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	fs := pflag.NewFlagSet("datasvc", pflag.ExitOnError)
	config.BindFlags(fs, &cfg)
	noStream := fs.Bool("no-stream", false, "serve read endpoints only, do not publish to Kafka")
	_ = fs.Parse(os.Args[1:])

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log.Infof("Data service starting: %s", cfg.DebugString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var items store.ItemStore
	if cfg.RedisURL != "" {
		rs, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to Redis")
		}
		items = rs
	} else {
		log.Warn("REDIS_URL not set, keeping items in memory")
		items = store.NewMemoryStore()
	}
	defer items.Close()

	var pub event.Publisher
	if !*noStream {
		kp := event.NewKafkaPublisher(cfg.KafkaBrokers, cfg.StreamTopic)
		defer kp.Close()
		pub = kp
	}

	svc := api.NewDataService(items, pub, schema.Defaults(cfg.Publisher), log)
	srv := &http.Server{
		Addr:              cfg.DataServiceAddr,
		Handler:           svc.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Data service listening on %s", cfg.DataServiceAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received, stopping the data service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Data service stopped with error")
		os.Exit(1)
	}
	log.Info("Data service terminated")
}
