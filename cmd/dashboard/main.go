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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/Guizzs26/dao_governance_stream/internal/api"
	"github.com/Guizzs26/dao_governance_stream/internal/config"
	"github.com/Guizzs26/dao_governance_stream/internal/event"
	"github.com/Guizzs26/dao_governance_stream/internal/logging"
	"github.com/Guizzs26/dao_governance_stream/internal/metrics"
	"github.com/Guizzs26/dao_governance_stream/internal/model"
	"github.com/Guizzs26/dao_governance_stream/internal/processing"
	"github.com/Guizzs26/dao_governance_stream/internal/pubsub"
	"github.com/Guizzs26/dao_governance_stream/internal/reconcile"
	"github.com/Guizzs26/dao_governance_stream/internal/schema"
	"github.com/Guizzs26/dao_governance_stream/internal/transport"
)

func main() {
	if _, statErr := os.Stat(".env"); statErr == nil {
		_ = godotenv.Load(".env")
	}

	cfg := config.Load()
	fs := pflag.NewFlagSet("dashboard", pflag.ExitOnError)
	config.BindFlags(fs, &cfg)
	origins := fs.StringSlice("allowed-origins", nil, "host patterns allowed to open the websocket")
	_ = fs.Parse(os.Args[1:])

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log.Infof("Dashboard starting: %s", cfg.DebugString())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg, "govstream", "dashboard")

	opts := []reconcile.Option{
		reconcile.WithMetrics(m),
		reconcile.WithLogger(log.WithField("component", "reconciler")),
		reconcile.WithRejectHook(func(kind string, f model.Fields) {
			log.WithFields(logrus.Fields{"kind": kind, "fields": f}).Debug("event dropped")
		}),
	}
	if cfg.ProposalScopedVoteKeys {
		opts = append(opts, reconcile.WithProposalScopedKeys())
	}
	if cfg.BufferOrphanVotes {
		opts = append(opts, reconcile.WithOrphanBuffering())
	}
	rec := reconcile.New(opts...)

	client := transport.NewClient(cfg.DataServiceURL, nil)
	var sub event.Subscriber
	if !cfg.PushDisabled {
		sub = event.NewKafkaSubscriber(cfg.KafkaBrokers, cfg.StreamTopic, log.WithField("component", "kafka"))
	}
	sel := transport.New(sub, client, schema.NewCache(client),
		transport.WithIntervals(cfg.ProposalPollInterval, cfg.VotePollInterval),
		transport.WithLogger(log.WithField("component", "transport")),
		transport.WithMetrics(m),
	)
	defer sel.Close()

	hub := pubsub.NewHub(log.WithField("component", "hub"))
	dash := api.NewDashboard(rec, hub, reg, *origins, log.WithField("component", "http"))
	unsubscribe := rec.Subscribe(dash.PublishView)
	defer unsubscribe()

	proc := processing.NewProcessor(sel, rec, log.WithField("component", "processor"))

	srv := &http.Server{
		Addr:              cfg.DashboardAddr,
		Handler:           dash.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return proc.Run(gctx)
	})
	g.Go(func() error {
		log.Infof("Dashboard listening on %s", cfg.DashboardAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutdown signal received, stopping the dashboard...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Dashboard stopped with error")
		os.Exit(1)
	}
	log.Info("Dashboard terminated")
}
