package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/pflag"

	"github.com/Guizzs26/dao_governance_stream/internal/logging"
	"github.com/Guizzs26/dao_governance_stream/internal/model"
)

func main() {
	url := pflag.String("url", "ws://localhost:8081/ws", "dashboard websocket URL")
	level := pflag.String("log-level", "info", "log level")
	pflag.Parse()

	log, err := logging.New(*level, "text", nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect")
	}
	defer conn.Close(websocket.StatusNormalClosure, "client exit")

	log.Infof("Listening for view updates on %s...", *url)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Connection closed")
				return
			}
			log.WithError(err).Error("Read error")
			return
		}

		var view model.View
		if err := json.Unmarshal(msg, &view); err != nil {
			log.WithError(err).Warn("Unexpected message")
			continue
		}
		log.Infof("%d proposals, %d votes", len(view.Proposals), view.Votes)
		for _, p := range view.Proposals {
			t := p.Tally()
			log.Infof("  %s %q: %d for / %d against", p.ID, p.Title, t.For, t.Against)
		}
	}
}
