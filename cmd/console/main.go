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

	"agent-console-go/internal/config"
	"agent-console-go/internal/console"
	"agent-console-go/internal/feed"
	"agent-console-go/internal/httpapi"
	"agent-console-go/internal/logger"
	"agent-console-go/internal/report"
)

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}
	log.WithField("service", "agent-console-go").
		WithField("queue_feed", cfg.QueueFeedURL).
		WithField("call_feed", cfg.CallFeedURL).
		Info("starting service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backoff := feed.Backoff{
		Initial:    cfg.Reconnect.Initial,
		Max:        cfg.Reconnect.Max,
		MaxElapsed: cfg.Reconnect.MaxElapsed,
	}

	store := console.NewStore(console.StoreOptions{Log: log})
	queueFeed := feed.NewQueueFeed(feed.QueueFeedConfig{URL: cfg.QueueFeedURL, Backoff: backoff, Log: log}, store)
	callFeed, err := feed.NewCallFeed(feed.CallFeedConfig{URL: cfg.CallFeedURL, Backoff: backoff, Log: log}, store)
	if err != nil {
		log.WithError(err).Fatal("failed to build call feed")
	}

	opts := console.Options{Log: log}
	var transcripts httpapi.TranscriptLoader
	if cfg.ExportDir != "" {
		w := report.NewWriter(cfg.ExportDir, log)
		opts.Exporter = w
		transcripts = w
		log.WithField("export_dir", cfg.ExportDir).Info("transcript export enabled")
	}

	c := console.New(store, queueFeed, callFeed, opts)
	if err := c.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start console")
	}
	defer c.Close()

	srv := httpapi.NewServer(log, fmt.Sprintf(":%s", cfg.Port), c, transcripts)
	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("listening")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server terminated")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server shutdown")
	}
}
