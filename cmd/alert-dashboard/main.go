package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"alert-dashboard/internal/backend"
	"alert-dashboard/internal/config"
	"alert-dashboard/internal/server"
	"alert-dashboard/internal/sound"
	"alert-dashboard/internal/state"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", cfgPath, err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)

	logger.Info("alert-dashboard starting",
		slog.Int("port", cfg.Port),
		slog.String("backend_url", cfg.BackendURL),
		slog.Int("alert_capacity", cfg.AlertCapacity),
	)

	dash := state.NewDashboard(state.Capacities{
		Alerts:      cfg.AlertCapacity,
		Signals:     cfg.SignalCapacity,
		TickHistory: cfg.TickHistoryCapacity,
	})

	client := backend.NewClient(cfg.BackendURL, logger)
	streamURL, err := client.StreamURL(cfg.WSPath)
	if err != nil {
		logger.Error("stream url", slog.String("err", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap from REST before the stream starts so pushed alerts land on top.
	if cfg.BootstrapLimit > 0 {
		bctx, bcancel := context.WithTimeout(ctx, 15*time.Second)
		history, err := client.FetchAlerts(bctx, cfg.BootstrapLimit)
		bcancel()
		if err != nil {
			logger.Warn("bootstrap alerts", slog.String("err", err.Error()))
		} else {
			dash.Seed(history)
			logger.Info("bootstrapped alerts", slog.Int("count", len(history)))
		}
	}

	cues := sound.NewCues(cfg.Sounds, time.Duration(cfg.SoundCooldownSeconds)*time.Second, logger)

	var srv *server.HTTPServer
	refreshWatchlist := func() {
		wctx, wcancel := context.WithTimeout(ctx, 15*time.Second)
		defer wcancel()
		entries, err := client.FetchWatchlist(wctx)
		if err != nil {
			logger.Warn("watchlist fetch", slog.String("err", err.Error()))
			return
		}
		srv.SetWatchlist(entries)
	}

	mgr := backend.NewManager(backend.NewWSDialer(), dash, backend.Options{
		URL:                streamURL,
		MinDelay:           cfg.ReconnectMinDelay,
		MaxDelay:           cfg.ReconnectMaxDelay,
		Jitter:             cfg.ReconnectJitter,
		OnWatchlistChanged: func() { go refreshWatchlist() },
	}, logger)

	srv = server.NewHTTPServer(cfg, dash, mgr, client, cues, logger)
	refreshWatchlist()

	// Pipe manager changes → hub
	go func() {
		for {
			select {
			case ch := <-mgr.Changes():
				srv.Publish(ch)
			case <-ctx.Done():
				return
			}
		}
	}()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("connection manager stopped", slog.String("err", err.Error()))
		}
	}()

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan struct{})
	go func() {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("err", err.Error()))
			cancel()
		}
		close(done)
	}()

	// Graceful shutdown
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
	case <-ctx.Done():
	}

	logger.Info("shutting down...")
	shCtx, shCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shCancel()

	cancel()
	<-runDone
	srv.Close()
	_ = httpSrv.Shutdown(shCtx)
	<-done
	logger.Info("bye")
}
