package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"evolve/internal/channel"
	"evolve/internal/metrics"
	"evolve/internal/scheduler"
	"evolve/internal/server"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/WebSocket server, channels and the reminder scheduler",
		Long: `Serves the WebSocket channel and HTTP API, starts Telegram when configured
and, when reminders are enabled (reminders.enabled or ENABLE_SCHEDULER=true),
runs the reminder scan on its interval. Press Ctrl+C to stop.`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	var wg sync.WaitGroup

	ws := channel.NewWebSocketChannel(channel.WSConfig{
		Registry: a.registry,
		Notifier: a.service,
		Logger:   logger,
	})

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Registry:  a.registry,
			Logger:    logger,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var sched *scheduler.Scheduler
	if cfg.Reminders.Enabled {
		sched = scheduler.New(scheduler.Config{Location: a.loc, Logger: logger})
		if err := sched.Register(a.service.Job()); err != nil {
			return fmt.Errorf("register reminder job: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Start(ctx)
		}()
		for _, j := range sched.Jobs() {
			logger.Info("reminder job scheduled",
				"job", j.ID,
				"interval", j.Interval,
				"next_run", j.NextRun.Format(time.RFC3339),
				"generator", a.genName,
			)
		}
	} else {
		logger.Info("reminder scheduler disabled (set ENABLE_SCHEDULER=true to enable)")
	}

	srvCfg := server.Config{
		Addr:      cfg.Server.Addr(),
		Routes:    []server.RouteProvider{ws},
		History:   a.store,
		Connected: a.registry.Count,
		Logger:    logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.Metrics = metrics.Default.Handler()
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
	}

	srvErr := server.New(srvCfg).Start(ctx)
	if srvErr != nil {
		logger.Error("http server error", "err", srvErr)
		stop()
	}

	logger.Info("shutting down...")
	if sched != nil {
		sched.Stop()
	}

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(shutdownTimeout):
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
	return srvErr
}
