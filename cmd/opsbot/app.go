package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"opsbot/internal/bus"
	"opsbot/internal/capture"
	"opsbot/internal/config"
	"opsbot/internal/domain"
	"opsbot/internal/logtail"
	"opsbot/internal/metrics"
	"opsbot/internal/router"
	"opsbot/internal/sysstat"
)

// app holds the capability providers built from one configuration. Local
// commands use them directly; serve puts a router in front of them.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	status *sysstat.Reporter
	logs   *logtail.Source
	shot   capture.Capturer
	wsl    *capture.WSL
}

func newApp(cfg *config.Config, logger *slog.Logger) *app {
	if logger == nil {
		logger = slog.Default()
	}
	capCfg := capture.Config{
		Backend:      cfg.Capture.Backend,
		Timeout:      cfg.Capture.Timeout,
		ToolTimeout:  cfg.Capture.ToolTimeout,
		ProbeTimeout: cfg.Capture.ProbeTimeout,
		TempDir:      cfg.Capture.TempDir,
		Logger:       logger.With("component", "capture"),
	}
	return &app{
		cfg:    cfg,
		logger: logger,
		status: sysstat.NewReporter(sysstat.ReporterConfig{Logger: logger.With("component", "sysstat")}),
		logs: logtail.NewSource(logtail.SourceConfig{
			BaseDir:     cfg.Logs.BaseDir,
			Directories: cfg.Logs.Directories,
			Subdir:      cfg.Logs.Subdir,
			Pattern:     cfg.Logs.Pattern,
			Logger:      logger.With("component", "logtail"),
		}),
		shot: capture.Select(capCfg),
		wsl:  capture.NewWSL(capCfg),
	}
}

// serve runs transport and the dispatcher until ctx is cancelled or the
// transport stops, then drains in-flight handlings.
func (a *app) serve(ctx context.Context, transport domain.Transport, chatID string) error {
	events := bus.NewEventBus(a.logger)
	messageBus := bus.New(100, a.logger)

	if a.cfg.Metrics.Enabled {
		collector := metrics.New()
		collector.Attach(events)
		go func() {
			if err := collector.Serve(ctx, a.cfg.Metrics.Listen, a.logger); err != nil {
				a.logger.Error("metrics endpoint stopped", "err", err)
			}
		}()
	}

	r, err := router.New(router.Config{
		AuthorizedChatID: chatID,
		MessageLimit:     a.cfg.Router.MessageLimit,
		SendInterval:     a.cfg.Router.SendInterval,
		LogTailLines:     a.cfg.Router.LogTailLines,
		Triggers:         a.cfg.Router.Triggers,
		Sender:           transport,
		Status:           a.status,
		Logs:             a.logs,
		Screenshot:       a.shot,
		WSL:              a.wsl,
		Events:           events,
		Logger:           a.logger.With("component", "router"),
	})
	if err != nil {
		return err
	}

	runner := router.NewRunner(router.RunnerConfig{Router: r, Bus: messageBus, Logger: a.logger})
	runDone := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(runDone)
	}()

	transportDone := make(chan error, 1)
	go func() { transportDone <- transport.Start(ctx, messageBus) }()

	a.logger.Info("opsbot started", "transport", transport.Name(), "chat_id", chatID)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down...")
	case err := <-transportDone:
		if err != nil {
			runErr = fmt.Errorf("%s transport: %w", transport.Name(), err)
		}
	}

	if err := transport.Stop(); err != nil {
		a.logger.Warn("transport stop failed", "err", err)
	}
	// The runner dispatches what is still buffered before it returns,
	// whether it stopped on ctx or on the closed bus.
	messageBus.Close()
	<-runDone

	if !runner.Wait(a.cfg.Router.ShutdownTimeout) {
		runErr = errors.Join(runErr, errors.New("shutdown timed out with handlers still running"))
	} else {
		a.logger.Info("shutdown complete")
	}
	return runErr
}
