// Package app wires the scheduler components together and hosts the periodic
// batch triggers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/outreachd/outreachd/internal/api"
	"github.com/outreachd/outreachd/internal/batch"
	"github.com/outreachd/outreachd/internal/campaign"
	"github.com/outreachd/outreachd/internal/clock"
	"github.com/outreachd/outreachd/internal/config"
	"github.com/outreachd/outreachd/internal/dispatch"
	"github.com/outreachd/outreachd/internal/escalation"
	"github.com/outreachd/outreachd/internal/metrics"
	"github.com/outreachd/outreachd/internal/ratelimit"
	"github.com/outreachd/outreachd/internal/store"
)

// App is the main application.
type App struct {
	config        *config.Config
	store         *store.BoltStore
	schedules     *campaign.Service
	drip          *batch.Orchestrator
	escalation    *escalation.Pipeline
	apiServer     *api.Server
	metricsServer *metrics.Server
	logger        *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates the application from configuration.
func New(cfg *config.Config) (*App, error) {
	logger := setupLogger(cfg.Logging)
	clk := clock.System()

	st, err := store.NewBoltStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	registry, err := campaign.NewRegistry(registryDefs(cfg.Drip.Steps))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid step registry: %w", err)
	}

	formatter, err := dispatch.NewTemplateFormatter(templateDefs(cfg.Templates))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("invalid templates: %w", err)
	}

	m := metrics.New()

	emailChannel := dispatch.NewSMTPChannel(dispatch.SMTPConfig{
		Addr:     cfg.Channels.Email.Addr,
		From:     cfg.Channels.Email.From,
		Username: cfg.Channels.Email.Username,
		Password: cfg.Channels.Email.Password,
		StartTLS: cfg.Channels.Email.StartTLS,
	}, clk, logger)

	whatsappChannel := dispatch.NewWhatsAppChannel(dispatch.WhatsAppConfig{
		BaseURL: cfg.Channels.WhatsApp.BaseURL,
		Token:   cfg.Channels.WhatsApp.Token,
		Timeout: cfg.Channels.WhatsApp.Timeout.Std(),
	}, logger)

	schedules := campaign.NewService(st, registry, clk, logger)
	scanner := campaign.NewScanner(st)
	recorder := campaign.NewRecorder(st, logger)
	limiter := ratelimit.New(st, ratelimit.Config{
		Ceiling: cfg.RateLimit.Ceiling,
		Window:  cfg.RateLimit.Window.Std(),
	})
	dispatcher := dispatch.NewDispatcher(formatter, emailChannel, cfg.Channels.Email.Timeout.Std(), logger)

	drip := batch.NewOrchestrator(scanner, limiter, dispatcher, recorder, clk, m, logger)
	esc := escalation.NewPipeline(st, whatsappChannel, formatter, cfg.Escalation.Template, cfg.Escalation.FollowUpDelay.Std(), clk, m, logger)

	a := &App{
		config:     cfg,
		store:      st,
		schedules:  schedules,
		drip:       drip,
		escalation: esc,
		apiServer:  api.NewServer(schedules, limiter, drip, esc, &cfg.API, clk, logger),
		logger:     logger,
		stopCh:     make(chan struct{}),
	}

	if cfg.Metrics.Enabled {
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, logger)
	}

	return a, nil
}

// Drip returns the drip batch orchestrator for one-shot invocations.
func (a *App) Drip() *batch.Orchestrator { return a.drip }

// Escalation returns the escalation pipeline for one-shot invocations.
func (a *App) Escalation() *escalation.Pipeline { return a.escalation }

// Run starts the servers and batch triggers and blocks until a signal or a
// server error.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting outreachd",
		"api_addr", a.config.API.ListenAddr,
		"drip_interval", a.config.Drip.Interval.Std(),
		"escalation_interval", a.config.Escalation.Interval.Std(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.startTriggers(ctx)

	errCh := make(chan error, 2)

	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		a.logger.Info("received shutdown signal")
		return a.Shutdown(context.Background())
	case err := <-errCh:
		a.Shutdown(context.Background())
		return err
	}
}

// startTriggers launches the periodic drip and escalation invocations. Each
// tick runs one batch to completion; batches never overlap within a ticker
// because ticks are consumed sequentially.
func (a *App) startTriggers(ctx context.Context) {
	a.wg.Add(2)

	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.config.Drip.Interval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case <-ticker.C:
				if _, err := a.drip.Run(ctx); err != nil {
					a.logger.Error("drip batch failed", "error", err)
				}
			}
		}
	}()

	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.config.Escalation.Interval.Std())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-a.stopCh:
				return
			case <-ticker.C:
				if _, err := a.escalation.Run(ctx); err != nil {
					a.logger.Error("escalation batch failed", "error", err)
				}
			}
		}
	}()
}

// Shutdown stops the triggers and servers and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	close(a.stopCh)
	a.wg.Wait()

	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// Close releases resources without running servers, for one-shot commands.
func (a *App) Close() error {
	return a.store.Close()
}

func registryDefs(steps []config.StepConfig) []campaign.StepDefinition {
	defs := make([]campaign.StepDefinition, len(steps))
	for i, s := range steps {
		defs[i] = campaign.StepDefinition{
			Key:        s.Key,
			Offset:     s.Offset.Std(),
			TemplateID: s.Template,
		}
	}
	return defs
}

func templateDefs(cfg map[string]config.TemplateConfig) map[string]dispatch.TemplateDef {
	defs := dispatch.DefaultTemplates()
	for id, t := range cfg {
		defs[id] = dispatch.TemplateDef{
			Subject: t.Subject,
			Text:    t.Text,
			HTML:    t.HTML,
		}
	}
	return defs
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
