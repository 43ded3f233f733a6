package main

import (
	"errors"
	"fmt"
	"time"

	"evolve/internal/channel"
	"evolve/internal/config"
	"evolve/internal/domain"
	"evolve/internal/events"
	"evolve/internal/metrics"
	"evolve/internal/provider"
	"evolve/internal/reminder"
	"evolve/internal/store"
)

// app holds the collaborators shared by serve and scan.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	store    *store.Store
	bus      *events.Bus
	registry *channel.Registry
	service  *reminder.Service
	genName  string
}

func newApp(cfg *config.Config) (*app, error) {
	loc, err := cfg.Reminders.Location()
	if err != nil {
		return nil, fmt.Errorf("reminders.timezone: %w", err)
	}

	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	bus := events.New(cfg.Reminders.HistorySize, logger)
	metrics.Subscribe(bus)
	bus.On("*", func(e events.Event) {
		logger.Debug("event", "type", e.Type, "payload", e.Payload)
	})

	registry := channel.NewRegistry(bus, logger)

	var gen domain.Provider
	genName := "fallback-only"
	p, err := provider.NewFactory(cfg, logger).Generator()
	switch {
	case errors.Is(err, provider.ErrNoneEnabled):
		logger.Warn("no generation provider enabled, reminders use fallback text")
	case err != nil:
		st.Close()
		return nil, fmt.Errorf("provider: %w", err)
	default:
		gen, genName = p, p.Name()
	}

	composer := reminder.NewComposer(reminder.ComposerConfig{
		Provider:    gen,
		Persona:     cfg.Reminders.Persona,
		Model:       cfg.Generation.Model,
		MaxTokens:   cfg.Generation.MaxTokens,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout(),
		Logger:      logger,
	})
	dispatcher := reminder.NewDispatcher(reminder.DispatcherConfig{
		Registry: registry,
		Store:    st,
		Bus:      bus,
		Logger:   logger,
	})
	svc, err := reminder.NewService(reminder.Config{
		Tasks:      st,
		Composer:   composer,
		Dispatcher: dispatcher,
		Location:   loc,
		Lookahead:  cfg.Reminders.Lookahead(),
		Interval:   cfg.Reminders.Interval(),
		JobID:      cfg.Reminders.JobID,
		Bus:        bus,
		Logger:     logger,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		loc:      loc,
		store:    st,
		bus:      bus,
		registry: registry,
		service:  svc,
		genName:  genName,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
