package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/config"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/plugins"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/profile"
	"github.com/ninetailed-inc/experience.js-sub001/pkg/experience/storage"
)

// app holds everything built from one settings file.
type app struct {
	settings *config.Settings
	logger   *slog.Logger
	store    profile.Store
	storage  storage.Storage
	pipeline *experience.Pipeline
}

func loadSettings(flags *globalFlags) (*config.Settings, error) {
	s, err := config.Load(flags.configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		s.Log.Level = flags.logLevel
	}
	return s, nil
}

// newApp opens storage, builds the configured plugins, and returns an
// initialized pipeline. The caller must call close.
func newApp(ctx context.Context, s *config.Settings, logw io.Writer) (*app, error) {
	logger := s.Log.NewLogger(logw)

	st, err := s.Storage.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	store := profile.NewMemoryStore(profile.WithAudiences(s.Audiences...))

	p, err := experience.New(ctx,
		experience.WithLogger(logger),
		experience.WithMetrics(s.Telemetry.Metrics),
		experience.WithTracing(s.Telemetry.Tracing),
		experience.WithStorage(st),
		experience.WithProfileStore(store),
		experience.WithPolicies(s.ConsentPolicies()),
		experience.WithAnonymousIDTTL(s.AnonymousIDTTL),
		experience.WithExperiences(s.Experiences...),
	)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{settings: s, logger: logger, store: store, storage: st, pipeline: p}

	built, err := plugins.NewCatalog().Build(logger, s.Plugins)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	for _, pl := range built {
		if err := p.Register(pl); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	if err := p.InitializeAll(ctx); err != nil {
		// Failed plugins stay registered and are retried on the next
		// InitializeAll; the rest are ready.
		logger.Warn("plugin initialization failed", slog.String("error", err.Error()))
	}
	return a, nil
}

func (a *app) close(ctx context.Context) error {
	err := a.pipeline.Close(ctx)
	if cerr := a.storage.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
