package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/compresr/streamchat/external"
	"github.com/compresr/streamchat/internal/assembler"
	"github.com/compresr/streamchat/internal/billing"
	"github.com/compresr/streamchat/internal/chat"
	"github.com/compresr/streamchat/internal/compression"
	"github.com/compresr/streamchat/internal/config"
	"github.com/compresr/streamchat/internal/conversation"
	"github.com/compresr/streamchat/internal/credentials"
	"github.com/compresr/streamchat/internal/monitoring"
	"github.com/compresr/streamchat/internal/registry"
	"github.com/compresr/streamchat/internal/store"
	"github.com/compresr/streamchat/internal/stream"
	"github.com/compresr/streamchat/internal/tokens"
)

// app holds every component built from one configuration.
type app struct {
	cfg *config.Config

	resolver credentials.Resolver
	static   *credentials.Static // nil when requests are SigV4-signed

	source   *conversation.MemorySource
	registry *registry.Registry
	cache    store.Store
	events   *compression.EventLog
	worker   *compression.Worker

	metrics *monitoring.Metrics // nil when disabled
	tracker *monitoring.Tracker

	service *chat.Service
	billing *billing.Client
}

// newApp wires the configured components. notifier receives turn failures
// and may be nil.
func newApp(ctx context.Context, cfg *config.Config, notifier conversation.Notifier) (*app, error) {
	a := &app{
		cfg:      cfg,
		source:   conversation.NewMemorySource(),
		registry: registry.New(),
	}

	if cfg.Endpoint.SigV4.Enabled {
		signer, err := credentials.NewSigV4(ctx, cfg.Endpoint.BaseURL, cfg.Endpoint.SigV4)
		if err != nil {
			return nil, err
		}
		a.resolver = signer
	} else {
		a.static = credentials.NewStatic(cfg.ResolverConfig(), nil)
		a.resolver = a.static
	}

	completer := &external.Client{
		Resolver: a.resolver,
		Path:     cfg.Endpoint.ChatPath,
		Timeout:  cfg.Compression.Summarizer.Timeout,
		Extra:    cfg.Stream.ExtraBody,
	}
	accountant := newAccountant(cfg.Tokens, cfg.Defaults.Model, completer)

	// Observers
	tracker, err := monitoring.NewTracker(cfg.Monitoring.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry log: %w", err)
	}
	a.tracker = tracker
	observers := []any{a.tracker, monitoring.NewAlertManager(monitoring.FromGlobal(), cfg.Monitoring.Alerts)}
	if cfg.Monitoring.Metrics.Enabled {
		a.metrics = monitoring.NewMetrics(cfg.Monitoring.Metrics.Namespace)
		observers = append(observers, a.metrics)
	}
	fanout := monitoring.NewFanout(observers...)

	// Compression
	a.cache, err = store.Open(cfg.Store)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open summary store: %w", err)
	}
	if cfg.Compression.LogPath != "" {
		a.events, err = compression.OpenEventLog(cfg.Compression.LogPath)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open compression log: %w", err)
		}
	}
	engine := compression.NewEngine(cfg.Compression.Summarizer, completer, compression.EngineOptions{
		Cache:      a.cache,
		Accountant: accountant,
		Events:     a.events,
		Observer:   fanout,
	})
	a.worker = compression.NewWorker(engine, a.source, cfg.Defaults, cfg.Compression)
	a.worker.Start()

	// Transport and service
	client := stream.NewClient(cfg.StreamConfig(), a.resolver,
		assembler.New(cfg.Compression.Assembler()), accountant, a.registry, fanout)
	a.service = chat.New(chat.Options{
		Source:   a.source,
		Global:   cfg.Defaults,
		Client:   client,
		Registry: a.registry,
		Worker:   a.worker,
		Notifier: notifier,
	})
	a.billing = billing.NewClient(a.resolver)

	log.Debug().
		Str("endpoint", cfg.Endpoint.BaseURL).
		Bool("sigv4", cfg.Endpoint.SigV4.Enabled).
		Str("tokens", string(cfg.Tokens.Strategy)).
		Str("store", cfg.Store.Type).
		Msg("components initialized")

	return a, nil
}

// newAccountant builds the token accountant for the configured strategy.
func newAccountant(cfg config.TokensConfig, model string, completer tokens.Completer) *tokens.Accountant {
	var local tokens.Counter
	if cfg.Encoding != "" {
		local = tokens.NewTiktoken(cfg.Encoding)
	} else {
		local = tokens.NewTiktokenForModel(model)
	}

	switch cfg.Strategy {
	case config.TokensOff:
		return nil
	case config.TokensLocal:
		return &tokens.Accountant{Local: local}
	case config.TokensRemote:
		return &tokens.Accountant{
			Remote:  tokens.NewRemoteEstimator(completer, cfg.Remote),
			Timeout: cfg.RemoteTimeout,
		}
	default:
		return &tokens.Accountant{
			Local:   local,
			Remote:  tokens.NewRemoteEstimator(completer, cfg.Remote),
			Timeout: cfg.RemoteTimeout,
		}
	}
}

// Close aborts in-flight replies and releases every resource.
func (a *app) Close() {
	if a.service != nil {
		a.service.StopAll()
	}
	if a.worker != nil {
		a.worker.Stop()
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close summary store")
		}
	}
	if err := a.events.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close compression log")
	}
	if a.tracker != nil {
		_ = a.tracker.Close()
	}
}
