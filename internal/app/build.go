package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ent0n29/wellchat/internal/chatpage"
	"github.com/ent0n29/wellchat/internal/config"
	"github.com/ent0n29/wellchat/internal/exchange"
	"github.com/ent0n29/wellchat/internal/history"
	"github.com/ent0n29/wellchat/internal/httpapi"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/portal"
	"github.com/ent0n29/wellchat/internal/session"
	"github.com/ent0n29/wellchat/internal/telemetry"
	"github.com/ent0n29/wellchat/internal/voice"
)

type BuildResult struct {
	Config  config.Config
	Portal  *portal.Client
	Page    *chatpage.Page
	API     *httpapi.Server
	Metrics *observability.Metrics

	// Cleanup flushes traces and releases the voice provider. Call it on
	// shutdown.
	Cleanup func(ctx context.Context) error
}

// Build wires the chat page and its HTTP surface from configuration. The
// page is returned unmounted.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	shutdownTracer, err := telemetry.NewTracerProvider(ctx, cfg.TraceFile)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}

	client, err := portal.New(portal.Config{
		BaseURL: cfg.PortalURL,
		Token:   cfg.PortalToken,
		Timeout: cfg.PortalTimeout,
	})
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("portal client init failed: %w", err)
	}
	if cfg.PortalUsername != "" {
		// A failed login leaves the page to report itself unauthorized.
		if _, err := client.Login(ctx, cfg.PortalUsername, cfg.PortalPassword); err != nil {
			logger.Warn("portal login failed", "username", cfg.PortalUsername, "err", err)
		} else {
			logger.Info("portal login ok", "username", cfg.PortalUsername)
		}
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	historyStore := history.NewStore(client,
		history.WithEndedRule(endedRule(cfg.EndedRule)),
		history.WithLocation(loc),
		history.WithLogger(logger),
		history.WithMetrics(metrics),
	)
	sessions := session.NewManager(client, logger, metrics)
	exch := exchange.New(client,
		exchange.WithLocation(loc),
		exchange.WithLogger(logger),
		exchange.WithMetrics(metrics),
	)

	stt, closeVoice := voiceProvider(cfg.VoiceInput, logger)

	page, err := chatpage.New(chatpage.Deps{
		Auth:     client,
		History:  historyStore,
		Sessions: sessions,
		Exchange: exch,
		Logout:   client,
		Voice:    stt,
		Location: loc,
		Logger:   logger,
		Metrics:  metrics,
	})
	if err != nil {
		_ = closeVoice()
		_ = shutdownTracer(ctx)
		return nil, fmt.Errorf("chat page init failed: %w", err)
	}

	api := httpapi.New(cfg, page, metrics, logger)

	cleanup := func(ctx context.Context) error {
		return errors.Join(closeVoice(), shutdownTracer(ctx))
	}

	return &BuildResult{
		Config:  cfg,
		Portal:  client,
		Page:    page,
		API:     api,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}

func endedRule(name string) history.EndedRule {
	if name == "last" {
		return history.EndedLastRecord
	}
	return history.EndedAnyUserRecord
}

func voiceProvider(mode string, logger *slog.Logger) (voice.STTProvider, func() error) {
	if mode == "mock" {
		logger.Info("voice input: mock")
		return voice.NewMockProvider(), func() error { return nil }
	}
	logger.Info("voice input: off")
	return nil, func() error { return nil }
}
