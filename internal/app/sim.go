package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ent0n29/wellchat/internal/config"
	"github.com/ent0n29/wellchat/internal/observability"
	"github.com/ent0n29/wellchat/internal/portalsim"
	"github.com/ent0n29/wellchat/internal/portalsim/store"
)

type SimResult struct {
	Server    *portalsim.Server
	StoreMode string
	Cleanup   func() error
}

// BuildSim wires the development portal backend.
func BuildSim(ctx context.Context, cfg config.Config, logger *slog.Logger) (*SimResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	users, err := config.ParseUsers(cfg.SimUsers)
	if err != nil {
		return nil, err
	}
	st, err := store.NewStore(ctx, cfg.SimDatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("portalsim store init failed: %w", err)
	}

	srv := portalsim.New(portalsim.Config{
		Users:     users,
		TokenTTL:  cfg.SimTokenTTL,
		Questions: cfg.SimQuestions,
	}, st, observability.NewMetrics(cfg.MetricsNamespace+"_portalsim"), logger)

	return &SimResult{
		Server:    srv,
		StoreMode: store.Mode(cfg.SimDatabaseURL),
		Cleanup:   st.Close,
	}, nil
}
