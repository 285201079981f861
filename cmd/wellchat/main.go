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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ent0n29/wellchat/internal/app"
	"github.com/ent0n29/wellchat/internal/config"
	"github.com/ent0n29/wellchat/internal/telemetry"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "wellchat: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wellchat",
		Short:         "Employee wellness check-in chat client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newChatCmd(), newSimCmd())
	return root
}

func loadRuntime() (config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, closer, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return config.Config{}, nil, nil, fmt.Errorf("logger init failed: %w", err)
	}
	return cfg, logger, func() { _ = closer.Close() }, nil
}

func newServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat page over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()
			if addr != "" {
				cfg.BindAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := built.Cleanup(context.Background()); err != nil {
					logger.Warn("cleanup failed", "err", err)
				}
			}()

			// Mount in the background; /readyz reports progress.
			go func() {
				if err := built.Page.Mount(ctx); err != nil {
					logger.Warn("chat page mount failed", "err", err)
				}
			}()

			return serveHTTP(ctx, cfg.BindAddr, built.API.Router(), cfg.ShutdownTimeout, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides WELLCHAT_BIND_ADDR)")
	return cmd
}

func newSimCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Run the development portal backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()
			if addr != "" {
				cfg.SimBindAddr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sim, err := app.BuildSim(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer sim.Cleanup()
			logger.Info("portalsim store ready", "mode", sim.StoreMode)

			return serveHTTP(ctx, cfg.SimBindAddr, sim.Server.Router(), cfg.ShutdownTimeout, logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides PORTALSIM_BIND_ADDR)")
	return cmd
}

func newChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant from the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, closeLog, err := loadRuntime()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			built, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = built.Cleanup(context.Background()) }()

			return runREPL(ctx, built.Page, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func serveHTTP(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", "err", err)
		_ = srv.Close()
	}
	logger.Info("shutdown complete")
	return nil
}
