package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/charlesng35/flowcache/internal/app"
	"github.com/charlesng35/flowcache/internal/cache"
	"github.com/charlesng35/flowcache/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "flowcache",
		Short:         "Offline-first river forecast cache",
		Long:          "flowcache keeps river forecasts and flood thresholds available when the network is not.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to configuration directory or file")

	cmd.AddCommand(
		newServeCmd(opts),
		newSweepCmd(opts),
		newStatsCmd(opts),
		newClearCmd(opts),
	)
	return cmd
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback HTTP API and the maintenance sweeper",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := prepareConfig(opts.configPath, "json")
			if err != nil {
				return err
			}
			defer logger.Sync() // best effort
			return serve(cmd.Context(), cfg)
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Purge expired entries once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd.Context(), opts.configPath, func(ctx context.Context, c *cache.Cache) error {
				stats, err := c.PurgeExpired(ctx)
				if printErr := printJSON(cmd, stats); printErr != nil {
					return printErr
				}
				return err
			})
		},
	}
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCache(cmd.Context(), opts.configPath, func(ctx context.Context, c *cache.Cache) error {
				usage, err := c.Usage(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, usage)
			})
		},
	}
}

func newClearCmd(opts *rootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cached entry and file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to clear the cache without --yes")
			}
			return withCache(cmd.Context(), opts.configPath, func(ctx context.Context, c *cache.Cache) error {
				stats, err := c.Clear(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, stats)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm removal of all cached data")
	return cmd
}

// serve runs the HTTP API until ctx is cancelled, then drains it.
func serve(ctx context.Context, cfg *app.Config) error {
	log := logger.WithModule("bootstrap")

	stack, err := bootstrapRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stack.Shutdown(context.Background(), log)

	listener, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Address, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           stack.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

// prepareConfig loads the configuration, fills runtime defaults and configures logging.
func prepareConfig(path, encoding string) (*app.Config, error) {
	cfg, err := loadApplicationConfig(path)
	if err != nil {
		return nil, err
	}

	derived, err := app.ApplyRuntimeDefaults(cfg)
	if err != nil {
		return nil, err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel, encoding); err != nil {
		return nil, fmt.Errorf("configure logging: %w", err)
	}

	log := logger.WithModule("bootstrap")
	for key := range derived {
		log.Debug("derived runtime default", zap.String("key", key))
	}
	return cfg, nil
}

// withCache opens the store for a one-shot maintenance command.
func withCache(ctx context.Context, path string, fn func(context.Context, *cache.Cache) error) error {
	cfg, err := prepareConfig(path, "console")
	if err != nil {
		return err
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	c, err := openCache(db, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			log.Warn("cache close", zap.Error(err))
		}
	}()

	return fn(ctx, c)
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
