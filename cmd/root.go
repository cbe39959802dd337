// Package cmd wires the content-collector command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/content-collector/internal/config"
	"github.com/JakeFAU/content-collector/internal/logging"
	"github.com/JakeFAU/content-collector/internal/server"
)

// runtimeKeyType is the key for storing the runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg     config.Config
	logger  *zap.Logger
	restore func()
}

// buildApp is the application factory. Tests may swap it.
var buildApp = server.Build

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "content-collector",
		Short: "Collect research content from RSS feeds and web pages.",
		Long: `content-collector fetches a task's selected sources concurrently,
extracts normalized items, and reports progress as it goes. Run it as an
HTTP service with "serve" or once from a YAML source list with "collect".`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path := cfgFile
			if path == "" {
				path = config.Discover()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			rt := &runtime{cfg: cfg, logger: logger, restore: logging.Install(logger)}
			if path != "" {
				logger.Debug("config loaded", zap.String("path", path))
			}
			cmd.SetContext(context.WithValue(cmd.Context(), runtimeKey, rt))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
				rt.restore()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: config.yaml in ., /etc/content-collector or $HOME/.content-collector)")

	cmd.AddCommand(newServeCmd(), newCollectCmd())
	return cmd
}

func runtimeFrom(cmd *cobra.Command) (*runtime, error) {
	rt, ok := cmd.Context().Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// Execute runs the root command until it returns or the process is signaled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
