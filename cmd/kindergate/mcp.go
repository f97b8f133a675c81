package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kindergate-ai/kindergate/pkg/config"
	"github.com/kindergate-ai/kindergate/pkg/mcp"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Start KinderGate as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			tr, err := tracker.New(cfg.DBPath, cfg.Pricing)
			if err != nil {
				return fmt.Errorf("init tracker: %w", err)
			}
			defer func() { _ = tr.Close() }()

			// Usage data is shared through the database. The cache and
			// limiter live in the serve process, so those tools report
			// the configured limits, not live counters.
			limits, _ := tierSettings(cfg)
			srv := mcp.New(nil, ratelimit.New(limits), tr, version)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "kindergate.yaml", "path to config file")
	return cmd
}
