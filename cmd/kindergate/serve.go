package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kindergate-ai/kindergate/pkg/cache"
	"github.com/kindergate-ai/kindergate/pkg/config"
	"github.com/kindergate-ai/kindergate/pkg/gateway"
	"github.com/kindergate-ai/kindergate/pkg/provider"
	"github.com/kindergate-ai/kindergate/pkg/ratelimit"
	"github.com/kindergate-ai/kindergate/pkg/server"
	"github.com/kindergate-ai/kindergate/pkg/tracker"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the KinderGate HTTP server",
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

			limits, ttls := tierSettings(cfg)
			gw := gateway.New(
				cache.New(cfg.Cache.Capacity),
				ratelimit.New(limits),
				tr,
				provider.NewOpenAI(cfg.Provider.APIKey, cfg.Provider.URL, cfg.Provider.Model),
				ttls,
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.Maintenance.Interval > 0 {
				go gw.RunMaintenance(ctx, cfg.Maintenance.Interval)
			}

			log.Printf("starting kindergate with config: %s", configPath)
			return server.New(gw, cfg.Listen).ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "kindergate.yaml", "path to config file")
	return cmd
}

// tierSettings converts configured tiers into limiter limits and per-tier
// cache TTLs.
func tierSettings(cfg *config.Config) (map[ratelimit.Tier]ratelimit.Limit, map[ratelimit.Tier]time.Duration) {
	limits := make(map[ratelimit.Tier]ratelimit.Limit, len(cfg.Tiers))
	ttls := make(map[ratelimit.Tier]time.Duration, len(cfg.Tiers))
	for name, t := range cfg.Tiers {
		limits[ratelimit.Tier(name)] = ratelimit.Limit{
			MaxPerMinute: t.MaxPerMinute,
			MaxPerHour:   t.MaxPerHour,
		}
		ttls[ratelimit.Tier(name)] = t.CacheTTL
	}
	return limits, ttls
}
