package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"ensemble-trader/internal/engine"
	"ensemble-trader/internal/ensemble"
	"ensemble-trader/internal/marketdata"
	"ensemble-trader/internal/metrics"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		startPrice  float64
		volatility  float64
		dailyVolume float64
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the engine against a synthetic paper feed",
		Long: `Run the decision pipeline end to end against a synthetic market feed.

State is recovered from the newest checkpoint on startup and persisted
periodically and after every trade. Stop with Ctrl-C; a final checkpoint
is written on shutdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Journal == nil || app.Checkpoints == nil {
				return fmt.Errorf("stores unavailable, cannot run")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			feed := marketdata.NewSyntheticFeed(
				app.Config.Engine.Symbol,
				startPrice, volatility, dailyVolume,
				time.Second, app.Config.Execution.Seed)

			collector := metrics.NewCollector()
			eng := engine.New(app.Config, feed, app.Checkpoints, app.Journal, collector, app.Logger)

			// Paper-run signal producers at three trend horizons so the
			// pipeline has enough voters to clear the agreement gate.
			symbol := app.Config.Engine.Symbol
			for _, src := range []struct {
				id       string
				lookback int
			}{
				{"trend-fast", 5},
				{"trend-mid", 20},
				{"trend-slow", 60},
			} {
				eng.Registry().Register(ensemble.NewTrendSource(src.id, feed, symbol, src.lookback))
			}

			if err := eng.Recover(ctx); err != nil {
				return err
			}

			// Cold start: equal weights until the first allocation
			// recompute, otherwise the weighted vote carries no mass.
			if len(eng.Allocator().Weights()) == 0 {
				ids := eng.Registry().StrategyIDs()
				seed := make(map[string]float64, len(ids))
				for _, id := range ids {
					seed[id] = 1.0 / float64(len(ids))
				}
				eng.Allocator().Restore(seed)
			}

			if app.Config.Metrics.Enabled {
				go func() {
					if err := collector.Serve(ctx, app.Config.Metrics.Listen, app.Logger); err != nil {
						app.Logger.Error().Err(err).Msg("Metrics endpoint failed")
					}
				}()
			}

			err := eng.Run(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().Float64Var(&startPrice, "start-price", 50000, "synthetic feed starting price")
	cmd.Flags().Float64Var(&volatility, "volatility", 0.02, "synthetic feed daily volatility (fraction)")
	cmd.Flags().Float64Var(&dailyVolume, "daily-volume", 1_000_000, "synthetic feed daily volume in units")

	return cmd
}
