package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/store"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the last persisted engine state",
		Long:  "Show equity, positions, risk state and allocation weights from the newest checkpoint, plus recent alerts from the journal.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Checkpoints == nil {
				return fmt.Errorf("checkpoint store unavailable")
			}

			cp, err := app.Checkpoints.Recover(cmd.Context())
			if err != nil {
				if apperrors.Is(err, apperrors.ErrCheckpointNotFound) {
					output.Warning("No checkpoint found, engine has not run yet")
					return nil
				}
				return err
			}

			var alerts []models.Alert
			if app.Journal != nil {
				alerts, err = app.Journal.GetAlerts(cmd.Context(), store.AlertFilter{Limit: 5})
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to read alerts")
				}
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"checkpoint": cp,
					"alerts":     alerts,
				})
			}

			output.Bold("Engine Status (as of %s)", cp.Timestamp.Format("2006-01-02 15:04:05"))
			output.Printf("  Equity:    %.2f\n", cp.Equity)
			output.Printf("  Cash:      %.2f\n", cp.Cash)
			output.Printf("  Drawdown:  %.2f%%\n", cp.DrawdownPct*100)
			output.Printf("  Risk:      %s\n", output.StateTag(string(cp.RiskState)))
			if !cp.CooldownUntil.IsZero() {
				output.Printf("  Cooldown:  until %s\n", cp.CooldownUntil.Format("15:04:05"))
			}

			if len(cp.Positions) > 0 {
				output.Println()
				output.Bold("Positions")
				for _, p := range cp.Positions {
					output.Printf("  %-12s qty %.4f  avg %.2f  last %.2f  value %.2f\n",
						p.Symbol, p.Quantity, p.AveragePrice, p.LastPrice, p.MarketValue())
				}
			}

			if len(cp.AllocationWeights) > 0 {
				output.Println()
				output.Bold("Allocation Weights")
				for id, w := range cp.AllocationWeights {
					output.Printf("  %-20s %.4f\n", id, w)
				}
			}

			if len(alerts) > 0 {
				output.Println()
				output.Bold("Recent Alerts")
				for _, a := range alerts {
					output.Printf("  [%s] %s %s: %s\n",
						a.Timestamp.Format("15:04:05"), a.Level, a.Category, a.Message)
				}
			}
			return nil
		},
	}
}
