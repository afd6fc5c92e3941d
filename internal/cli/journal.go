package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ensemble-trader/internal/models"
	"ensemble-trader/internal/store"
)

func newJournalCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Query the trade journal",
	}

	cmd.AddCommand(newJournalExecutionsCmd(app))
	cmd.AddCommand(newJournalDecisionsCmd(app))
	cmd.AddCommand(newJournalAlertsCmd(app))

	return cmd
}

func newJournalExecutionsCmd(app *App) *cobra.Command {
	var (
		symbol string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "executions",
		Short: "List recent simulated executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Journal == nil {
				return fmt.Errorf("journal unavailable")
			}

			results, err := app.Journal.GetExecutions(cmd.Context(), store.ExecutionFilter{
				Symbol: symbol,
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Warning("No executions found")
				return nil
			}
			for _, r := range results {
				output.Printf("%s  %-4s %-12s qty %.4f/%.4f @ %.2f  slip %.1fbps  fill %.0f%%\n",
					r.Timestamp.Format("2006-01-02 15:04:05"),
					r.Side, r.Symbol, r.FilledSize, r.RequestedSize,
					r.ExecutionPrice, r.SlippageBps, r.FillRatio*100)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newJournalDecisionsCmd(app *App) *cobra.Command {
	var (
		action string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "List recent ensemble decisions",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Journal == nil {
				return fmt.Errorf("journal unavailable")
			}

			results, err := app.Journal.GetDecisions(cmd.Context(), store.DecisionFilter{
				Action: models.Action(action),
				Limit:  limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Warning("No decisions found")
				return nil
			}
			for _, d := range results {
				output.Printf("%s  %-4s conf %.2f  %s  %d contributing\n",
					d.Timestamp.Format("2006-01-02 15:04:05"),
					d.Action, d.Confidence, d.Method, len(d.Contributing))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&action, "action", "", "filter by action (BUY, SELL, HOLD)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func newJournalAlertsCmd(app *App) *cobra.Command {
	var (
		level    string
		category string
		limit    int
	)

	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "List recent alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Journal == nil {
				return fmt.Errorf("journal unavailable")
			}

			results, err := app.Journal.GetAlerts(cmd.Context(), store.AlertFilter{
				Level:    models.AlertLevel(level),
				Category: models.AlertCategory(category),
				Limit:    limit,
			})
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(results)
			}
			if len(results) == 0 {
				output.Warning("No alerts found")
				return nil
			}
			for _, a := range results {
				line := fmt.Sprintf("%s  %-8s %-12s %s",
					a.Timestamp.Format("2006-01-02 15:04:05"), a.Level, a.Category, a.Message)
				switch a.Level {
				case models.AlertCritical:
					output.Error("%s", line)
				case models.AlertWarning:
					output.Warning("%s", line)
				default:
					output.Println(line)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&level, "level", "", "filter by level (INFO, WARNING, CRITICAL)")
	cmd.Flags().StringVar(&category, "category", "", "filter by category (risk, liquidation, execution, checkpoint)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}
