package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newCheckpointCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect persisted checkpoints",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available checkpoints, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Checkpoints == nil {
				return fmt.Errorf("checkpoint store unavailable")
			}

			timestamps, err := app.Checkpoints.Timestamps()
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(timestamps)
			}
			if len(timestamps) == 0 {
				output.Warning("No checkpoints found")
				return nil
			}
			for _, ts := range timestamps {
				output.Println(ts.Format(time.RFC3339Nano))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [timestamp]",
		Short: "Show a checkpoint, the newest consistent one by default",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Checkpoints == nil {
				return fmt.Errorf("checkpoint store unavailable")
			}

			if len(args) == 1 {
				ts, err := time.Parse(time.RFC3339Nano, args[0])
				if err != nil {
					return fmt.Errorf("parsing timestamp: %w", err)
				}
				cp, err := app.Checkpoints.LoadAt(ts)
				if err != nil {
					return err
				}
				return output.JSON(cp)
			}

			cp, err := app.Checkpoints.Recover(cmd.Context())
			if err != nil {
				return err
			}
			return output.JSON(cp)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Verify checkpoint consistency",
		Long:  "Check every stored checkpoint's accounting: equity must equal cash plus position values.",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if app.Checkpoints == nil {
				return fmt.Errorf("checkpoint store unavailable")
			}

			timestamps, err := app.Checkpoints.Timestamps()
			if err != nil {
				return err
			}

			tolerance := app.Config.Checkpoint.EquityTolerance
			bad := 0
			for _, ts := range timestamps {
				cp, err := app.Checkpoints.LoadAt(ts)
				if err != nil {
					output.Error("%s: unreadable: %v", ts.Format(time.RFC3339), err)
					bad++
					continue
				}
				if !cp.Consistent(tolerance) {
					output.Error("%s: inconsistent accounting", ts.Format(time.RFC3339))
					bad++
				}
			}

			if bad == 0 {
				output.Success("%d checkpoint(s) verified", len(timestamps))
				return nil
			}
			return fmt.Errorf("%d of %d checkpoint(s) failed verification", bad, len(timestamps))
		},
	})

	return cmd
}
