package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"barscan/internal/exit"
)

func newTemplatesCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "List and inspect exit strategy templates",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available exit templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			templates := app.Templates.All()

			if output.IsJSON() {
				return output.JSON(templates)
			}

			table := NewTable(output, "NAME", "STOP", "TARGET", "TRAIL", "CLOSE", "DESCRIPTION")
			for _, t := range templates {
				table.AddRow(t.Name, describeStop(t), describeTarget(t), describeTrail(t), t.CloseTime, t.Description)
			}
			table.Render()
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <name>",
		Short: "Show one template's full parameters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			tpl, err := app.Templates.Lookup(args[0])
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tpl)
			}

			output.Bold(tpl.Name)
			output.Dim(tpl.Description)
			output.Println()
			output.Printf("  Hard stop:        %s\n", describeStop(tpl))
			output.Printf("  Primary target:   %s\n", describeTarget(tpl))
			if tpl.SecondaryTargetPct > 0 {
				output.Printf("  Secondary target: %g%% (%.0f%% of position)\n", tpl.SecondaryTargetPct, tpl.SecondaryExitFraction*100)
			}
			output.Printf("  Trailing stop:    %s\n", describeTrail(tpl))
			output.Printf("  VWAP stop:        %v\n", tpl.VWAPStop)
			output.Printf("  Session close:    %s\n", tpl.CloseTime)
			return nil
		},
	})

	return cmd
}

func describeStop(t exit.Template) string {
	if t.ATRStopMult > 0 {
		return fmt.Sprintf("%gx ATR(%d)", t.ATRStopMult, t.ATRPeriod)
	}
	if t.HardStopPct > 0 {
		return fmt.Sprintf("%g%%", t.HardStopPct)
	}
	return "-"
}

func describeTarget(t exit.Template) string {
	fraction := t.PrimaryExitFraction
	if fraction == 0 {
		fraction = 1.0
	}
	if t.GapFillTargetPct > 0 {
		return fmt.Sprintf("%g%% gap fill (%.0f%%)", t.GapFillTargetPct, fraction*100)
	}
	if t.PrimaryTargetPct > 0 {
		return fmt.Sprintf("%g%% (%.0f%%)", t.PrimaryTargetPct, fraction*100)
	}
	return "-"
}

func describeTrail(t exit.Template) string {
	if t.TrailingPct > 0 {
		return fmt.Sprintf("%g%% after +%g%%", t.TrailingPct, t.TrailingActivationPct)
	}
	return "-"
}
