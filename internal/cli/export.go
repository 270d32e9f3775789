package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"fuel-price-alerts/internal/app"
	"fuel-price-alerts/internal/fuel"
	"fuel-price-alerts/internal/storage"
)

var (
	exportFrom      string
	exportTo        string
	exportPNGPath   string
	exportCSVPath   string
	exportGrades    []string
	exportMaxPoints int
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.ExportOptions{
			PNGPath:   exportPNGPath,
			CSVPath:   exportCSVPath,
			MaxPoints: exportMaxPoints,
		}

		if exportFrom != "" {
			from, err := time.Parse(storage.DateLayout, exportFrom)
			if err != nil {
				return fmt.Errorf("invalid --from value: %w", err)
			}
			opts.From = &from
		}

		if exportTo != "" {
			to, err := time.Parse(storage.DateLayout, exportTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			opts.To = &to
		}

		for _, g := range exportGrades {
			col, ok := fuel.ParseColumn(strings.TrimSpace(g))
			if !ok {
				return fmt.Errorf("unknown grade %q (want u91, u95, u98 or diesel)", g)
			}
			opts.Grades = append(opts.Grades, col)
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "First date to include (DD/MM/YYYY)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Last date to include (DD/MM/YYYY)")
	exportCmd.Flags().StringVar(&exportPNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringSliceVar(&exportGrades, "grade", nil, "Grades to export (defaults to all)")
	exportCmd.Flags().IntVar(&exportMaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
