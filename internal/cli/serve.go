package cli

import (
	"github.com/spf13/cobra"
)

var serveNow bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline every day at scheduler.run_at",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Serve(cmd.Context(), serveNow)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveNow, "now", false, "Also run once immediately on start")
}
