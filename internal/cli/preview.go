package cli

import (
	"github.com/spf13/cobra"
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print today's messages without recording or sending them",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Preview(cmd.Context())
	},
}
