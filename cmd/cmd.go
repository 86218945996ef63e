package cmd

import (
	"github.com/pricewatch/pricewatch/cmd/run"
	"github.com/pricewatch/pricewatch/version"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version.",
	Long:  "print version.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		version.Printer()
	},
}

func Execute() {
	var rootCmd = &cobra.Command{Use: "pricewatch"}
	rootCmd.AddCommand(run.RunCmd, versionCmd)
	rootCmd.Execute()
}
