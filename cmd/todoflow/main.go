package main

import (
	"os"

	"github.com/ignatij/todoflow/internal/cli"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "todoflow",
	Short: "Track localization work as trackers, tasks and steps",
}

func main() {
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
