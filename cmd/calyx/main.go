package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var jsonOutput bool

var rootCmd = &cobra.Command{
	Use:   "calyx <command>",
	Short: "Entitlement and progression engine for Calyx companions",
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "system", Title: "System Commands:"},
		&cobra.Group{ID: "admin", Title: "Admin Commands:"},
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepGrantsCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(stageCmd)
	rootCmd.AddCommand(grantCmd)
	rootCmd.AddCommand(cooldownResetCmd)
	rootCmd.AddCommand(tailCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
