package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dutyhub",
	Short: "dutyhub - duty manager CLI",
	Long: `dutyhub tracks timed duties. Each duty is a fixed schedule of three tasks
with breaks between them. A bounded number of duties may be active at once.`,
	SilenceUsage: true,
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	apiAddr    string
	userID     string
	configPath string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "http://127.0.0.1:7466", "API server address")
	rootCmd.PersistentFlags().StringVar(&userID, "user", os.Getenv("DUTYHUB_USER"), "User id to act as (env DUTYHUB_USER)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the daemon YAML config")

	// Add subcommands
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(dutyCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(tuiCmd)
	rootCmd.AddCommand(healthCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
