package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	baseURL string
	apiKey  string
	env     string
	format  string
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "flagctl",
	Short: "CLI tool for managing feature flags",
	Long: `Flagctl is a command-line tool for managing feature flags in the flagcore service.

It provides commands for creating, reading, updating, deleting and
evaluating flags, as well as exporting flag configurations.

Examples:
  flagctl list --env prod
  flagctl create checkout_v2 --enabled --rollout 30 --env prod
  flagctl get checkout_v2 --env prod
  flagctl evaluate checkout_v2 --key user-42 --env prod
  flagctl export --env prod --output flags.yaml`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().StringVar(&baseURL, "base-url", "", "Base URL of the flagcore API")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key for authentication")
	rootCmd.PersistentFlags().StringVar(&env, "env", "", "Environment (dev, staging, prod)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress output")
}
