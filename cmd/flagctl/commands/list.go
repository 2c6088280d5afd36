package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
	"github.com/flagcore/flagcore/internal/flag"
)

var listEnabledOnly bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all feature flags",
	Long: `List all feature flags in the specified environment.

Examples:
  flagctl list --env prod
  flagctl list --env prod --format json
  flagctl list --env prod --enabled-only`,
	RunE: func(cmd *cobra.Command, args []string) error {
		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		flags, err := c.ListFlags(ctx, effectiveEnv)
		if err != nil {
			return fmt.Errorf("failed to list flags: %w", err)
		}

		if listEnabledOnly {
			var enabled []flag.Record
			for _, rec := range flags {
				if rec.Enabled {
					enabled = append(enabled, rec)
				}
			}
			flags = enabled
		}

		if !quiet {
			if len(flags) == 0 {
				fmt.Println("No flags found")
				return nil
			}
			return cli.PrintFlags(flags, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolVar(&listEnabledOnly, "enabled-only", false, "Show only enabled flags")
}
