package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
)

var getCmd = &cobra.Command{
	Use:   "get <name>",
	Short: "Get a feature flag",
	Long: `Get details of a specific feature flag.

Examples:
  flagctl get checkout_v2 --env prod
  flagctl get checkout_v2 --env prod --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		rec, err := c.GetFlag(ctx, name, effectiveEnv)
		if err != nil {
			return fmt.Errorf("failed to get flag: %w", err)
		}

		if !quiet {
			return cli.PrintFlag(rec, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
