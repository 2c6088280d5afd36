package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
)

var (
	updateEnabled bool
	updateRollout int
	updateIfMatch int64
)

var updateCmd = &cobra.Command{
	Use:   "update <name>",
	Short: "Update a feature flag",
	Long: `Update an existing feature flag. Only the fields you pass are
changed. With --if-match the update is rejected if someone else changed
the flag since the given version.

Examples:
  flagctl update checkout_v2 --enabled=false --env prod
  flagctl update checkout_v2 --rollout 75 --env prod
  flagctl update checkout_v2 --rollout 75 --if-match 3 --env prod`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		var params client.UpdateParams
		if cmd.Flags().Changed("enabled") {
			params.Enabled = &updateEnabled
		}
		if cmd.Flags().Changed("rollout") {
			params.Rollout = &updateRollout
		}
		if cmd.Flags().Changed("if-match") {
			params.ExpectedVersion = &updateIfMatch
		}
		if params.Enabled == nil && params.Rollout == nil {
			return fmt.Errorf("nothing to update: pass --enabled and/or --rollout")
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		rec, err := c.UpdateFlag(ctx, name, effectiveEnv, params)
		if err != nil {
			return fmt.Errorf("failed to update flag: %w", err)
		}

		if !quiet {
			fmt.Printf("Successfully updated flag '%s' in environment '%s' (version %d)\n",
				name, effectiveEnv, rec.Version)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(updateCmd)

	updateCmd.Flags().BoolVar(&updateEnabled, "enabled", false, "Enable/disable the flag")
	updateCmd.Flags().IntVar(&updateRollout, "rollout", 0, "Rollout percentage (0-100)")
	updateCmd.Flags().Int64Var(&updateIfMatch, "if-match", 0, "Expected flag version for optimistic concurrency")
	updateCmd.Flags().Lookup("enabled").NoOptDefVal = "true"
}
