package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
)

var (
	createEnabled bool
	createRollout int
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new feature flag",
	Long: `Create a new feature flag with the specified name and options.
The command fails if the flag already exists in the environment.

Examples:
  flagctl create checkout_v2 --enabled --rollout 30 --env prod
  flagctl create dark_mode --env staging`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		params := client.CreateParams{
			Name: name,
			Env:  effectiveEnv,
		}
		// Only send fields the caller set so the server applies its
		// own defaults otherwise.
		if cmd.Flags().Changed("enabled") {
			params.Enabled = &createEnabled
		}
		if cmd.Flags().Changed("rollout") {
			params.Rollout = &createRollout
		}

		ctx := context.Background()
		rec, err := c.CreateFlag(ctx, params)
		if err != nil {
			return fmt.Errorf("failed to create flag: %w", err)
		}

		if !quiet {
			fmt.Printf("Successfully created flag '%s' in environment '%s' (version %d)\n",
				name, effectiveEnv, rec.Version)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(createCmd)

	createCmd.Flags().BoolVar(&createEnabled, "enabled", false, "Enable the flag")
	createCmd.Flags().IntVar(&createRollout, "rollout", 100, "Rollout percentage (0-100)")
}
