package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
)

var evaluateKey string

var evaluateCmd = &cobra.Command{
	Use:   "evaluate <name>",
	Short: "Evaluate a feature flag for a bucketing key",
	Long: `Ask the server whether a flag is active for a given bucketing key.
The same key always lands in the same rollout bucket, so this is the
exact answer the application would get.

Examples:
  flagctl evaluate checkout_v2 --key user-42 --env prod
  flagctl evaluate checkout_v2 --key user-42 --env prod --format json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)

		ctx := context.Background()
		decision, err := c.Evaluate(ctx, name, effectiveEnv, evaluateKey)
		if err != nil {
			return fmt.Errorf("failed to evaluate flag: %w", err)
		}

		if !quiet {
			return cli.PrintDecision(decision, cli.OutputFormat(format))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVar(&evaluateKey, "key", "", "Bucketing key (user ID, session ID, ...)")
	_ = evaluateCmd.MarkFlagRequired("key")
}
