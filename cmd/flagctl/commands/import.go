package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/flagcore/flagcore/internal/cli"
	"github.com/flagcore/flagcore/internal/client"
)

var (
	importDryRun bool
	importForce  bool
)

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import flags from a file",
	Long: `Import flags from a YAML or JSON export file. Flags that already
exist in the target environment fail to import; use --force to continue
past them.

Examples:
  flagctl import flags.yaml --env prod
  flagctl import flags.yaml --env staging --dry-run
  flagctl import flags.yaml --env prod --force`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := args[0]

		data, err := os.ReadFile(filename)
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}

		var importData ExportFormat
		if err := yaml.Unmarshal(data, &importData); err != nil {
			return fmt.Errorf("failed to parse file: %w", err)
		}

		if len(importData.Flags) == 0 {
			return fmt.Errorf("no flags found in file")
		}

		// Dry run mode - just validate and show what would be imported
		if importDryRun {
			fmt.Println("Dry run mode - the following flags would be imported:")
			for _, rec := range importData.Flags {
				fmt.Printf("  - %s (enabled: %v, rollout: %d%%, env: %s)\n",
					rec.Key.Name, rec.Enabled, rec.Rollout, rec.Key.Env)
			}
			return nil
		}

		envCfg, effectiveEnv, err := cli.GetEnvConfig(env, baseURL, apiKey)
		if err != nil {
			return fmt.Errorf("configuration error: %w", err)
		}

		c := client.NewClient(envCfg.BaseURL, envCfg.APIKey)
		ctx := context.Background()

		successCount := 0
		errorCount := 0

		for _, rec := range importData.Flags {
			// Use the environment from the file or override with --env
			targetEnv := rec.Key.Env
			if effectiveEnv != "" {
				targetEnv = effectiveEnv
			}

			enabled := rec.Enabled
			rollout := rec.Rollout
			params := client.CreateParams{
				Name:    rec.Key.Name,
				Env:     targetEnv,
				Enabled: &enabled,
				Rollout: &rollout,
			}

			if _, err := c.CreateFlag(ctx, params); err != nil {
				errorCount++
				fmt.Fprintf(os.Stderr, "Failed to import flag '%s': %v\n", rec.Key.Name, err)
				if !importForce {
					return fmt.Errorf("import failed, use --force to continue on errors")
				}
			} else {
				successCount++
			}
		}

		if !quiet {
			fmt.Printf("Import complete: %d succeeded, %d failed\n", successCount, errorCount)
		}

		if errorCount > 0 && !importForce {
			return fmt.Errorf("import completed with errors")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Validate without importing")
	importCmd.Flags().BoolVar(&importForce, "force", false, "Continue on errors")
}
