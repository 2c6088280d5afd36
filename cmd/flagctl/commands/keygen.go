package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flagcore/flagcore/internal/auth"
)

var keygenHash bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new API key",
	Long: `Generate a random API key suitable for ADMIN_API_KEY. With --hash
the bcrypt hash is printed alongside, for deployments that store hashed
keys instead of the plain value.

Examples:
  flagctl keygen
  flagctl keygen --hash`,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := auth.GenerateAPIKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		fmt.Println(key)
		if keygenHash {
			hash, err := auth.HashAPIKey(key)
			if err != nil {
				return fmt.Errorf("failed to hash key: %w", err)
			}
			fmt.Println(hash)
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)

	keygenCmd.Flags().BoolVar(&keygenHash, "hash", false, "Also print the bcrypt hash of the key")
}
