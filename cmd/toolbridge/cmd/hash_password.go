package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/domain/auth"
)

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Generate an Argon2id hash for a password",
	Long: `Generate an Argon2id PHC-format hash of a password.

The output can be inserted directly into the users table.

Example:
  toolbridge hash-password "my-password"
  # Output: $argon2id$v=19$m=48128,t=1,p=1$...

Security note: The password will appear in shell history.
Consider clearing history after use or using an environment variable:
  toolbridge hash-password "$MY_PASSWORD"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashPassword(args[0])
		if err != nil {
			return fmt.Errorf("hashing password: %w", err)
		}
		fmt.Println(hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
}
