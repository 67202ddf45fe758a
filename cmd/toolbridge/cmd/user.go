package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/toolbridge/toolbridge/internal/adapter/outbound/store"
	"github.com/toolbridge/toolbridge/internal/config"
	"github.com/toolbridge/toolbridge/internal/domain/auth"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage login users",
}

var userAddCmd = &cobra.Command{
	Use:   "add [username] [password]",
	Short: "Create a login user",
	Long: `Create a user that can sign in to private tool servers.

The password is hashed with Argon2id before it touches the store.

Example:
  toolbridge user add alice "s3cret-password"`,
	Args: cobra.ExactArgs(2),
	RunE: runUserAdd,
}

func init() {
	userCmd.AddCommand(userAddCmd)
	rootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	st, err := store.New(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	hash, err := auth.HashPassword(args[1])
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	user := &auth.User{
		Username:     args[0],
		PasswordHash: hash,
	}
	if err := st.Elevated().CreateUser(cmd.Context(), user); err != nil {
		return fmt.Errorf("creating user: %w", err)
	}

	fmt.Printf("created user %s (%s)\n", user.Username, user.ID)
	return nil
}
