package cli

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create organization-scoped API keys used by the host system to call the internal endpoints.",
	}

	cmd.AddCommand(newKeyCreateCmd())

	return cmd
}

func newKeyCreateCmd() *cobra.Command {
	var (
		orgID int64
		label string
	)

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a new API key",
		Long:    "Generate a new API key bound to an organization. The raw key is shown once and cannot be retrieved again.",
		Example: `  mmbridge key create --org 1 --label "host system"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyCreate(cmd, orgID, label)
		},
	}

	cmd.Flags().Int64Var(&orgID, "org", 0, "Organization to bind the key to (required)")
	cmd.Flags().StringVar(&label, "label", "", "Human-readable label for the key")
	cmd.MarkFlagRequired("org")

	return cmd
}

func runKeyCreate(cmd *cobra.Command, orgID int64, label string) error {
	store, err := openStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if _, err := store.GetOrganization(ctx, orgID); err != nil {
		return fmt.Errorf("organization %d not found", orgID)
	}

	randomBytes := make([]byte, 32)
	if _, err := rand.Read(randomBytes); err != nil {
		return fmt.Errorf("generate random key: %w", err)
	}
	rawKey := "mmb_" + hex.EncodeToString(randomBytes)

	key, err := store.CreateAPIKey(ctx, orgID, rawKey, label)
	if err != nil {
		return fmt.Errorf("create api key: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created API key %d (prefix %s)\n", key.ID, key.KeyPrefix)
	fmt.Fprintf(cmd.OutOrStdout(), "\n  %s\n\n", rawKey)
	fmt.Fprintln(cmd.OutOrStdout(), "Store this key now - it cannot be shown again.")
	return nil
}
