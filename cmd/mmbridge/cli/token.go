package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oncallhq/mmbridge/internal/token"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage Mattermost app verification tokens",
	}

	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenRevokeCmd())

	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		orgID  int64
		userID int64
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a verification token for an organization",
		Long: `Issue a fresh app verification token. The token goes into the manifest URL
configured in Mattermost. Issuing supersedes the organization's previous
token; installs that used it must be reconfigured.`,
		Example: `  mmbridge token issue --org 1 --user 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			codec := token.NewCodec(store)
			record, tokenString, err := codec.Issue(context.Background(), userID, orgID)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Issued token %s for organization %d\n\n", record.ID, orgID)
			fmt.Fprintf(cmd.OutOrStdout(), "  %s\n\n", tokenString)
			fmt.Fprintln(cmd.OutOrStdout(), "Manifest URL: <webhook host>/mattermost/manifest?auth_token=<token>")
			return nil
		},
	}

	cmd.Flags().Int64Var(&orgID, "org", 0, "Organization ID (required)")
	cmd.Flags().Int64Var(&userID, "user", 0, "Issuing user ID (required)")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("user")

	return cmd
}

func newTokenRevokeCmd() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke a verification token by its ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			if err := store.RevokeAuthToken(context.Background(), id); err != nil {
				return fmt.Errorf("revoke token: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Revoked token %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Token ID (required)")
	cmd.MarkFlagRequired("id")

	return cmd
}
