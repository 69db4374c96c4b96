package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newOrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Create organizations and the users that act on their behalf.",
	}

	cmd.AddCommand(newOrgCreateCmd())
	cmd.AddCommand(newOrgUserCreateCmd())

	return cmd
}

func newOrgCreateCmd() *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:     "create",
		Short:   "Create a new organization",
		Example: `  mmbridge org create --title "ACME Incident Response"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			org, err := store.CreateOrganization(context.Background(), title)
			if err != nil {
				return fmt.Errorf("create organization: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created organization %d: %s\n", org.ID, org.Title)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Organization title (required)")
	cmd.MarkFlagRequired("title")

	return cmd
}

func newOrgUserCreateCmd() *cobra.Command {
	var (
		orgID    int64
		username string
	)

	cmd := &cobra.Command{
		Use:   "user-create",
		Short: "Create a user reference inside an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer store.Close()

			user, err := store.CreateUser(context.Background(), orgID, username)
			if err != nil {
				return fmt.Errorf("create user: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created user %d (%s) in organization %d\n",
				user.ID, user.Username, user.OrganizationID)
			return nil
		},
	}

	cmd.Flags().Int64Var(&orgID, "org", 0, "Organization ID (required)")
	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("username")

	return cmd
}
