package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwatch/wkauth/internal/model"
)

func newOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Manage owner accounts",
		Long:  "Create and list the accounts that own API keys, and mint session tokens for the management API.",
	}

	cmd.AddCommand(newOwnerCreateCmd())
	cmd.AddCommand(newOwnerListCmd())
	cmd.AddCommand(newOwnerTokenCmd())
	cmd.AddCommand(newOwnerSetActiveCmd("enable", true))
	cmd.AddCommand(newOwnerSetActiveCmd("disable", false))

	return cmd
}

// ---------- owner create ----------

func newOwnerCreateCmd() *cobra.Command {
	var (
		email string
		name  string
		admin bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new owner",
		Example: `  wkauth owner create --email ops@example.com --admin
  wkauth owner create --email dev@example.com --name "Dev Team"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !strings.Contains(email, "@") {
				return fmt.Errorf("invalid email address: %q", email)
			}
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			o := &model.Owner{Email: email, Name: name, IsActive: true, IsAdmin: admin}
			if err := sess.store.CreateOwner(context.Background(), o); err != nil {
				return fmt.Errorf("create owner: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created owner %q (id %s)\n", o.Email, o.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Owner email address (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "Allow this owner to manage integration clients")
	cmd.MarkFlagRequired("email")

	return cmd
}

// ---------- owner list ----------

func newOwnerListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all owners",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			owners, err := sess.store.ListOwners(context.Background())
			if err != nil {
				return fmt.Errorf("list owners: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, owners)
			}
			if len(owners) == 0 {
				fmt.Fprintln(out, "No owners configured. Use 'wkauth owner create' to create one.")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-30s %-20s %-6s %-6s\n", "ID", "EMAIL", "NAME", "ACTIVE", "ADMIN")
			for _, o := range owners {
				fmt.Fprintf(out, "%-36s %-30s %-20s %-6s %-6s\n", o.ID, o.Email, o.Name, yesNo(o.IsActive), yesNo(o.IsAdmin))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- owner token ----------

func newOwnerTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <email|id>",
		Short: "Mint a session token for the management API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			owner, err := ownerByRef(context.Background(), sess.store, args[0])
			if err != nil {
				return fmt.Errorf("owner %q: %w", args[0], err)
			}
			if !owner.IsActive {
				return fmt.Errorf("owner %q is inactive", owner.Email)
			}
			tok, expiresIn, err := sess.deps.Tokens.MintOwnerSession(owner.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "Session token for %s expires in %s\n", owner.Email, time.Duration(expiresIn)*time.Second)
			return nil
		},
	}
	return cmd
}

// ---------- owner enable / disable ----------

func newOwnerSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Disable an owner and every credential it holds"
	if active {
		short = "Re-enable a disabled owner"
	}
	return &cobra.Command{
		Use:   use + " <email|id>",
		Short: short,
		Long: `Disabled owners keep their keys on record, but those keys, and any session
tokens already issued to the owner, are rejected until the owner is enabled.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := context.Background()

			owner, err := ownerByRef(ctx, sess.store, args[0])
			if err != nil {
				return fmt.Errorf("owner %q: %w", args[0], err)
			}
			if err := sess.store.SetOwnerActive(ctx, owner.ID, active); err != nil {
				return fmt.Errorf("%s owner: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Owner %q is now %sd\n", owner.Email, use)
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
