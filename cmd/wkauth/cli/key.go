package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fieldwatch/wkauth/internal/model"
	"github.com/fieldwatch/wkauth/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, revoke, and rotate owner API keys.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRotateCmd())

	return cmd
}

func printNewKey(cmd *cobra.Command, key *model.APIKey, plaintext string) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "API key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:     %s\n", plaintext)
	fmt.Fprintf(out, "  ID:      %s\n", key.ID)
	fmt.Fprintf(out, "  Name:    %s\n", key.Name)
	fmt.Fprintf(out, "  Scope:   %s\n", key.Scope)
	fmt.Fprintf(out, "  Expires: %s\n", formatTime(key.ExpiresAt))
	fmt.Fprintln(out)
	fmt.Fprintln(out, "  Save this key now - it cannot be retrieved again.")
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		owner   string
		name    string
		scope   string
		expires string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Generate an API key for an owner. The raw key is shown once and cannot be retrieved again.",
		Example: `  wkauth key create --owner ops@example.com --name "CI pipeline" --scope write
  wkauth key create --owner ops@example.com --name dashboard --expires 720h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := context.Background()

			o, err := ownerByRef(ctx, sess.store, owner)
			if err != nil {
				return fmt.Errorf("owner %q: %w", owner, err)
			}
			exp, err := parseExpiry(expires, time.Now())
			if err != nil {
				return err
			}
			key, plain, err := sess.deps.Keys.Create(ctx, o.ID, name, model.Scope(scope), exp)
			if err != nil {
				return fmt.Errorf("create api key: %w", err)
			}
			printNewKey(cmd, key, plain)
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner email or id (required)")
	cmd.Flags().StringVar(&name, "name", "", "Key name (required)")
	cmd.Flags().StringVar(&scope, "scope", "read", "Scope: read, write, or admin")
	cmd.Flags().StringVar(&expires, "expires", "", "Expiry as RFC 3339 or a duration from now")
	cmd.MarkFlagRequired("owner")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		owner      string
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := context.Background()

			ownerID := ""
			if owner != "" {
				o, err := ownerByRef(ctx, sess.store, owner)
				if err != nil {
					return fmt.Errorf("owner %q: %w", owner, err)
				}
				ownerID = o.ID
			}
			keys, err := sess.deps.Keys.List(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("list api keys: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, keys)
			}
			if len(keys) == 0 {
				fmt.Fprintln(out, "No API keys. Use 'wkauth key create' to create one.")
				return nil
			}

			now := time.Now()
			fmt.Fprintf(out, "%-36s %-20s %-6s %-22s %-8s %-20s\n", "ID", "NAME", "SCOPE", "KEY", "STATUS", "LAST USED")
			for i := range keys {
				k := &keys[i]
				status := "active"
				switch {
				case k.IsRevoked():
					status = "revoked"
				case k.IsExpired(now):
					status = "expired"
				}
				fmt.Fprintf(out, "%-36s %-20s %-6s %-22s %-8s %-20s\n", k.ID, k.Name, k.Scope, k.Masked(), status, formatTime(k.LastUsedAt))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Only keys of this owner (email or id)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Long:  "Revoke an API key, preventing any further authenticated requests using it. Revoking twice is harmless.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := context.Background()

			key, err := sess.deps.Keys.Get(ctx, "", args[0])
			if err != nil {
				return fmt.Errorf("api key %q: %w", args[0], err)
			}
			already, err := sess.deps.Keys.Revoke(ctx, key)
			if err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			if already {
				fmt.Fprintf(cmd.OutOrStdout(), "API key %s was already revoked\n", key.Masked())
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", key.Masked())
			return nil
		},
	}

	return cmd
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	var (
		name    string
		scope   string
		expires string
		noExp   bool
	)

	cmd := &cobra.Command{
		Use:   "rotate <id>",
		Short: "Revoke an API key and issue its replacement",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()
			ctx := context.Background()

			key, err := sess.deps.Keys.Get(ctx, "", args[0])
			if err != nil {
				return fmt.Errorf("api key %q: %w", args[0], err)
			}

			var opts service.RotateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("scope") {
				s := model.Scope(scope)
				opts.Scope = &s
			}
			switch {
			case noExp:
				var none *time.Time
				opts.ExpiresAt = &none
			case expires != "":
				exp, err := parseExpiry(expires, time.Now())
				if err != nil {
					return err
				}
				opts.ExpiresAt = &exp
			}

			res, err := sess.deps.Keys.Rotate(ctx, key, opts)
			if err != nil {
				return fmt.Errorf("rotate api key: %w", err)
			}
			printNewKey(cmd, res.New, res.Plaintext)
			fmt.Fprintf(cmd.OutOrStdout(), "  Replaces %s (now revoked)\n", res.Old.Masked())
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New name (default: keep)")
	cmd.Flags().StringVar(&scope, "scope", "", "New scope (default: keep)")
	cmd.Flags().StringVar(&expires, "expires", "", "New expiry as RFC 3339 or a duration from now")
	cmd.Flags().BoolVar(&noExp, "no-expiry", false, "Issue the replacement without an expiry")

	return cmd
}
