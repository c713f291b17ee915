package cli

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Manage HMAC integration clients",
		Long:  "Register integration clients, rotate their shared secrets, and generate static client credentials.",
	}

	cmd.AddCommand(newClientCreateCmd())
	cmd.AddCommand(newClientListCmd())
	cmd.AddCommand(newClientRotateCmd())
	cmd.AddCommand(newClientSetActiveCmd("enable", true))
	cmd.AddCommand(newClientSetActiveCmd("disable", false))
	cmd.AddCommand(newClientPurgeCmd())
	cmd.AddCommand(newClientGenerateCmd())

	return cmd
}

// ---------- client create ----------

func newClientCreateCmd() *cobra.Command {
	var (
		name     string
		inactive bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register an integration client",
		Long:  "Register an integration client. Its shared secret is shown once.",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			c, plain, err := sess.deps.Clients.Create(context.Background(), name, !inactive)
			if err != nil {
				return fmt.Errorf("create client: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created client %q\n\n", c.Name)
			fmt.Fprintf(out, "  ID:        %s\n", c.ID)
			fmt.Fprintf(out, "  Client ID: %s\n", c.ClientID)
			fmt.Fprintf(out, "  Secret:    %s\n\n", plain)
			fmt.Fprintln(out, "  Save this secret now - it cannot be retrieved again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Client name (required)")
	cmd.Flags().BoolVar(&inactive, "inactive", false, "Create the client disabled")
	cmd.MarkFlagRequired("name")

	return cmd
}

// ---------- client list ----------

func newClientListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List integration clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			clients, err := sess.deps.Clients.List(context.Background())
			if err != nil {
				return fmt.Errorf("list clients: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOutput {
				return writeJSON(out, clients)
			}
			if len(clients) == 0 {
				fmt.Fprintln(out, "No integration clients. Use 'wkauth client create' to register one.")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-20s %-36s %-6s %-20s\n", "ID", "NAME", "CLIENT ID", "ACTIVE", "PREVIOUS UNTIL")
			for _, c := range clients {
				fmt.Fprintf(out, "%-36s %-20s %-36s %-6s %-20s\n", c.ID, c.Name, c.ClientID, yesNo(c.IsActive), formatTime(c.PreviousExpiresAt))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- client rotate-secret ----------

func newClientRotateCmd() *cobra.Command {
	var overlap time.Duration

	cmd := &cobra.Command{
		Use:   "rotate-secret <id>",
		Short: "Rotate a client's shared secret",
		Long: `Issue a new shared secret. The old secret keeps working until the overlap
window ends (clients.rotation_overlap unless --overlap is given).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			c, plain, err := sess.deps.Clients.RotateSecret(context.Background(), args[0], overlap)
			if err != nil {
				return fmt.Errorf("rotate client secret: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Rotated secret of client %q\n\n", c.Name)
			fmt.Fprintf(out, "  Client ID:      %s\n", c.ClientID)
			fmt.Fprintf(out, "  Secret:         %s\n", plain)
			fmt.Fprintf(out, "  Previous until: %s\n", formatTime(c.PreviousExpiresAt))
			return nil
		},
	}

	cmd.Flags().DurationVar(&overlap, "overlap", 0, "How long the old secret stays valid")

	return cmd
}

// ---------- client enable / disable ----------

func newClientSetActiveCmd(use string, active bool) *cobra.Command {
	short := "Disable an integration client"
	if active {
		short = "Enable an integration client"
	}
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			c, err := sess.deps.Clients.Update(context.Background(), args[0], nil, &active)
			if err != nil {
				return fmt.Errorf("%s client: %w", use, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Client %q is now %sd\n", c.Name, use)
			return nil
		},
	}
}

// ---------- client purge ----------

func newClientPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Drop previous secrets whose overlap window has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := openSession()
			if err != nil {
				return err
			}
			defer sess.Close()

			n, err := sess.deps.Clients.PurgeExpiredPrevious(context.Background())
			if err != nil {
				return fmt.Errorf("purge previous secrets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Purged %d expired previous secret(s)\n", n)
			return nil
		},
	}
}

// ---------- client generate ----------

func newClientGenerateCmd() *cobra.Command {
	var clientID string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate credentials for a static client",
		Long: `Generate a client id and a random 32-byte secret for the static client map
(hmac.static_clients_json). Nothing is stored.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			if clientID == "" {
				clientID = uuid.NewString()
			}
			raw := make([]byte, 32)
			if _, err := rand.Read(raw); err != nil {
				return err
			}
			secret := base64.StdEncoding.EncodeToString(raw)
			doc, err := json.Marshal(map[string]string{clientID: secret})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "CLIENT_ID=%s\n", clientID)
			fmt.Fprintf(out, "SECRET_B64=%s\n", secret)
			fmt.Fprintf(out, "WKAUTH_HMAC_STATIC_CLIENTS_JSON='%s'\n", doc)
			fmt.Fprintln(cmd.ErrOrStderr(), "Store the secret securely; it is shown only once.")
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id (default: random UUID)")

	return cmd
}
