package cli

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fieldwatch/wkauth/internal/signing"
)

func newSignCmd() *cobra.Command {
	var (
		clientID  string
		secret    string
		secretB64 string
		method    string
		path      string
		query     string
		bodyFile  string
	)

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute signature headers for a request",
		Long: `Compute the X-Client-Id, X-Timestamp, X-Nonce, and X-Signature headers for
one request, for use with curl or when debugging an integration.

Database clients sign with their secret as shown at creation (--secret);
static clients sign with the decoded bytes of their base64 secret (--secret-b64).`,
		Example: `  wkauth sign --client-id nextcloud --secret-b64 "$SECRET_B64" --path /integrations/nextcloud/ping
  wkauth sign --client-id $ID --secret "$SECRET" --method POST --path /integrations/token --body-file body.json`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			var key []byte
			switch {
			case secretB64 != "":
				b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(secretB64))
				if err != nil {
					return fmt.Errorf("invalid --secret-b64: %w", err)
				}
				key = b
			case secret != "":
				key = []byte(secret)
			default:
				s, err := readSecret("Client secret")
				if err != nil {
					return err
				}
				key = []byte(s)
			}
			if len(key) == 0 {
				return fmt.Errorf("client secret is empty")
			}

			var body []byte
			if bodyFile != "" {
				b, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("read body: %w", err)
				}
				body = b
			}

			signer := &signing.Signer{ClientID: clientID, Secret: key}
			h := http.Header{}
			signer.Headers(strings.ToUpper(method), path, strings.TrimPrefix(query, "?"), body).Set(h)

			out := cmd.OutOrStdout()
			for _, name := range []string{signing.HeaderClientID, signing.HeaderTimestamp, signing.HeaderNonce, signing.HeaderSignature} {
				fmt.Fprintf(out, "%s: %s\n", name, h.Get(name))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&clientID, "client-id", "", "Client id (required)")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret as issued by 'client create'")
	cmd.Flags().StringVar(&secretB64, "secret-b64", "", "Base64 shared secret of a static client")
	cmd.Flags().StringVar(&method, "method", http.MethodGet, "HTTP method")
	cmd.Flags().StringVar(&path, "path", "/", "Request path")
	cmd.Flags().StringVar(&query, "query", "", "Raw query string")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "File holding the exact request body")
	cmd.MarkFlagRequired("client-id")

	return cmd
}
