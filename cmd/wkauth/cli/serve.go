package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fieldwatch/wkauth/internal/server"
)

const banner = `
          _                 _   _
__      _| | ____ _ _   _| |_| |__
\ \ /\ / / |/ / _' | | | | __| '_ \
 \ V  V /|   < (_| | |_| | |_| | | |
  \_/\_/ |_|\_\__,_|\__,_|\__|_| |_|
`

func newServeCmd() *cobra.Command {
	var dev bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the wkauth API server",
		Long:  "Start the HTTP server that manages API keys and verifies signed integration requests.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dev {
				v.Set("server.environment", "development")
				v.Set("log.level", "debug")
			}
			return runServe(cmd)
		},
	}

	cmd.Flags().IntP("port", "p", 8080, "HTTP listen port")
	cmd.Flags().String("host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging, relaxed secret checks)")

	v.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	v.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(cmd *cobra.Command) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	logger := newLogger(settings.Log, os.Stderr)

	store, err := openStore(settings)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer store.Close()
	logger.Info("store initialized", "driver", store.Dialect())

	nonces, err := server.OpenNonceStore(settings)
	if err != nil {
		return fmt.Errorf("init nonce store: %w", err)
	}
	if c, ok := nonces.(io.Closer); ok {
		defer c.Close()
	}
	logger.Info("nonce store initialized", "backend", settings.Nonce.Backend)

	deps, err := server.NewDeps(settings, store, nonces)
	if err != nil {
		return err
	}
	if len(deps.Static) > 0 {
		logger.Info("static HMAC clients loaded", "count", len(deps.Static))
	}
	if settings.IsDevelopment() && settings.APIKeys.Pepper == "" {
		logger.Warn("api_keys.pepper is empty; keys are hashed without a pepper")
	}

	srv, err := server.New(server.ConfigFromSettings(*settings), deps, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	host, port := settings.Server.Host, settings.Server.Port
	fmt.Fprint(out, banner)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "→ Listening on http://%s:%d\n", host, port)
	fmt.Fprintf(out, "→ OpenAPI:    http://%s:%d/openapi.json\n", host, port)
	fmt.Fprintf(out, "→ Metrics:    http://%s:%d/metrics\n", host, port)
	fmt.Fprintf(out, "→ Health:     http://%s:%d/healthz\n", host, port)
	fmt.Fprintf(out, "→ HMAC mode:  %s\n", settings.HMAC.Mode)
	fmt.Fprintln(out)

	return srv.ListenAndServe()
}
