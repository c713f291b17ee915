package cli

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fieldwatch/wkauth/internal/config"
)

var (
	cfgFile string
	envFile string
	dataDir string

	// v holds the configuration of the command being run.
	v = viper.New()
)

// Execute creates the root command tree and runs it.
func Execute(version, commit, date string) error {
	rootCmd := newRootCmd(version, commit, date)
	return rootCmd.Execute()
}

func newRootCmd(version, commit, date string) *cobra.Command {
	v = viper.New()
	config.SetDefaults(v)

	cmd := &cobra.Command{
		Use:   "wkauth",
		Short: "Credential service for API keys and signed integrations",
		Long: `wkauth issues and verifies the credentials integrations use to reach the API:
owner API keys, HMAC-signed requests from integration clients, and short-lived
integration bearer tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./wkauth.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default is ./.env when present)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory for the SQLite store (default: ~/.wkauth)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd(version, commit, date))
	cmd.AddCommand(newOwnerCmd())
	cmd.AddCommand(newKeyCmd())
	cmd.AddCommand(newClientCmd())
	cmd.AddCommand(newSignCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func initConfig() error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return err
		}
	} else {
		godotenv.Load() // .env is optional
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("wkauth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.wkauth")
	}

	v.SetEnvPrefix("WKAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Only the default config file is optional.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}
	if dataDir != "" {
		v.Set("store.data_dir", dataDir)
	}
	return nil
}
