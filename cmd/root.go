// Package cmd is the coralite-dev command line.
//
// Configuration is read, lowest precedence first, from built-in defaults, a
// .coralite.yml in the working directory (or the file named by --config or
// CORALITE_CONFIG_FILE), CORALITE_<SECTION>_<OPTION> environment variables,
// and finally command-line flags.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/EphraimElvis/coralite-io/internal/config"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

var cfgFile string

// rootCmd runs the development server when called without a subcommand.
var rootCmd = &cobra.Command{
	Use:   "coralite-dev",
	Short: "Development server with live reload for Coralite sites",
	Long: `coralite-dev builds the site once, serves the output and public assets,
and rebuilds HTML or CSS whenever a source file changes. Open pages reload
through the /_/rebuild event stream.

Examples:
  coralite-dev                       # Serve on http://localhost:3000
  coralite-dev --port 8080           # Serve on another port
  coralite-dev copy public dist/assets
  coralite-dev config show --format json`,
	SilenceUsage: true,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is .coralite.yml, can also use CORALITE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")

	rootCmd.Flags().IntP("port", "p", config.DefaultPort, "Port to serve on")
	rootCmd.Flags().String("host", config.DefaultHost, "Host to bind to")

	cobra.CheckErr(bindFlags(viper.GetViper(), rootCmd.PersistentFlags(), map[string]string{
		"log-level": "log.level",
	}))
	cobra.CheckErr(bindFlags(viper.GetViper(), rootCmd.Flags(), map[string]string{
		"port": "server.port",
		"host": "server.host",
	}))
}

// bindFlags binds each named flag to its config key.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for name, key := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("unknown flag %q for %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}

	return nil
}

// initConfig points viper at the config file and environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("CORALITE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".coralite")
	}

	viper.SetEnvPrefix("CORALITE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// A missing file is fine; defaults apply.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the diagnostics logger described by cfg.
func newLogger(cfg *config.Config) logging.Logger {
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}
