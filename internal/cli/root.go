// Package cli implements the gridci command-line interface.
package cli

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	_ "modernc.org/sqlite"
)

// Execute runs the root command and exits non-zero on error.
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:           "gridci",
		Short:         "gridci runs matrix CI workflows defined in YAML files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := initConfig(cmd, configFile); err != nil {
				return err
			}
			return initLogging(logLevel)
		},
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "path to a gridci config file (optional)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug|info|warn|error")
	cmd.PersistentFlags().String("db", "", "SQLite database path for run history (empty = in-memory only)")

	cmd.AddCommand(runCmd())
	cmd.AddCommand(validateCmd())
	cmd.AddCommand(serveCmd())
	return cmd
}

// initConfig layers configuration sources: flags override GRIDCI_* env vars,
// which override the optional config file.
func initConfig(cmd *cobra.Command, configFile string) error {
	viper.SetEnvPrefix("GRIDCI")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file: %w", err)
		}
	}
	return nil
}

func initLogging(level string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid log level %q", level)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
	return nil
}

// openDB opens the run-history database named by the db flag, or returns
// nil when persistence is not requested.
func openDB() (*sql.DB, error) {
	path := viper.GetString("db")
	if path == "" {
		return nil, nil
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}
