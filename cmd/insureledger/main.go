package main

import (
	"InsureLedger/internal/config"
	"InsureLedger/internal/observability"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const programName = "insureledger"

// Set via -ldflags "-X main.version=...".
var version = "dev"

var globalFlags = struct {
	configFile string
	logLevel   string
}{}

// loadConfig reads the config file and applies the --log-level override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(globalFlags.configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if globalFlags.logLevel != "" {
		cfg.Logging.Level = globalFlags.logLevel
	}
	observability.SetGlobalLevel(cfg.Logging.Level)
	return cfg, nil
}

func commonLogger(component string) zerolog.Logger {
	return observability.NewLogger(component).With().Str("version", version).Logger()
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", programName, version)
		},
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Insurance pool ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().
		StringVar(&globalFlags.configFile, "config", "", "path to config file")
	rootCmd.PersistentFlags().
		StringVar(&globalFlags.logLevel, "log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(serveCommand())
	rootCmd.AddCommand(migrateCommand())
	rootCmd.AddCommand(verifyCommand())
	rootCmd.AddCommand(versionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", programName, err)
		os.Exit(1)
	}
}
