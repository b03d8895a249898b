package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"commerce-reconciliation-service/cmd/reconciler/config"
	"commerce-reconciliation-service/pkg/errors"
	"commerce-reconciliation-service/pkg/logger"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Commerce payout reconciliation tool",
	Long: `Reconciler compares the orders a store created with the payment
transactions its processors settled, and reports where the expected payout
and the actual payout disagree.

Each run builds up to three views of the same days (creation, processing and
hybrid), matches orders to transactions, flags possible duplicates and risky
transactions, and emits one reconciliation record per view.

Settings come from an optional config file and RECONCILER_ environment
variables, e.g. RECONCILER_EXTRACTION_BASE_URL and
RECONCILER_EXTRACTION_ACCESS_TOKEN.

Examples:
  reconciler reconcile --date 2025-07-29
  reconciler reconcile --start-date 2025-07-01 --end-date 2025-07-31 --output-format xlsx --output-file july.xlsx
  reconciler reconcile --date 2025-07-29 --source file --orders-file orders.json --transactions-file transactions.json
  reconciler resolve <record-id> --store records.db --note "settled next day"
  reconciler version`,
	Version:       getVersionString(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig reads in config file and ENV variables.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)

		// If a config file is specified, read it in.
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(errors.ExitFatal)
		}

		if viper.GetBool("verbose") {
			fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
		}
	}

	// Read environment variables that match, extraction.base_url
	// becomes RECONCILER_EXTRACTION_BASE_URL
	viper.SetEnvPrefix("RECONCILER")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadAppConfig decodes and validates the configuration and installs the
// configured logger as the global one.
func loadAppConfig() (*config.AppConfig, logger.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	if viper.GetBool("verbose") {
		cfg.Log.Level = logger.DebugLevel
	}

	log, err := logger.NewLogger(&cfg.Log)
	if err != nil {
		return nil, nil, errors.ConfigurationError(errors.CodeInvalidConfig, "log", cfg.Log.Output, err)
	}
	logger.SetGlobalLogger(log)
	return cfg, log, nil
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = getVersionString()
}

func getVersionString() string {
	if version == "dev" {
		return fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	}
	return version
}
