package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/penwyp/peakcat/config"
	"github.com/penwyp/peakcat/logging"
)

var (
	cfgFile  string
	logLevel string
	logFile  string
	debug    bool
	verbose  bool

	// loaded by PersistentPreRunE for every subcommand
	appConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "peakcat",
	Short: "Peak-hour and percentile analytics",
	Long: `peakcat answers a fixed set of analytics questions (order peak hours,
top categories, latency percentiles, pickup waits) over a time range.

Each answer is computed from the remote analytics backend when one is
configured, falls back to local CSV/JSONL exports when it is not reachable,
and is cached so repeated questions are served without recomputation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfiguration(cmd)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Apply debug flag if set from command line
		if debug {
			cfg.Debug.Enabled = true
			cfg.App.LogLevel = "debug"
		}

		logging.InitLogger(logging.Options{
			Level: cfg.App.LogLevel,
			File:  cfg.App.LogFile,
			Debug: cfg.Debug.Enabled,
			JSON:  cfg.App.LogJSON,
		})

		if verbose {
			fmt.Fprintf(os.Stderr, "Configuration: %+v\n", *cfg)
		}
		appConfig = cfg
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Disable default completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Global flags; FlagSource only picks up the ones the user set
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: first of ./peakcat.yaml, ~/.config/peakcat/config.yaml, /etc/peakcat/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFile, "log-file", "", "write logs to this file instead of stderr")
	pf.BoolVar(&debug, "debug", false, "enable debug mode")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	pf.String("base-url", "", "remote analytics backend base URL (also BACKEND_BASE_URL)")
	pf.String("local-dir", "", "directory holding local CSV/JSONL exports")
	pf.String("cache-backend", "", "persistent cache backend (memory, file, badger)")
	pf.String("cache-dir", "", "directory for the file or badger cache")
	pf.StringSlice("window", nil, "meal window name=start-end, repeatable (e.g. lunch=12-14)")
}

func loadConfiguration(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(cfgFile, cmd.Flags())
}
