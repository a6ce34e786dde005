package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/penwyp/peakcat/config"
	"github.com/penwyp/peakcat/logging"
	"github.com/penwyp/peakcat/server"
)

var (
	serveAddr  string
	serveWatch bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the questions over HTTP",
	Long: `Start an HTTP server exposing every question.

Routes:
  GET    /analytics/{question}   start, end, timezone_offset_minutes, limit,
                                 cutoff, force_refresh, strict, format
  GET    /questions
  GET    /healthz
  GET    /cache/stats
  DELETE /cache

With --watch, edits to the config file's analysis windows apply to later
requests without a restart.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		if serveAddr != "" {
			cfg.Server.Addr = serveAddr
		}

		app, err := newApplication(cfg)
		if err != nil {
			return err
		}
		defer app.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveWatch {
			if path := configFilePath(); path != "" {
				w, err := config.NewWatcher(path, app.reloadWindows)
				if err != nil {
					return err
				}
				if err := w.Start(); err != nil {
					return err
				}
				defer w.Stop()
				logging.LogInfof("Watching %s for window changes", path)
			} else {
				logging.LogWarnf("--watch given but no config file is in use")
			}
		}

		srv := server.New(app.orch, app.orch, server.Options{
			Addr:         cfg.Server.Addr,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			Version:      Version,
		})
		return srv.ListenAndServe(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().BoolVarP(&serveWatch, "watch", "w", false, "reload analysis windows when the config file changes")
	rootCmd.AddCommand(serveCmd)
}

func configFilePath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.FindConfigFile()
}

// reloadWindows applies new windows from a reloaded config. Other settings
// need a restart.
func (a *application) reloadWindows(cfg *config.Config) {
	periods, err := cfg.Analysis.PeriodSet()
	if err != nil {
		logging.LogErrorf("Ignoring reloaded windows: %v", err)
		return
	}
	a.orch.SetPeriods(periods)
	logging.LogInfof("Windows reloaded: %s", periods.Describe())
}

