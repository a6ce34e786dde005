package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/penwyp/peakcat/models"
	"github.com/penwyp/peakcat/orchestrator"
	"github.com/penwyp/peakcat/output"
	"github.com/penwyp/peakcat/pipeline"
)

// queryFlags are the per-question flags; each subcommand owns its own set.
type queryFlags struct {
	start        string
	end          string
	tzOffset     int
	limit        int
	cutoff       string
	forceRefresh bool
	strict       bool
	output       string
	noColor      bool
}

func init() {
	for _, def := range pipeline.Questions() {
		rootCmd.AddCommand(newQuestionCmd(def))
	}
}

func newQuestionCmd(def *pipeline.Definition) *cobra.Command {
	f := &queryFlags{}
	served := fmt.Sprintf("Served from %s on the remote backend, or from the local %q export.", def.Endpoint, def.Source)
	if def.LocalOnly() {
		served = fmt.Sprintf("Served from the local %q export; the remote backend has no endpoint for it.", def.Source)
	}
	cmd := &cobra.Command{
		Use:   def.ID,
		Short: def.Title,
		Long: fmt.Sprintf(`%s.

%s

Examples:
  peakcat %s                                   # last 30 days
  peakcat %s --start 2025-01-01 --end 2025-02-01 --tz-offset -300
  peakcat %s --output json --force-refresh`, def.Title, served, def.ID, def.ID, def.ID),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := f.query(cmd, def)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(f.output)
			if err != nil {
				return err
			}

			app, err := newApplication(appConfig)
			if err != nil {
				return err
			}
			defer app.Close()

			res, err := app.orch.Run(cmd.Context(), q)
			if err != nil {
				return err
			}
			color := !f.noColor && isatty.IsTerminal(os.Stdout.Fd())
			return output.NewFormatter(format, color).Write(cmd.OutOrStdout(), res)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.start, "start", "", "range start, inclusive (RFC 3339 or YYYY-MM-DD; default end minus the default window)")
	fl.StringVar(&f.end, "end", "", "range end, exclusive (default now)")
	fl.IntVar(&f.tzOffset, "tz-offset", 0, "local offset from UTC in minutes, -720..840 (default from config)")
	fl.BoolVar(&f.forceRefresh, "force-refresh", false, "recompute even if a cached answer exists")
	fl.BoolVar(&f.strict, "strict", false, "fail when every input row is malformed")
	fl.StringVarP(&f.output, "output", "o", "table", "output format (table, json, csv, summary)")
	fl.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	if def.UsesLimit {
		fl.IntVar(&f.limit, "limit", 0, fmt.Sprintf("number of rows to show, 1..%d (default from config)", pipeline.MaxCategoryLimit))
	}
	if def.UsesCutoff {
		fl.StringVar(&f.cutoff, "cutoff", "", "compare percentiles before and after this instant")
	}
	return cmd
}

func (f *queryFlags) query(cmd *cobra.Command, def *pipeline.Definition) (orchestrator.Query, error) {
	q := orchestrator.Query{
		Question:     def.ID,
		Limit:        f.limit,
		ForceRefresh: f.forceRefresh,
		Strict:       f.strict,
	}
	var err error
	if q.Start, err = parseTimeFlag("start", f.start); err != nil {
		return q, err
	}
	if q.End, err = parseTimeFlag("end", f.end); err != nil {
		return q, err
	}
	if q.Cutoff, err = parseTimeFlag("cutoff", f.cutoff); err != nil {
		return q, err
	}
	if cmd.Flags().Changed("tz-offset") {
		offset := f.tzOffset
		q.OffsetMinutes = &offset
	}
	return q, nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := models.ParseTime(value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return t, nil
}

var questionsOutput string

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "List the questions peakcat can answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		type info struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Endpoint string `json:"endpoint,omitempty"`
			PeakMode string `json:"peak_mode"`
		}
		var out []info
		for _, d := range pipeline.Questions() {
			out = append(out, info{ID: d.ID, Title: d.Title, Endpoint: d.Endpoint, PeakMode: string(d.PeakMode)})
		}
		if questionsOutput == "json" {
			return output.WriteJSON(cmd.OutOrStdout(), out)
		}
		for _, q := range out {
			fmt.Fprintf(cmd.OutOrStdout(), "%-28s %s\n", q.ID, q.Title)
		}
		return nil
	},
}

func init() {
	questionsCmd.Flags().StringVarP(&questionsOutput, "output", "o", "text", "output format (text, json)")
	rootCmd.AddCommand(questionsCmd)
}
