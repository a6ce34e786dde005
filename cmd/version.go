package cmd

import (
	"fmt"
	"io"
	"runtime"
	rtdebug "runtime/debug"

	"github.com/spf13/cobra"

	"github.com/penwyp/peakcat/output"
)

// Set by the linker: -X github.com/penwyp/peakcat/cmd.Version=...
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuiltAt   string `json:"built_at,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// currentBuild fills missing linker values from the module build info, which
// `go install` records even without ldflags.
func currentBuild() buildInfo {
	b := buildInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuiltAt:   BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	info, ok := rtdebug.ReadBuildInfo()
	if !ok {
		return b
	}
	if b.Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		b.Version = info.Main.Version
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.BuiltAt == "" {
				b.BuiltAt = s.Value
			}
		}
	}
	return b
}

func newVersionCmd() *cobra.Command {
	var (
		asJSON bool
		short  bool
	)
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeVersion(cmd.OutOrStdout(), currentBuild(), asJSON, short)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print build information as JSON")
	cmd.Flags().BoolVarP(&short, "short", "s", false, "print only the version")
	return cmd
}

func writeVersion(w io.Writer, b buildInfo, asJSON, short bool) error {
	switch {
	case short:
		_, err := fmt.Fprintln(w, b.Version)
		return err
	case asJSON:
		return output.WriteJSON(w, b)
	}

	fmt.Fprintf(w, "peakcat %s (%s, %s)\n", b.Version, b.GoVersion, b.Platform)
	if b.Commit != "" {
		fmt.Fprintf(w, "commit: %s\n", b.Commit)
	}
	if b.BuiltAt != "" {
		fmt.Fprintf(w, "built:  %s\n", b.BuiltAt)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(newVersionCmd())
}
