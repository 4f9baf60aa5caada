package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/conneroisu/bang/internal/version"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display version information for bang including the semantic version,
git commit, build timestamp, Go version and target platform.

Examples:
  bang version                 # Show version
  bang version --detailed      # Show detailed version info
  bang version --format json   # Output as JSON`,
	RunE: runVersionCommand,
}

func init() {
	rootCmd.AddCommand(versionCmd)

	versionCmd.Flags().StringVarP(&versionFormat, "format", "f", "text", "Output format (text, json)")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
}

func runVersionCommand(cmd *cobra.Command, args []string) error {
	detailed, _ := cmd.Flags().GetBool("detailed")
	w := cmd.OutOrStdout()

	switch versionFormat {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(version.GetBuildInfo())
	case "text":
		switch {
		case versionShort:
			fmt.Fprintln(w, version.GetShortVersion())
		case detailed:
			fmt.Fprintln(w, version.GetDetailedVersion())
		default:
			outputVersionDefault(w)
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json)", versionFormat)
	}
}

func outputVersionDefault(w io.Writer) {
	info := version.GetBuildInfo()

	fmt.Fprintf(w, "bang %s", info.Version)
	if len(info.GitCommit) >= 7 && info.GitCommit != "unknown" {
		fmt.Fprintf(w, " (%s)", info.GitCommit[:7])
	}
	if info.Dirty {
		fmt.Fprint(w, " (dirty)")
	}
	fmt.Fprintln(w)

	if !info.BuildTime.IsZero() {
		fmt.Fprintf(w, "Built: %s\n", info.BuildTime.Format("2006-01-02 15:04:05 UTC"))
	}
	fmt.Fprintf(w, "Go: %s\n", info.GoVersion)
	fmt.Fprintf(w, "Platform: %s\n", info.Platform)
}
