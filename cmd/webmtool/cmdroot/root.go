// Package cmdroot wires webmtool's cobra command tree together, in
// the split the teacher itself uses: cobra for the multi-command
// shell (cmd/root.go), pflag-backed per-command flags for the leaves
// (internal/cli.go).
package cmdroot

import (
	"github.com/spf13/cobra"

	"github.com/webmforge/webmforge/internal/xlog"
)

var debugMode bool

var rootCmd = &cobra.Command{
	Use:   "webmtool",
	Short: "Inspect, mux, capture, synthesize and validate WebM/Matroska streams",
	Long: `webmtool is a small toolkit around the webm/ebml container packages.

Examples:
  webmtool inspect clip.webm
  webmtool synth -o out.webm
  webmtool capture -u http://localhost:8080/whep -o capture.webm
  webmtool validate clip.webm`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		xlog.Enabled = debugMode
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&debugMode, "debug", "d", false, "enable debug logging")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(validateCmd)
}
