package cmdroot

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/webmforge/webmforge/internal/conformance"
	"github.com/webmforge/webmforge/webm"
)

var validateCmd = &cobra.Command{
	Use:   "validate <file.webm>",
	Short: "Cross-check a WebM file against an independent third-party EBML parser",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	sess, err := webm.Parse(data, webm.ParseOptions{})
	if err != nil {
		return fmt.Errorf("this parser rejected %s: %w", args[0], err)
	}

	report, err := conformance.Validate(data)
	if err != nil {
		return fmt.Errorf("go-mkvparse rejected %s: %w", args[0], err)
	}

	fmt.Printf("go-mkvparse report:\n")
	fmt.Printf("  DocType:      %s\n", report.DocType)
	fmt.Printf("  TrackEntries: %d\n", report.TrackEntries)
	fmt.Printf("  Clusters:     %d\n", report.Clusters)
	fmt.Printf("  SimpleBlocks: %d\n", report.SimpleBlocks)

	mismatch := false
	if report.TrackEntries != sess.TrackCount() {
		mismatch = true
		fmt.Printf("MISMATCH: this parser saw %d tracks, go-mkvparse saw %d\n", sess.TrackCount(), report.TrackEntries)
	}
	if report.DocType != sess.Header().DocType {
		mismatch = true
		fmt.Printf("MISMATCH: this parser saw DocType %q, go-mkvparse saw %q\n", sess.Header().DocType, report.DocType)
	}

	if mismatch {
		return fmt.Errorf("conformance check found structural disagreement")
	}

	fmt.Println("OK: structural agreement with go-mkvparse")
	return nil
}
