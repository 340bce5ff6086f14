package cmdroot

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/webmforge/webmforge/webm"
)

var inspectStrict bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.webm>",
	Short: "Print SegmentInfo, track list, and frame count/duration for a WebM file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectStrict, "strict", false, "fail on negative timestamps instead of clamping to zero")
}

func runInspect(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}

	sess, err := webm.Parse(data, webm.ParseOptions{Strict: inspectStrict})
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	header := sess.Header()
	fmt.Printf("DocType:        %s (version %d, read version %d)\n", header.DocType, header.DocTypeVersion, header.DocTypeReadVersion)

	info := sess.Info()
	fmt.Printf("TimecodeScale:  %d ns/tick\n", info.TimecodeScale)
	fmt.Printf("Duration:       %.3fs\n", float64(sess.DurationNs())/1e9)

	fmt.Printf("Tracks (%d):\n", sess.TrackCount())
	for _, t := range sess.Tracks() {
		switch t.Type {
		case webm.TrackTypeVideo:
			fmt.Printf("  #%d %s video %s %dx%d\n", t.Number, t.CodecID, t.Type, t.PixelWidth, t.PixelHeight)
		case webm.TrackTypeAudio:
			fmt.Printf("  #%d %s audio %s %gHz %dch\n", t.Number, t.CodecID, t.Type, t.SamplingFrequency, t.Channels)
		default:
			fmt.Printf("  #%d %s %s\n", t.Number, t.CodecID, t.Type)
		}
	}

	counts := map[uint64]int{}
	it, err := sess.Frames()
	if err != nil {
		return fmt.Errorf("iterating frames: %w", err)
	}
	total := 0
	for {
		frame, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading frame: %w", err)
		}
		counts[frame.TrackNumber]++
		total++
	}

	fmt.Printf("Frames:         %d total\n", total)
	for _, t := range sess.Tracks() {
		fmt.Printf("  #%d: %d frames\n", t.Number, counts[t.Number])
	}

	return nil
}
