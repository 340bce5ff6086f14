// Command webmtool is a small multi-command shell around the webm/ebml
// packages: inspecting existing WebM files, demonstrating the muxer,
// capturing a live WHEP stream to disk, synthesizing a test clip, and
// cross-checking muxer output against a third-party EBML parser.
package main

import (
	"fmt"
	"os"

	"github.com/webmforge/webmforge/cmd/webmtool/cmdroot"
)

func main() {
	if err := cmdroot.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "webmtool:", err)
		os.Exit(1)
	}
}
