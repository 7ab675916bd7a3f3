// Lanblast discovers media renderers on the local network and blasts an
// audio clip to all of them at once.
//
// It merges three discovery strategies (SSDP search, mDNS browse, TCP port
// scan) into one deduplicated device table, then drives every renderer
// through the UPnP AVTransport sequence to play a served clip.
//
// Usage:
//
//	lanblast [command] [flags]
//
// Running without arguments performs a full blast run.
// See 'lanblast --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanblast/lanblast/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lanblast",
	Short: "Blast an audio clip to every media renderer on the LAN",
	Long: `Discover media renderers on the local network and play a clip on all
of them simultaneously.

Discovery runs SSDP multicast search, mDNS service browsing, and a TCP
port scan of known media-control ports in parallel, merging the results.
Each discovered renderer is then sent the clip over UPnP AVTransport.

If no command is specified, a full blast run is performed.`,
	Version: version.Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: full blast run when no subcommand provided
		return runBlast(cmd, args)
	},
}

func init() {
	// Disable automatic completion command generation
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("lanblast %s (commit: %s)\n", version.Version, version.Commit)
	},
}
