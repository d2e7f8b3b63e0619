package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pixelflut",
		Short: "A fast pixelflut server",
		Long: `pixelflut is a collaborative canvas served over a plain TCP protocol.

Clients draw by sending lines such as "PX 10 20 ff0000". The canvas can
be watched live in a browser and streamed to an RTMP endpoint.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		serveCmd(),
		versionCmd(),
	)
	return root
}
