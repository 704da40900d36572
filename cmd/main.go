package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "live-relay",
		Short:        "Relay live broadcast events to websocket viewers",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd())
	return root
}
