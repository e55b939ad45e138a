package main

import (
	"github.com/spf13/cobra"
)

// Version is the discnode release.
const Version = "0.1.0"

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "discnode",
		Short:         "Kademlia peer discovery node",
		Long:          "discnode runs a standalone node of the UDP peer discovery protocol and keeps a table of reachable peers.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCommand(), newKeygenCommand())
	return root
}
