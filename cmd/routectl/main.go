package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	rootCmd := &cobra.Command{
		Use:   "routectl",
		Short: "routectl - dynamic partition routing controller",
		Long: `routectl watches pub/sub discovery and drives a routing service so
its sessions and topic routes continuously mirror the discovered
(topic, partition) demand.

Commands:
  routectl run          Start the controller
  routectl version      Print version information`,
	}

	rootCmd.AddCommand(
		newRunCmd(),
		newVersionCmd(),
	)

	return rootCmd.Execute()
}
