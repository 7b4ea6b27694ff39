package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "spacesync",
		Short: "Shared-space replication relay and client simulator",
		Long: `spacesync relays entity replication, network events and leader
election between the clients of a shared space.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(
		serveCmd(),
		simulateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
