// Cornea is a command-line client and GDB protocol bridge for the Iris
// Debug Server exposed by ARM Fast Models / Fixed Virtual Platforms.
//
// It connects to a running FVP's Iris server, resolves instances and
// resources by dotted path, and either prints the result directly
// (child-list, resource-list, resource-read, memory-read, event-sources,
// event-fields) or bridges the connection to GDB's Remote Serial Protocol
// (gdb-proxy) so `target remote` can drive the simulated CPU.
//
// See 'cornea --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cornea-tools/cornea/internal/logging"
	"github.com/cornea-tools/cornea/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logging.Sync()
		os.Exit(1)
	}
	logging.Sync()
}

var rootCmd = &cobra.Command{
	Use:   "cornea",
	Short: "Command-line client and GDB bridge for the Iris Debug Server",
	Long: `Cornea talks to the Iris Debug Server exposed by ARM Fast Models and
Fixed Virtual Platforms over a plain TCP connection.

It can list and read the instance tree directly:
  - child-list, resource-list, resource-read, memory-read
  - event-sources, event-fields, event-log

Or it can bridge an instance to GDB's Remote Serial Protocol:
  - gdb-proxy

Connection defaults come from CORNEA_IRIS_HOST (127.0.0.1) and
CORNEA_IRIS_PORT; when CORNEA_IRIS_PORT is unset, ports 7100-7104 are tried
in order.`,
	Version: version.Version,
	Example: `  # List the top-level instance tree
  cornea child-list

  # List every register and parameter descriptor on a CPU instance
  cornea resource-list top.cluster0.cpu0

  # Hex-dump 64 bytes of memory grouped into 32-bit words
  cornea memory-read top.cluster0.cpu0 80000000 40 --group-by u32

  # Bridge to GDB over stdio
  cornea gdb-proxy top.cluster0.cpu0`,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("cornea %s\n", version.Full())
	},
}
