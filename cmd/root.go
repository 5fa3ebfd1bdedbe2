// Package cmd wires netsim's cobra command tree, grounded on
// remote-procedure-call/cmd's root+subcommand shape.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const usage = `netsim simulates a peer-to-peer gossip network deterministically in
one process, interposing on a virtual socket/epoll surface driven by a
shared virtual-time kernel.

EXAMPLES:
  Start a 5-node simulation and run until interrupted:
    netsim simulate

  Start a 20-node simulation with a reproducible layout:
    netsim simulate --nodes 20 --seed 42`

var rootCmd = &cobra.Command{
	Use:   "netsim",
	Short: "A deterministic peer-to-peer gossip network simulator",
	Long:  usage,
}

// Execute runs the root command, exiting the process with a non-zero
// status on failure per spec.md §6 ("non-zero reserved for internal
// errors").
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(simulateCmd)
}
