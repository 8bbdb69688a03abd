package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"carechain/internal/cli"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "carechain",
		Short: "carechain - asynchronous clinical analysis with chained provenance",
		Long: `carechain accepts analysis requests over a durable queue, synthesizes
multi-perspective summaries from clinical snapshots, and anchors every
result on a hash-linked provenance chain.`,
	}

	rootCmd.AddCommand(cli.WorkerCmd())
	rootCmd.AddCommand(cli.SubmitCmd())
	rootCmd.AddCommand(cli.StatusCmd())
	rootCmd.AddCommand(cli.JobsCmd())
	rootCmd.AddCommand(cli.LatestCmd())
	rootCmd.AddCommand(cli.ChainCmd())
	rootCmd.AddCommand(cli.VerifyCmd())
	rootCmd.AddCommand(cli.DeadLettersCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
