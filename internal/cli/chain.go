package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// ChainCmd returns the chain command: print an analysis's record history.
func ChainCmd() *cobra.Command {
	var maxDepth int

	cmd := &cobra.Command{
		Use:   "chain <analysis-id>",
		Short: "Print the provenance chain of an analysis, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			chain, err := a.service.Chain(cmd.Context(), args[0], maxDepth)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, rec := range chain.Records {
				if err := enc.Encode(rec); err != nil {
					return err
				}
			}
			if chain.Broken {
				fmt.Fprintf(cmd.ErrOrStderr(),
					"warning: link %s is unresolvable; older history is unreachable\n", chain.BrokenRef)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxDepth, "max-depth", 0, "walk at most this many records (0 = default bound)")
	return cmd
}

// LatestCmd returns the latest command: print a subject's head record.
func LatestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latest <subject-id>",
		Short: "Print the subject's most recent provenance record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.service.Latest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		},
	}
}
