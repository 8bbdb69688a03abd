package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SubmitCmd returns the submit command.
func SubmitCmd() *cobra.Command {
	var requesterID string

	cmd := &cobra.Command{
		Use:   "submit <subject-id>",
		Short: "Submit an analysis request for a subject",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.service.SubmitAnalysis(cmd.Context(), args[0], requesterID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "submitted job %s for subject %s\n", job.ID, job.SubjectID)
			return nil
		},
	}
	cmd.Flags().StringVar(&requesterID, "requester", "", "identifier of the requesting party")
	return cmd
}
