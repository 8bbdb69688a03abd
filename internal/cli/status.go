package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StatusCmd returns the status command: poll one job by ID.
func StatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status and progress of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.service.JobStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "job %s  subject=%s  status=%s  progress=%d%%\n",
				job.ID, job.SubjectID, job.Status, job.Progress)
			if job.Diagnostic != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  diagnostic: %s\n", job.Diagnostic)
			}
			return nil
		},
	}
}

// JobsCmd returns the jobs command: list a subject's jobs, newest first.
func JobsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jobs <subject-id>",
		Short: "List a subject's jobs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			jobs, err := a.service.JobsBySubject(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, job := range jobs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d%%  %s\n",
					job.ID, job.Status, job.Progress, job.LastModified.Format("2006-01-02T15:04:05Z"))
			}
			return nil
		},
	}
}

// DeadLettersCmd returns the deadletters command.
func DeadLettersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deadletters",
		Short: "List messages held in the dead-letter queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			held, err := a.service.DeadLetters(cmd.Context())
			if err != nil {
				return err
			}
			if len(held) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "dead-letter queue is empty")
				return nil
			}
			for i, msg := range held {
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s\n    %s\n", i, msg.Diagnostic, string(msg.Body))
			}
			return nil
		},
	}
}
