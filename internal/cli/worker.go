package cli

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// WorkerCmd returns the worker command: the long-running consumer process.
func WorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run the analysis consumer until interrupted",
		Long: `Start the single-prefetch analysis consumer. The worker drains the
durable queue one message at a time, drives each job through snapshot
fetch, synthesis, and the provenance chain write, and acknowledges only
after the job reaches a terminal state.

SIGINT or SIGTERM stops consumption; the in-flight message is left
unacknowledged and redelivers on the next start.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			if a.metricsHandler != nil && a.cfg.Metrics.Addr != "" {
				srv := &http.Server{Addr: a.cfg.Metrics.Addr, Handler: a.metricsHandler}
				go func() {
					if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
						a.logger.Error("metrics listener stopped", "error", err)
					}
				}()
				defer srv.Shutdown(context.Background())
				a.logger.Info("metrics listener started", "addr", a.cfg.Metrics.Addr)
			}

			return a.manager.Run(ctx)
		},
	}
}
