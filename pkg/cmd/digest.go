package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/bulkmail/pkg/digest"
	"github.com/telekom/bulkmail/pkg/mail"
)

func NewDigestCommand() *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "digest",
		Short: "Mail the tail of the dispatch log to the operator",
		Long: `Mail the last lines of the dispatch log to the operator address.

Without --once the scheduler runs on the configured interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.shutdown()
			return runDigest(cmd.Context(), rt, once)
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Send a single digest now and exit")

	return cmd
}

func runDigest(parent context.Context, rt *runtimeState, once bool) error {
	if err := rt.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := notifyContext(parent)
	defer stop()

	job := digest.NewJob(mail.NewDialer(rt.cfg.SMTP, rt.log), digest.OptionsFromConfig(rt.cfg), rt.log)
	if once {
		if err := job.RunOnce(ctx); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(rt.Writer(), "Digest sent to %s\n", rt.cfg.Digest.Operator)
		return nil
	}

	if err := job.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return job.Stop(sctx)
}
