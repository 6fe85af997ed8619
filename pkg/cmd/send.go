package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/bulkmail/pkg/digest"
	"github.com/telekom/bulkmail/pkg/dispatch"
	"github.com/telekom/bulkmail/pkg/mail"
	"github.com/telekom/bulkmail/pkg/metrics"
)

const shutdownTimeout = 30 * time.Second

type sendOptions struct {
	subject     string
	body        string
	bodyFile    string
	text        string
	textFile    string
	recipients  string
	metricsAddr string
	noDigest    bool
}

func NewSendCommand() *cobra.Command {
	var opts sendOptions

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message to every address in the recipient list",
		Long: `Send one message to every address in the recipient list over a single SMTP
session, pacing sends and refreshing the session after every batch.

The log digest scheduler runs alongside the dispatch unless it is disabled.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.shutdown()
			return runSend(cmd.Context(), rt, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.subject, "subject", "s", "", "Message subject")
	cmd.Flags().StringVarP(&opts.body, "body", "b", "", "HTML message body")
	cmd.Flags().StringVar(&opts.bodyFile, "body-file", "", "Read the HTML body from a file")
	cmd.Flags().StringVar(&opts.text, "text", "", "Plain text body (derived from the HTML body when omitted)")
	cmd.Flags().StringVar(&opts.textFile, "text-file", "", "Read the plain text body from a file")
	cmd.Flags().StringVar(&opts.recipients, "recipients", "", "Recipient list path (overrides paths.recipientsFile)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run, e.g. :9090")
	cmd.Flags().BoolVar(&opts.noDigest, "no-digest", false, "Do not run the log digest scheduler")
	_ = cmd.MarkFlagRequired("subject")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	cmd.MarkFlagsMutuallyExclusive("text", "text-file")

	return cmd
}

func runSend(parent context.Context, rt *runtimeState, opts sendOptions) error {
	if err := rt.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	htmlBody, err := valueOrFile(opts.body, opts.bodyFile)
	if err != nil {
		return err
	}
	if htmlBody == "" {
		return errors.New("a message body is required: use --body or --body-file")
	}
	plainBody, err := valueOrFile(opts.text, opts.textFile)
	if err != nil {
		return err
	}
	recipients := rt.cfg.Paths.RecipientsFile
	if opts.recipients != "" {
		recipients = opts.recipients
	}

	ctx, stop := notifyContext(parent)
	defer stop()

	dialer := mail.NewDialer(rt.cfg.SMTP, rt.log)
	retrying := mail.NewRetryingConnector(dialer, mail.RetryPolicyFromConfig(rt.cfg.Retry), nil, rt.log)

	if opts.metricsAddr != "" {
		srv, err := startMetricsServer(opts.metricsAddr, rt.log)
		if err != nil {
			return err
		}
		defer shutdownServer(srv, rt.log)
	}

	if !rt.cfg.Digest.Disabled && !opts.noDigest {
		job := digest.NewJob(mail.NewDialer(rt.cfg.SMTP, rt.log), digest.OptionsFromConfig(rt.cfg), rt.log)
		if err := job.Start(ctx); err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = job.Stop(sctx)
		}()
	}

	d := dispatch.NewDispatcher(dialer, retrying, dispatch.Options{
		Sender:    rt.cfg.Sender,
		Signature: rt.cfg.Signature,
		Policy:    dispatch.PolicyFromConfig(rt.cfg.Pacing),
		Host:      rt.cfg.SMTP.Host,
	}, rt.log)

	report, runErr := d.Run(ctx, dispatch.Job{
		RecipientsPath: recipients,
		Subject:        opts.subject,
		HTMLBody:       htmlBody,
		PlainBody:      plainBody,
	})

	w := rt.Writer()
	_, _ = fmt.Fprintf(w, "Sent %d of %d messages (%d failed, %d batch pauses, %d reconnects)\n",
		report.Succeeded, report.Total, report.Failed, report.BatchPauses, report.Reconnects)
	for _, f := range report.Failures {
		_, _ = fmt.Fprintf(w, "  failed: %s: %v\n", f.Recipient, f.Err)
	}
	return runErr
}

func valueOrFile(value, path string) (string, error) {
	if path == "" {
		return value, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

// notifyContext cancels on the first SIGINT or SIGTERM. Default signal
// handling is restored right after, so a second signal terminates.
func notifyContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

func startMetricsServer(addr string, log *zap.SugaredLogger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("Metrics server failed", "error", err)
		}
	}()
	log.Infow("Serving metrics", "addr", ln.Addr().String())
	return srv, nil
}

func shutdownServer(srv *http.Server, log *zap.SugaredLogger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warnw("Metrics server shutdown failed", "error", err)
	}
}
