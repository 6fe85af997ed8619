package digest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/bulkmail/pkg/config"
	"github.com/telekom/bulkmail/pkg/mail"
	"github.com/telekom/bulkmail/pkg/metrics"
)

// ErrAlreadyStarted is returned by Start when the scheduler is running.
var ErrAlreadyStarted = errors.New("digest job already started")

// Options configures a Job.
type Options struct {
	LogPath       string
	Sender        string
	Operator      string
	SubjectPrefix string
	Lines         int
	Interval      time.Duration
	// Clock drives the ticker. Nil means the real clock.
	Clock clock.WithTicker
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		LogPath:       cfg.Paths.LogFile,
		Sender:        cfg.Sender,
		Operator:      cfg.Digest.Operator,
		SubjectPrefix: cfg.Digest.SubjectPrefix,
		Lines:         cfg.Digest.Lines,
		Interval:      cfg.Digest.Interval.Std(),
	}
}

// Job periodically mails the tail of the dispatch log to the operator. Every
// run uses its own short-lived session. Failures are logged and swallowed.
type Job struct {
	connector mail.Connector
	opts      Options
	log       *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewJob creates a digest Job.
func NewJob(connector mail.Connector, opts Options, log *zap.SugaredLogger) *Job {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	return &Job{
		connector: connector,
		opts:      opts,
		log:       log.Named("digest"),
	}
}

// RunOnce tails the log, composes the digest and sends it over a fresh
// session that is closed before returning.
func (j *Job) RunOnce(ctx context.Context) error {
	err := j.runOnce(ctx)
	if err != nil {
		metrics.DigestSends.WithLabelValues("failure").Inc()
		return err
	}
	metrics.DigestSends.WithLabelValues("success").Inc()
	return nil
}

func (j *Job) runOnce(ctx context.Context) error {
	lines, err := Tail(j.opts.LogPath, j.opts.Lines)
	if err != nil {
		return err
	}
	digest, err := Compose(j.opts.SubjectPrefix, lines, j.opts.Clock.Now())
	if err != nil {
		return err
	}

	conn, err := j.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting for digest: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			j.log.Warnw("Error closing digest session", "error", cerr)
		}
	}()

	msg := mail.NewOutboundMessage(j.opts.Sender, j.opts.Operator, digest.Subject, digest.HTMLBody, digest.PlainBody, config.Signature{})
	if err := conn.Send(msg); err != nil {
		return fmt.Errorf("sending digest: %w", err)
	}
	j.log.Infow("Log digest sent", "operator", j.opts.Operator, "lines", len(lines))
	return nil
}

// Start schedules RunOnce every Interval until ctx is done or Stop is called.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	ticker := j.opts.Clock.NewTicker(j.opts.Interval)

	j.wg.Add(1)
	go j.worker(ctx, ticker)
	j.log.Infow("Log digest scheduler started",
		"interval", j.opts.Interval,
		"operator", j.opts.Operator,
		"lines", j.opts.Lines)
	return nil
}

func (j *Job) worker(ctx context.Context, ticker clock.Ticker) {
	defer j.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.log.Info("Log digest scheduler shutting down")
			return
		case <-ticker.C():
			j.fire(ctx)
		}
	}
}

func (j *Job) fire(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DigestSends.WithLabelValues("failure").Inc()
			j.log.Errorw("panic in log digest job recovered", "panic", r)
		}
	}()
	if err := j.RunOnce(ctx); err != nil {
		j.log.Errorw("Log digest failed", "error", err)
	}
}

// Stop cancels the scheduler and waits for an in-flight digest to finish.
func (j *Job) Stop(ctx context.Context) error {
	j.mu.Lock()
	cancel := j.cancel
	j.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.log.Info("Log digest scheduler stopped")
		return nil
	case <-ctx.Done():
		j.log.Warn("Log digest scheduler shutdown timed out")
		return ctx.Err()
	}
}
