package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/telekom/bulkmail/pkg/config"
	"github.com/telekom/bulkmail/pkg/mail"
	"github.com/telekom/bulkmail/pkg/metrics"
)

// State is the dispatcher's position in its run lifecycle.
type State string

const (
	StateIdle            State = "Idle"
	StateConnecting      State = "Connecting"
	StateConnected       State = "Connected"
	StateSending         State = "Sending"
	StatePausingForBatch State = "PausingForBatch"
	StateRecovering      State = "RecoveringFromError"
	StateTerminated      State = "Terminated"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a dispatch run is already in progress")

// FatalSetupError aborts a run: the recipient list was unreadable or no
// session could be established.
type FatalSetupError struct {
	Stage string
	Err   error
}

func (e *FatalSetupError) Error() string {
	return fmt.Sprintf("dispatch aborted during %s: %v", e.Stage, e.Err)
}

func (e *FatalSetupError) Unwrap() error { return e.Err }

// Policy is the pacing applied to a run.
type Policy struct {
	BatchSize       int
	InterSendDelay  time.Duration
	InterBatchPause time.Duration
	// MaxPerHour caps the overall rate on top of the fixed delays; 0 disables it.
	MaxPerHour int
	// Refresh is config.RefreshAbort or config.RefreshTolerate.
	Refresh string
}

// PolicyFromConfig converts the pacing section of the config.
func PolicyFromConfig(p config.Pacing) Policy {
	return Policy{
		BatchSize:       p.BatchSize,
		InterSendDelay:  p.InterSendDelay.Std(),
		InterBatchPause: p.InterBatchPause.Std(),
		MaxPerHour:      p.MaxPerHour,
		Refresh:         p.RefreshPolicy,
	}
}

// Options configures a Dispatcher.
type Options struct {
	Sender    string
	Signature config.Signature
	Policy    Policy
	// Host labels metrics.
	Host string
	// Clock drives the pacing sleeps. Nil means the real clock.
	Clock clock.Clock
}

// Job is one dispatch run's input.
type Job struct {
	RecipientsPath string
	Subject        string
	HTMLBody       string
	// PlainBody is optional; it is derived from HTMLBody when empty.
	PlainBody string
}

// Counters track a run's progress. Succeeded never decreases and never
// exceeds Total; InBatch resets after every forced pause.
type Counters struct {
	Total       int
	Attempted   int
	Succeeded   int
	Failed      int
	InBatch     int
	BatchPauses int
	Reconnects  int
}

// RecipientFailure records one skipped recipient.
type RecipientFailure struct {
	Index     int
	Recipient string
	Err       error
}

// Report is the outcome of a run.
type Report struct {
	// RunID correlates the run's log lines.
	RunID string
	Counters
	Failures []RecipientFailure
}

// Dispatcher sends one message per recipient over a single SMTP session,
// strictly sequentially. It owns at most one live session at a time.
type Dispatcher struct {
	single   mail.Connector
	retrying mail.Connector
	opts     Options
	limiter  *rate.Limiter
	baseLog  *zap.SugaredLogger
	log      *zap.SugaredLogger

	mu      sync.RWMutex
	state   State
	running bool

	conn mail.Conn
}

// NewDispatcher creates a Dispatcher. single makes exactly one connect
// attempt (used for mid-run recovery); retrying is used for the initial
// session and, with the abort refresh policy, after batch pauses.
func NewDispatcher(single, retrying mail.Connector, opts Options, log *zap.SugaredLogger) *Dispatcher {
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Policy.BatchSize < 1 {
		opts.Policy.BatchSize = 1
	}
	if opts.Policy.Refresh == "" {
		opts.Policy.Refresh = config.RefreshAbort
	}
	d := &Dispatcher{
		single:   single,
		retrying: retrying,
		opts:     opts,
		baseLog:  log.Named("dispatch"),
		log:      log.Named("dispatch"),
		state:    StateIdle,
	}
	if opts.Policy.MaxPerHour > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(float64(opts.Policy.MaxPerHour)/3600), 1)
	}
	return d
}

// State returns the current lifecycle state.
func (d *Dispatcher) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Dispatcher) setState(s State) {
	d.mu.Lock()
	prev := d.state
	d.state = s
	d.mu.Unlock()
	if prev != s {
		d.log.Debugw("Dispatcher state changed", "from", prev, "to", s)
	}
}

// Run loads the recipient list and sends one message to every address.
// Only fatal errors are returned: an unreadable list, an exhausted initial
// connect, an exhausted batch reconnect under the abort policy, or context
// cancellation. Per-recipient failures are logged, tallied in the report and
// skipped. Whatever the outcome, a live session is closed exactly once.
func (d *Dispatcher) Run(ctx context.Context, job Job) (Report, error) {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return Report{}, ErrRunInProgress
	}
	d.running = true
	d.mu.Unlock()

	report := Report{RunID: uuid.NewString()}
	d.log = d.baseLog.With("runID", report.RunID)
	defer func() {
		d.closeConn("run finished")
		d.setState(StateTerminated)
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
	}()

	d.setState(StateIdle)
	recipients, err := LoadRecipients(job.RecipientsPath)
	if err != nil {
		d.log.Errorw("Recipient list could not be loaded", "path", job.RecipientsPath, "error", err)
		return report, &FatalSetupError{Stage: "recipient list load", Err: err}
	}
	report.Total = len(recipients)
	d.log.Infow("Loaded recipient list", "path", job.RecipientsPath, "recipients", report.Total)

	d.setState(StateConnecting)
	conn, err := d.retrying.Connect(ctx)
	if err != nil {
		d.log.Errorw("Could not establish initial SMTP session", "error", err)
		return report, &FatalSetupError{Stage: "initial connect", Err: err}
	}
	d.conn = conn
	d.setState(StateConnected)

	for i, recipient := range recipients {
		if err := ctx.Err(); err != nil {
			d.log.Warnw("Dispatch cancelled", "sent", report.Succeeded, "total", report.Total)
			return report, err
		}

		if report.InBatch >= d.opts.Policy.BatchSize {
			if err := d.refresh(ctx, &report); err != nil {
				return report, err
			}
		}

		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				return report, err
			}
		}

		d.setState(StateSending)
		report.Attempted++
		d.log.Infow("Preparing message", "recipient", recipient, "index", i+1, "total", report.Total)
		msg := mail.NewOutboundMessage(d.opts.Sender, recipient, job.Subject, job.HTMLBody, job.PlainBody, d.opts.Signature)

		if err := d.send(msg); err != nil {
			report.Failed++
			report.Failures = append(report.Failures, RecipientFailure{Index: i, Recipient: recipient, Err: err})
			metrics.MessagesFailed.WithLabelValues(d.opts.Host).Inc()
			d.log.Errorw("Failed to send message", "recipient", recipient, "error", err)
			d.recover(ctx, &report)
			continue
		}

		report.Succeeded++
		report.InBatch++
		metrics.MessagesSent.WithLabelValues(d.opts.Host).Inc()
		d.log.Infow("Message sent", "recipient", recipient, "sent", report.Succeeded, "total", report.Total)
		d.setState(StateConnected)

		if report.InBatch < d.opts.Policy.BatchSize {
			if err := d.sleep(ctx, d.opts.Policy.InterSendDelay); err != nil {
				return report, err
			}
		}
	}

	if report.InBatch >= d.opts.Policy.BatchSize {
		// Final batch boundary: nothing follows, so no pause and no reconnect.
		report.BatchPauses++
		report.InBatch = 0
		metrics.BatchPauses.WithLabelValues(d.opts.Host).Inc()
		d.closeConn("final batch complete")
	}

	d.log.Infow(fmt.Sprintf("Dispatch finished: %d of %d messages sent", report.Succeeded, report.Total),
		"failed", report.Failed,
		"batchPauses", report.BatchPauses,
		"reconnects", report.Reconnects)
	return report, nil
}

func (d *Dispatcher) send(msg mail.OutboundMessage) error {
	if d.conn == nil {
		return mail.ErrNoSession
	}
	return d.conn.Send(msg)
}

// refresh pauses at a batch boundary and replaces the session.
func (d *Dispatcher) refresh(ctx context.Context, report *Report) error {
	d.setState(StatePausingForBatch)
	report.BatchPauses++
	metrics.BatchPauses.WithLabelValues(d.opts.Host).Inc()
	d.log.Infow("Batch limit reached, pausing before reconnecting",
		"batchSize", d.opts.Policy.BatchSize,
		"pause", d.opts.Policy.InterBatchPause)
	if err := d.sleep(ctx, d.opts.Policy.InterBatchPause); err != nil {
		return err
	}
	report.InBatch = 0

	d.closeConn("batch refresh")
	d.setState(StateConnecting)
	d.log.Info("Refreshing SMTP session")

	if d.opts.Policy.Refresh == config.RefreshTolerate {
		conn, err := d.single.Connect(ctx)
		if err != nil {
			// The next send fails with ErrNoSession and goes through recovery.
			d.log.Errorw("Reconnect after batch pause failed, continuing without a live session", "error", err)
			return nil
		}
		d.conn = conn
	} else {
		conn, err := d.retrying.Connect(ctx)
		if err != nil {
			d.log.Errorw("Reconnect after batch pause exhausted, aborting run",
				"remaining", report.Total-report.Attempted,
				"error", err)
			return &FatalSetupError{Stage: "batch reconnect", Err: err}
		}
		d.conn = conn
	}

	report.Reconnects++
	d.setState(StateConnected)
	d.log.Info("SMTP session refreshed")
	return nil
}

// recover replaces the session after a failed send with a single attempt.
// A failed attempt leaves the dispatcher without a session.
func (d *Dispatcher) recover(ctx context.Context, report *Report) {
	d.setState(StateRecovering)
	d.closeConn("error recovery")

	conn, err := d.single.Connect(ctx)
	if err != nil {
		metrics.SessionRecoveries.WithLabelValues(d.opts.Host, "failure").Inc()
		d.log.Errorw("Failed to re-establish SMTP session after send error", "error", err)
		return
	}
	d.conn = conn
	report.Reconnects++
	metrics.SessionRecoveries.WithLabelValues(d.opts.Host, "success").Inc()
	d.setState(StateConnected)
	d.log.Info("SMTP session re-established after send error")
}

// closeConn offers the current session its single close. Errors are logged
// and never change control flow.
func (d *Dispatcher) closeConn(reason string) {
	if d.conn == nil {
		return
	}
	conn := d.conn
	d.conn = nil
	if err := conn.Close(); err != nil {
		d.log.Warnw("Error closing SMTP session", "reason", reason, "error", err)
		return
	}
	d.log.Debugw("SMTP session closed", "reason", reason)
}

// sleep waits for dur on the dispatcher's clock. Cancellation ends the wait
// early and is returned.
func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return ctx.Err()
	}
	t := d.opts.Clock.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
