package mail

import (
	"context"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/bulkmail/pkg/config"
)

// RetryPolicy controls how often and how patiently a session is established.
type RetryPolicy struct {
	// MaxAttempts is the total number of connect attempts (values below 1 mean 1).
	MaxAttempts int
	// Delay is slept between failed attempts, never after the last one.
	Delay time.Duration
	// RetryAuthFailures keeps retrying after the server rejected the credentials.
	RetryAuthFailures bool
}

// RetryPolicyFromConfig converts the retry section of the config.
func RetryPolicyFromConfig(r config.Retry) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       r.MaxAttempts,
		Delay:             r.Delay.Std(),
		RetryAuthFailures: r.RetryAuthFailures,
	}
}

// RetryingConnector wraps a Connector with a bounded number of attempts and
// a fixed delay between them.
type RetryingConnector struct {
	next   Connector
	policy RetryPolicy
	clock  clock.Clock
	log    *zap.SugaredLogger
}

// NewRetryingConnector creates a RetryingConnector. A nil clock means the
// real clock.
func NewRetryingConnector(next Connector, policy RetryPolicy, clk clock.Clock, log *zap.SugaredLogger) *RetryingConnector {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &RetryingConnector{next: next, policy: policy, clock: clk, log: log}
}

// Connect tries to open a session up to MaxAttempts times. On exhaustion it
// returns a *ConnectError carrying the last cause.
func (r *RetryingConnector) Connect(ctx context.Context) (Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.log.Infow("Attempting to connect to SMTP server",
			"attempt", attempt,
			"maxAttempts", r.policy.MaxAttempts)

		conn, err := r.next.Connect(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if IsAuthError(err) && !r.policy.RetryAuthFailures {
			r.log.Errorw("SMTP authentication failed, check username and password",
				"attempt", attempt,
				"error", err)
			return nil, &ConnectError{Attempts: attempt, Err: err}
		}

		r.log.Errorw("Connection attempt failed",
			"attempt", attempt,
			"maxAttempts", r.policy.MaxAttempts,
			"error", err)
		if attempt < r.policy.MaxAttempts && r.policy.Delay > 0 {
			r.log.Infow("Waiting before retrying", "delay", r.policy.Delay)
			if err := r.wait(ctx); err != nil {
				return nil, err
			}
		}
	}
	return nil, &ConnectError{Attempts: r.policy.MaxAttempts, Err: lastErr}
}

func (r *RetryingConnector) wait(ctx context.Context) error {
	t := r.clock.NewTimer(r.policy.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}
