package mail

import (
	"context"
	"errors"
	"net/textproto"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	testingclock "k8s.io/utils/clock/testing"
)

type nopConn struct{}

func (nopConn) Send(OutboundMessage) error { return nil }
func (nopConn) Close() error               { return nil }

// advanceWhileWaiting steps clk one second at a time whenever a timer is
// pending, until the test ends.
func advanceWhileWaiting(t *testing.T, clk *testingclock.FakeClock) {
	t.Helper()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-done:
				return
			default:
			}
			if clk.HasWaiters() {
				clk.Step(time.Second)
				continue
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()
	t.Cleanup(func() {
		close(done)
		<-stopped
	})
}

// scriptedConnector returns the scripted errors in order, then succeeds.
type scriptedConnector struct {
	errs  []error
	calls int
}

func (s *scriptedConnector) Connect(context.Context) (Conn, error) {
	s.calls++
	if s.calls <= len(s.errs) {
		return nil, s.errs[s.calls-1]
	}
	return nopConn{}, nil
}

func transient(msg string) error {
	return &TransientError{Host: "smtp.example.com", Err: errors.New(msg)}
}

func authFailure() error {
	return &AuthError{Host: "smtp.example.com", Err: &textproto.Error{Code: 535, Msg: "invalid"}}
}

func TestRetryingConnector(t *testing.T) {
	tests := []struct {
		name         string
		errs         []error
		policy       RetryPolicy
		wantErr      bool
		wantAuth     bool
		wantCalls    int
		wantAttempts int
		wantElapsed  time.Duration
	}{
		{
			name:        "first attempt succeeds",
			policy:      RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second},
			wantCalls:   1,
			wantElapsed: 0,
		},
		{
			name:        "succeeds after two transient failures",
			errs:        []error{transient("reset"), transient("timeout")},
			policy:      RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second},
			wantCalls:   3,
			wantElapsed: 10 * time.Second,
		},
		{
			name:         "exhausted without sleeping after the last attempt",
			errs:         []error{transient("a"), transient("b"), transient("c")},
			policy:       RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second},
			wantErr:      true,
			wantCalls:    3,
			wantAttempts: 3,
			wantElapsed:  10 * time.Second,
		},
		{
			name:         "auth failure short-circuits",
			errs:         []error{authFailure(), authFailure(), authFailure()},
			policy:       RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second},
			wantErr:      true,
			wantAuth:     true,
			wantCalls:    1,
			wantAttempts: 1,
			wantElapsed:  0,
		},
		{
			name:         "auth failure retried when configured",
			errs:         []error{authFailure(), authFailure(), authFailure()},
			policy:       RetryPolicy{MaxAttempts: 3, Delay: 5 * time.Second, RetryAuthFailures: true},
			wantErr:      true,
			wantAuth:     true,
			wantCalls:    3,
			wantAttempts: 3,
			wantElapsed:  10 * time.Second,
		},
		{
			name:         "zero attempts means one",
			errs:         []error{transient("a")},
			policy:       RetryPolicy{MaxAttempts: 0, Delay: time.Second},
			wantErr:      true,
			wantCalls:    1,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
			clk := testingclock.NewFakeClock(start)
			advanceWhileWaiting(t, clk)
			next := &scriptedConnector{errs: tt.errs}
			rc := NewRetryingConnector(next, tt.policy, clk, zap.NewNop().Sugar())

			conn, err := rc.Connect(context.Background())

			assert.Equal(t, tt.wantCalls, next.calls)
			assert.Equal(t, tt.wantElapsed, clk.Since(start))
			if !tt.wantErr {
				require.NoError(t, err)
				assert.NotNil(t, conn)
				return
			}
			require.Error(t, err)
			assert.Nil(t, conn)
			assert.ErrorIs(t, err, ErrConnectExhausted)
			var ce *ConnectError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.wantAttempts, ce.Attempts)
			assert.Equal(t, tt.wantAuth, IsAuthError(err))
			assert.ErrorIs(t, err, tt.errs[tt.wantCalls-1], "last cause must be reported")
		})
	}
}

func TestRetryingConnectorStopsOnCancelledContext(t *testing.T) {
	next := &scriptedConnector{}
	rc := NewRetryingConnector(next, RetryPolicy{MaxAttempts: 3}, testingclock.NewFakeClock(time.Now()), zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rc.Connect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, next.calls)
}

func TestRetryingConnectorWaitIsCancellable(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clk := testingclock.NewFakeClock(start)
	next := &scriptedConnector{errs: []error{transient("refused"), transient("refused")}}
	rc := NewRetryingConnector(next, RetryPolicy{MaxAttempts: 3, Delay: time.Hour}, clk, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		for !clk.HasWaiters() {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	_, err := rc.Connect(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
	assert.Equal(t, time.Duration(0), clk.Since(start), "the retry delay must not have elapsed")
}
