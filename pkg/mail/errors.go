package mail

import (
	"errors"
	"fmt"
	"net/textproto"
)

var (
	// ErrNoSession is returned when a send is attempted without a live session,
	// e.g. after a failed reconnect left the dispatcher without a connection.
	ErrNoSession = errors.New("no live smtp session")
	// ErrConnectExhausted is matched by every *ConnectError.
	ErrConnectExhausted = errors.New("smtp connect attempts exhausted")
)

// AuthError reports that the server rejected the configured credentials.
// It is never worth retrying.
type AuthError struct {
	Host string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("smtp authentication against %s failed: %v", e.Host, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransientError wraps network, TLS and generic protocol failures that may
// succeed on a later attempt.
type TransientError struct {
	Host string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("smtp connect to %s failed: %v", e.Host, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ConnectError is returned by the Connector after the last allowed attempt
// failed. Err is the cause of that last attempt.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to smtp server after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectExhausted }

// IsAuthError reports whether err (or anything it wraps) is an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// authReplyCodes are the SMTP replies a server uses to reject AUTH.
var authReplyCodes = map[int]struct{}{
	530: {}, // authentication required
	534: {}, // mechanism too weak
	535: {}, // credentials invalid
}

// classifyDialError sorts a failed dial, TLS negotiation or AUTH exchange
// into the auth or transient bucket.
func classifyDialError(host string, err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if _, ok := authReplyCodes[tpErr.Code]; ok {
			return &AuthError{Host: host, Err: err}
		}
	}
	return &TransientError{Host: host, Err: err}
}
