package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/telekom/bulkmail/pkg/config"
	"github.com/telekom/bulkmail/pkg/metrics"
)

// DefaultTimeout bounds the handshake and each send when the config sets none.
const DefaultTimeout = 30 * time.Second

// Conn is one live, authenticated SMTP session.
type Conn interface {
	Send(msg OutboundMessage) error
	Close() error
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context) (Conn, error)
}

// Dialer opens a single SMTP session per Connect call. Port 465 (or an
// explicit ssl setting) dials implicit TLS. Any other port must upgrade with
// STARTTLS before authenticating; a server that does not offer it is refused.
// A Dialer holds no per-connection state and may be used concurrently.
type Dialer struct {
	cfg       config.SMTP
	tlsConfig *tls.Config
	timeout   time.Duration
	log       *zap.SugaredLogger
}

// NewDialer creates a Dialer for the configured mail host.
func NewDialer(cfg config.SMTP, log *zap.SugaredLogger) *Dialer {
	tlsConfig := &tls.Config{
		ServerName: cfg.Host,
		MinVersion: tls.VersionTLS12,
	}
	if cfg.InsecureSkipVerify {
		log.Warnw("TLS certificate verification is disabled for the SMTP connection", "host", cfg.Host)
		tlsConfig.InsecureSkipVerify = true //nolint:gosec // operator opt-out
	}
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	log.Infow("Initialized SMTP dialer",
		"host", cfg.Host,
		"port", cfg.Port,
		"user", cfg.Username,
		"implicitTLS", cfg.ImplicitTLS(),
		"timeout", timeout)
	return &Dialer{cfg: cfg, tlsConfig: tlsConfig, timeout: timeout, log: log}
}

// Host returns the configured mail host.
func (d *Dialer) Host() string { return d.cfg.Host }

// Port returns the configured mail port.
func (d *Dialer) Port() int { return d.cfg.Port }

// Connect dials, negotiates TLS and authenticates. Rejected credentials come
// back as *AuthError, everything else as *TransientError.
func (d *Dialer) Connect(ctx context.Context) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.log.Debugw("Dialing SMTP server", "host", d.cfg.Host, "port", d.cfg.Port)

	var raw net.Conn
	client, err := gomail.NewClient(d.cfg.Host, d.clientOptions(&raw)...)
	if err != nil {
		metrics.ConnectAttempts.WithLabelValues(d.cfg.Host, "error").Inc()
		return nil, &TransientError{Host: d.cfg.Host, Err: fmt.Errorf("configuring client: %w", err)}
	}

	if err := client.DialWithContext(ctx); err != nil {
		if raw != nil {
			_ = raw.Close()
		}
		classified := classifyDialError(d.cfg.Host, err)
		result := "error"
		if IsAuthError(classified) {
			result = "auth_error"
		}
		metrics.ConnectAttempts.WithLabelValues(d.cfg.Host, result).Inc()
		return nil, classified
	}

	metrics.ConnectAttempts.WithLabelValues(d.cfg.Host, "success").Inc()
	d.log.Infow("Connected to SMTP server", "host", d.cfg.Host, "port", d.cfg.Port)
	return &Session{client: client, raw: raw, timeout: d.timeout, host: d.cfg.Host, log: d.log}, nil
}

func (d *Dialer) clientOptions(raw *net.Conn) []gomail.Option {
	var opts []gomail.Option
	if d.cfg.ImplicitTLS() {
		opts = append(opts, gomail.WithSSL())
	} else {
		// Set before the port: the policy option rewrites the default port.
		opts = append(opts, gomail.WithTLSPortPolicy(gomail.TLSMandatory))
	}
	opts = append(opts,
		gomail.WithPort(d.cfg.Port),
		gomail.WithTLSConfig(d.tlsConfig),
		gomail.WithTimeout(d.timeout),
		gomail.WithDialContextFunc(d.dialContext(raw)),
	)
	if d.cfg.LocalName != "" {
		opts = append(opts, gomail.WithHELO(d.cfg.LocalName))
	}
	if d.cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(d.cfg.Username),
			gomail.WithPassword(d.cfg.Password),
		)
	}
	return opts
}

// dialContext opens the TCP (or implicit TLS) connection and puts a deadline
// on the greeting, STARTTLS and AUTH exchange. The connection is kept in raw
// so the session can move the deadline before every later command.
func (d *Dialer) dialContext(raw *net.Conn) gomail.DialContextFunc {
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		nd := &net.Dialer{Timeout: d.timeout}
		var (
			conn net.Conn
			err  error
		)
		if d.cfg.ImplicitTLS() {
			conn, err = (&tls.Dialer{NetDialer: nd, Config: d.tlsConfig}).DialContext(ctx, network, address)
		} else {
			conn, err = nd.DialContext(ctx, network, address)
		}
		if err != nil {
			return nil, err
		}
		if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
			_ = conn.Close()
			return nil, err
		}
		*raw = conn
		return conn, nil
	}
}

// Session wraps a connected go-mail client. Close is idempotent: the first
// call quits the connection, later calls return nil.
type Session struct {
	client  *gomail.Client
	raw     net.Conn
	timeout time.Duration
	host    string
	log     *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
}

// Send builds msg and transmits it. The whole exchange must finish within
// the session timeout.
func (s *Session) Send(msg OutboundMessage) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrNoSession
	}
	built, err := msg.Build()
	if err != nil {
		return err
	}
	s.extendDeadline()
	if err := s.client.Send(built); err != nil {
		return fmt.Errorf("sending to %s: %w", msg.Recipient, err)
	}
	return nil
}

// Close quits the SMTP session.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.extendDeadline()
	if err := s.client.Close(); err != nil {
		if s.raw != nil {
			_ = s.raw.Close()
		}
		metrics.SessionsClosed.WithLabelValues(s.host, "error").Inc()
		return fmt.Errorf("closing smtp session to %s: %w", s.host, err)
	}
	metrics.SessionsClosed.WithLabelValues(s.host, "success").Inc()
	s.log.Debugw("SMTP session closed", "host", s.host)
	return nil
}

// extendDeadline restarts the I/O deadline. An idle session between paced
// sends would otherwise already be past the previous one.
func (s *Session) extendDeadline() {
	if s.raw == nil {
		return
	}
	if err := s.raw.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		s.log.Debugw("Could not extend SMTP deadline", "host", s.host, "error", err)
	}
}
