// Package mailtest provides a minimal in-process SMTP server for tests.
package mailtest

import (
	"bufio"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"testing"
	"time"
)

// Options controls how the test server answers.
type Options struct {
	// ImplicitTLS wraps the listener in TLS, as on port 465.
	ImplicitTLS bool
	// StartTLS makes EHLO announce STARTTLS on a plaintext connection.
	StartTLS bool
	// AdvertiseAuth makes EHLO announce AUTH PLAIN LOGIN so clients with a
	// username authenticate.
	AdvertiseAuth bool
	// RejectAuth answers every AUTH with 535.
	RejectAuth bool
	// RejectRecipients answers RCPT TO for these addresses with 550.
	RejectRecipients []string
	// StallAfterRcpt stops answering anything once a RCPT TO was accepted.
	StallAfterRcpt bool
}

// Message is one message accepted through DATA.
type Message struct {
	From string
	To   []string
	Data string
}

// Server is a minimal SMTP server listening on 127.0.0.1 with a self-signed
// certificate. It accepts any number of connections and messages per
// connection.
type Server struct {
	Host string
	Port int

	opts      Options
	tlsConfig *tls.Config
	ln        net.Listener
	wg        sync.WaitGroup

	mu             sync.Mutex
	messages       []Message
	connections    int
	authCount      int
	plaintextAuths int
	tlsUpgrades    int
	open           map[net.Conn]struct{}
	closed         bool
}

// NewServer starts a server on a random port. It is closed automatically when
// the test finishes.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	cert, err := selfSignedCert()
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &Server{
		Host:      "127.0.0.1",
		Port:      addr.Port,
		opts:      opts,
		tlsConfig: tlsConfig,
		ln:        ln,
		open:      map[net.Conn]struct{}{},
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Messages returns a copy of the accepted messages in arrival order.
func (s *Server) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Connections returns how many connections were accepted.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// AuthAttempts returns how many AUTH commands were received.
func (s *Server) AuthAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authCount
}

// PlaintextAuthAttempts returns how many AUTH commands arrived before TLS.
func (s *Server) PlaintextAuthAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plaintextAuths
}

// TLSUpgrades returns how many STARTTLS handshakes completed.
func (s *Server) TLSUpgrades() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tlsUpgrades
}

// Close stops the listener, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	_ = s.ln.Close()
	for c := range s.open {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.connections++
		s.open[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			s.handle(conn)
			s.mu.Lock()
			delete(s.open, conn)
			s.mu.Unlock()
		}()
	}
}

func (s *Server) rejected(addr string) bool {
	for _, r := range s.opts.RejectRecipients {
		if strings.EqualFold(r, addr) {
			return true
		}
	}
	return false
}

func (s *Server) handle(raw net.Conn) {
	conn := raw
	secure := false
	if s.opts.ImplicitTLS {
		conn = tls.Server(raw, s.tlsConfig)
		secure = true
	}
	defer func() { _ = conn.Close() }()

	r := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		_, _ = fmt.Fprintf(conn, format+"\r\n", args...)
	}

	reply("220 localhost Test SMTP Service Ready")
	var current Message
	stalled := false
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		if stalled {
			continue
		}
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)

		switch {
		case strings.HasPrefix(upper, "EHLO"), strings.HasPrefix(upper, "HELO"):
			var ext []string
			if s.opts.StartTLS && !secure {
				ext = append(ext, "STARTTLS")
			}
			if s.opts.AdvertiseAuth {
				ext = append(ext, "AUTH PLAIN LOGIN")
			}
			if len(ext) == 0 {
				reply("250 localhost Hello")
				continue
			}
			reply("250-localhost Hello")
			for i, e := range ext {
				if i == len(ext)-1 {
					reply("250 %s", e)
				} else {
					reply("250-%s", e)
				}
			}
		case upper == "STARTTLS":
			if !s.opts.StartTLS || secure {
				reply("502 5.5.1 STARTTLS not available")
				continue
			}
			reply("220 2.0.0 Ready to start TLS")
			tlsConn := tls.Server(conn, s.tlsConfig)
			if err := tlsConn.Handshake(); err != nil {
				return
			}
			conn = tlsConn
			r = bufio.NewReader(conn)
			secure = true
			current = Message{}
			s.mu.Lock()
			s.tlsUpgrades++
			s.mu.Unlock()
		case strings.HasPrefix(upper, "AUTH"):
			s.mu.Lock()
			s.authCount++
			if !secure {
				s.plaintextAuths++
			}
			s.mu.Unlock()
			if s.opts.RejectAuth {
				reply("535 5.7.8 Authentication credentials invalid")
			} else {
				reply("235 2.7.0 Authentication successful")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			current = Message{From: addressOf(line)}
			reply("250 OK")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := addressOf(line)
			if s.rejected(addr) {
				reply("550 5.1.1 <%s>: Recipient address rejected", addr)
				continue
			}
			current.To = append(current.To, addr)
			reply("250 OK")
			stalled = s.opts.StallAfterRcpt
		case upper == "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var data strings.Builder
			for {
				dline, derr := r.ReadString('\n')
				if derr != nil {
					return
				}
				if strings.TrimRight(dline, "\r\n") == "." {
					break
				}
				data.WriteString(dline)
			}
			current.Data = data.String()
			s.mu.Lock()
			s.messages = append(s.messages, current)
			s.mu.Unlock()
			current = Message{}
			reply("250 OK: queued")
		case upper == "RSET":
			current = Message{}
			reply("250 OK")
		case upper == "QUIT":
			reply("221 Bye")
			return
		case line == "*":
			reply("501 AUTH cancelled")
		default:
			reply("250 OK")
		}
	}
}

// addressOf extracts the address from "MAIL FROM:<a@b>" style commands.
func addressOf(line string) string {
	start := strings.Index(line, "<")
	end := strings.Index(line, ">")
	if start >= 0 && end > start {
		return line[start+1 : end]
	}
	if i := strings.Index(line, ":"); i >= 0 {
		return strings.TrimSpace(line[i+1:])
	}
	return line
}

func selfSignedCert() (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: "mailtest"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}
