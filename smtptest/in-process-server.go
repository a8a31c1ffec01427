package smtptest

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/emersion/go-smtp"
)

// Transaction is one message accepted by the server, along with the
// envelope it was declared with.
type Transaction struct {
	created time.Time
	From    string
	To      []string
	Body    string
}

// Backend implements smtp.Backend. It's a thin wrapper for an
// InMemoryEmailStore.
type Backend struct {
	*InMemoryEmailStore
}

// Login implements smtp.Backend. AUTH is disabled on the server, so this is
// never reached.
func (be *Backend) Login(_ *smtp.ConnectionState, username string, password string) (smtp.Session, error) {
	return nil, smtp.ErrAuthUnsupported
}

// AnonymousLogin implements smtp.Backend.
func (be *Backend) AnonymousLogin(_ *smtp.ConnectionState) (smtp.Session, error) {
	return be.InMemoryEmailStore, nil
}

// InMemoryEmailStore retains email bodies in memory for comparison against
// a test's expected output. Implements smtp.Session.
// Designed to be goroutine safe since we don't know how many goroutines will
// be hitting the server at once.
type InMemoryEmailStore struct {
	mu       *sync.Mutex
	messages []Transaction
	// the transaction in progress
	from   string
	to     []string
	reject map[string]struct{}
}

// Reset implements smtp.Session. Drops the transaction in progress.
func (es *InMemoryEmailStore) Reset() {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.from = ""
	es.to = nil
}

// Logout implements smtp.Session. No-op here.
func (es *InMemoryEmailStore) Logout() error { return nil }

// Mail implements smtp.Session.
func (es *InMemoryEmailStore) Mail(from string, _ smtp.MailOptions) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	es.from = from
	es.to = nil
	return nil
}

// Rcpt implements smtp.Session. Recipients the server was configured to
// reject get a permanent failure.
func (es *InMemoryEmailStore) Rcpt(to string) error {
	es.mu.Lock()
	defer es.mu.Unlock()
	if _, ok := es.reject[strings.ToLower(to)]; ok {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "No such user here",
		}
	}
	es.to = append(es.to, to)
	return nil
}

// Data implements smtp.Session. Stores the email data in memory for
// retrieval at the end of the test.
func (es *InMemoryEmailStore) Data(r io.Reader) error {
	// doubtful we'll get an email this big, but we need a limit
	var maxEmailSize int64 = 100 * units.MiB
	buf, err := io.ReadAll(io.LimitReader(r, maxEmailSize))
	if err != nil {
		return err
	}

	str := &strings.Builder{}
	if _, err := str.Write(buf); err != nil {
		return err
	}
	es.saveEmail(str.String())
	return nil
}

// Config controls how an InProcessServer behaves.
type Config struct {
	// Paths to a PEM-encoded key and certificate. If both are set, the
	// server speaks TLS from the first byte (implicit TLS).
	KeyPath  string
	CertPath string
	// Recipients to answer with 550
	RejectRecipients []string
}

var _ Server = &InProcessServer{}

// InProcessServer is an SMTP server that runs in the same process as the
// test suite, letting us inspect sent emails. You must initialize this
// via NewInProcessServer.
type InProcessServer struct {
	*smtp.Server
	// We're also using this as an smtp.Session, i.e., the Backend of the
	// *smtp.Server. This is kind of gross, but allows us to access the
	// *InMemoryEmailStore. Otherwise, we're stuck with *smtp.Server.Backend,
	// which just leaves us with the Backend interface methods.
	*InMemoryEmailStore
	listener net.Listener
}

// NewInProcessServer creates an InProcessServer listening on an ephemeral
// local port, including configuring its SMTP server to store incoming
// messages in memory. The server doesn't accept connections until Start.
func NewInProcessServer(c Config) (*InProcessServer, error) {
	is := &InMemoryEmailStore{
		mu:       &sync.Mutex{},
		messages: []Transaction{},
		reject:   make(map[string]struct{}),
	}
	for _, r := range c.RejectRecipients {
		is.reject[strings.ToLower(r)] = struct{}{}
	}

	srv := smtp.NewServer(&Backend{
		is,
	})

	srv.Domain = "localhost"
	srv.AuthDisabled = true
	srv.ReadTimeout = time.Duration(10) * time.Second
	srv.WriteTimeout = time.Duration(10) * time.Second
	// Strict is undocumented, but it looks like it enforces <address> syntax
	// in messages:
	// https://github.com/emersion/go-smtp/blob/f92bf7f1a25777bcdaa28a142b1cd1a54b74c8f4/conn.go#L321-L325
	srv.Strict = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}

	if c.KeyPath != "" && c.CertPath != "" {
		cert, err := tls.LoadX509KeyPair(c.CertPath, c.KeyPath)
		if err != nil {
			l.Close()
			return nil, err
		}
		tc := &tls.Config{
			Certificates: []tls.Certificate{cert},
		}
		l = tls.NewListener(l, tc)
	}
	srv.Addr = l.Addr().String()

	return &InProcessServer{
		srv,
		is,
		l,
	}, nil
}

// saveEmail stores the email body and the envelope it arrived with, along
// with a timestamp created just prior to saving
func (es *InMemoryEmailStore) saveEmail(bod string) {
	es.mu.Lock()
	defer es.mu.Unlock()

	to := make([]string, len(es.to))
	copy(to, es.to)
	es.messages = append(es.messages, Transaction{
		created: time.Now(),
		From:    es.from,
		To:      to,
		Body:    bod,
	})
}

// Start starts the test server. Blocking.
func (is *InProcessServer) Start() error {
	err := is.Server.Serve(is.listener)
	// Serve returns an error when Close stops it, which is expected
	if err != nil && !errors.Is(err, net.ErrClosed) && !strings.Contains(err.Error(), "closed") {
		return err
	}
	return nil
}

// Close shuts down the test server daemon. You must initialize a new
// InProcessServer instead of restarting this one.
func (is *InProcessServer) Close() {
	is.Server.Close()
	is.listener.Close()
}

// RetrieveEmails returns a slice of all message bodies (as strings)
// sent after epoch nanoseconds t
// Satisfies smtptest.Server but isn't expected to return an error.
func (es *InMemoryEmailStore) RetrieveEmails(t int64) ([]string, error) {
	es.mu.Lock()
	defer es.mu.Unlock()
	r := make([]string, 0, len(es.messages))
	for _, m := range es.messages {
		if m.created.UnixNano() >= t {
			r = append(r, m.Body)
		}
	}
	return r, nil
}

// Transactions returns every message accepted so far, in order.
func (es *InMemoryEmailStore) Transactions() []Transaction {
	es.mu.Lock()
	defer es.mu.Unlock()
	r := make([]Transaction, len(es.messages))
	copy(r, es.messages)
	return r
}

// Address returns the host:port of the test SMTP server.
func (is *InProcessServer) Address() string {
	return is.listener.Addr().String()
}

// HostPort returns the host and numeric port of the test SMTP server.
func (is *InProcessServer) HostPort() (string, int) {
	h, p, err := net.SplitHostPort(is.Address())
	if err != nil {
		return "", 0
	}
	n, _ := strconv.Atoi(p)
	return h, n
}
