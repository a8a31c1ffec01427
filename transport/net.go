package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// maxLineLength bounds a single line read from the relay so a misbehaving
// server can't make us buffer without limit. RFC 5321 only allows 512 bytes
// for a reply line, so this is generous.
const maxLineLength = 4096

// NetDialer connects to a relay over TCP, optionally speaking TLS from the
// first byte (implicit TLS, e.g., port 465).
type NetDialer struct {
	Host string
	Port int
	// Secure wraps the connection in TLS before any SMTP traffic.
	Secure bool
	// TLSConfig is used when Secure is true. Certificate validation is
	// whatever this config says it is. ServerName defaults to Host.
	TLSConfig *tls.Config
	// ConnectTimeout bounds establishing the connection, including the TLS
	// handshake. Zero means no bound other than the context's.
	ConnectTimeout time.Duration
	// ReadTimeout bounds every single read and write once connected, so a
	// silent relay can't stall a send forever. Zero disables it.
	ReadTimeout time.Duration
}

// Address returns host:port for the relay.
func (d NetDialer) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Dial connects to the relay. The returned Transport must be closed by the
// caller.
func (d NetDialer) Dial(ctx context.Context) (Transport, error) {
	if d.Host == "" {
		return nil, fmt.Errorf("no relay host to connect to")
	}
	if d.Port <= 0 || d.Port > 65535 {
		return nil, fmt.Errorf("invalid relay port %v", d.Port)
	}

	nd := &net.Dialer{
		Timeout: d.ConnectTimeout,
	}

	var (
		c   net.Conn
		err error
	)
	if d.Secure {
		var cfg *tls.Config
		if d.TLSConfig != nil {
			cfg = d.TLSConfig.Clone()
		} else {
			cfg = &tls.Config{}
		}
		if cfg.ServerName == "" {
			cfg.ServerName = d.Host
		}
		td := &tls.Dialer{
			NetDialer: nd,
			Config:    cfg,
		}
		c, err = td.DialContext(ctx, "tcp", d.Address())
	} else {
		c, err = nd.DialContext(ctx, "tcp", d.Address())
	}
	if err != nil {
		return nil, fmt.Errorf("can't connect to %v: %w", d.Address(), err)
	}

	log.Debug().
		Str("address", d.Address()).
		Bool("tls", d.Secure).
		Msg("connected to the relay")

	return NewConn(c, d.ReadTimeout), nil
}

// Conn is a Transport over a net.Conn.
type Conn struct {
	conn    net.Conn
	r       *bufio.Reader
	w       *bufio.Writer
	timeout time.Duration
	closed  bool
}

// NewConn wraps c. If timeout is positive, every read and write must
// complete within it.
func NewConn(c net.Conn, timeout time.Duration) *Conn {
	return &Conn{
		conn:    c,
		r:       bufio.NewReaderSize(c, maxLineLength),
		w:       bufio.NewWriter(c),
		timeout: timeout,
	}
}

// WriteLine writes line and CRLF, then flushes.
func (c *Conn) WriteLine(line string) error {
	if c.closed {
		return ErrClosed
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("line contains a line break: %q", line)
	}
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return err
		}
	}
	if _, err := c.w.WriteString(line); err != nil {
		return err
	}
	if _, err := c.w.WriteString("\r\n"); err != nil {
		return err
	}
	return c.w.Flush()
}

// ReadLine reads up to the next LF and strips the line ending.
func (c *Conn) ReadLine() (string, error) {
	if c.closed {
		return "", ErrClosed
	}
	if c.timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return "", err
		}
	}
	b, isPrefix, err := c.r.ReadLine()
	if err != nil {
		return "", err
	}
	if isPrefix {
		return "", fmt.Errorf("line longer than %v bytes", maxLineLength)
	}
	return string(b), nil
}

// Close closes the network connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}
