package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/ptgott/mailrelay/message"
	"github.com/ptgott/mailrelay/transport"
)

// State is where a Controller is in the session.
type State int

// The states of a session, in the order a successful session moves through
// them. Authenticated is skipped without credentials. Aborted is reached
// from any state on failure.
const (
	Idle State = iota
	Connected
	Greeted
	Authenticated
	EnvelopeDeclared
	DataPhase
	Closed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connected:
		return "connected"
	case Greeted:
		return "greeted"
	case Authenticated:
		return "authenticated"
	case EnvelopeDeclared:
		return "envelope declared"
	case DataPhase:
		return "data phase"
	case Closed:
		return "closed"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Config holds per-session settings.
type Config struct {
	// LocalName is the client identity sent with EHLO. Defaults to the
	// hostname.
	LocalName string
	// If both are set, the session authenticates with AUTH LOGIN.
	Username string
	Password string
}

// Controller runs one session. Don't reuse it for another send.
type Controller struct {
	cfg   Config
	t     transport.Transport
	state State
}

// New returns a Controller for a single send.
func New(cfg Config) *Controller {
	return &Controller{
		cfg: cfg,
	}
}

// Deliver runs a session against the transport d dials and sends body to
// the recipients in env. See (*Controller).Deliver.
func Deliver(ctx context.Context, d transport.Dialer, cfg Config, env message.Envelope, body string) error {
	return New(cfg).Deliver(ctx, d, env, body)
}

// State returns the session state. After Deliver returns, it's Closed on
// success and Aborted otherwise.
func (c *Controller) State() State {
	return c.state
}

// Deliver dials the relay, declares env and transmits the Subject, To and
// From headers followed by body, which should hold the remaining headers
// and the message content. ctx bounds dialing only.
//
// The first unexpected reply aborts the session, including a rejected
// recipient: no further recipients are declared and nothing is delivered.
// The transport is always closed before Deliver returns.
func (c *Controller) Deliver(ctx context.Context, d transport.Dialer, env message.Envelope, body string) (err error) {
	if c.state != Idle {
		return errors.New("a session controller can only be used once")
	}
	if err := env.Validate(); err != nil {
		c.state = Aborted
		return err
	}

	t, err := d.Dial(ctx)
	if err != nil {
		c.state = Aborted
		return &ConnectionError{Err: err}
	}
	c.t = t
	c.state = Connected

	defer func() {
		if err != nil {
			c.state = Aborted
			// The relay is still listening after a bad reply, so say
			// goodbye properly
			var pe *ProtocolError
			if errors.As(err, &pe) {
				c.quit()
			}
		}
		if cerr := c.t.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("error closing the relay connection")
		}
	}()

	if _, err = c.expect("greeting", Completion); err != nil {
		return err
	}

	if _, err = c.cmd("EHLO", Completion, "EHLO "+c.localName()); err != nil {
		return err
	}
	c.state = Greeted

	if c.cfg.Username != "" && c.cfg.Password != "" {
		if err = c.authLogin(); err != nil {
			return err
		}
		c.state = Authenticated
	}

	if _, err = c.cmd("MAIL FROM", Completion, "MAIL FROM:<"+env.From+">"); err != nil {
		return err
	}

	for _, r := range env.To {
		if _, err = c.cmd("RCPT TO", Completion, "RCPT TO:<"+r+">"); err != nil {
			log.Debug().Str("recipient", r).Msg("the relay refused a recipient")
			return err
		}
	}
	c.state = EnvelopeDeclared

	if _, err = c.cmd("DATA", Intermediate, "DATA"); err != nil {
		return err
	}
	c.state = DataPhase

	if err = c.writeData(env, body); err != nil {
		return err
	}
	if _, err = c.expect("end of data", Completion); err != nil {
		return err
	}

	c.quit()
	c.state = Closed
	return nil
}

func (c *Controller) localName() string {
	if c.cfg.LocalName != "" {
		return c.cfg.LocalName
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return "localhost"
}

// authLogin runs the AUTH LOGIN exchange. The relay's prompts aren't
// checked, only their reply class.
func (c *Controller) authLogin() error {
	if _, err := c.cmd("AUTH", Intermediate, "AUTH LOGIN"); err != nil {
		return err
	}

	if err := c.writeLine("AUTH username", base64.StdEncoding.EncodeToString([]byte(c.cfg.Username)), true); err != nil {
		return err
	}
	if _, err := c.expect("AUTH username", Intermediate); err != nil {
		return err
	}

	if err := c.writeLine("AUTH password", base64.StdEncoding.EncodeToString([]byte(c.cfg.Password)), true); err != nil {
		return err
	}
	if _, err := c.expect("AUTH password", Completion); err != nil {
		return err
	}
	return nil
}

// writeData sends the message headers and body followed by the end of data
// marker. Lines starting with a dot are dot-stuffed.
func (c *Controller) writeData(env message.Envelope, body string) error {
	to := make([]string, len(env.To))
	for i, r := range env.To {
		to[i] = "<" + r + ">"
	}

	headers := []string{
		"Subject: " + mime.QEncoding.Encode("utf-8", env.Subject),
		"To: " + strings.Join(to, ", "),
		"From: <" + env.From + ">",
	}
	for _, h := range headers {
		if err := c.writeLine("DATA", h, false); err != nil {
			return err
		}
	}

	lines := strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n")
	// A trailing line break doesn't start another line
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	for _, l := range lines {
		if strings.HasPrefix(l, ".") {
			l = "." + l
		}
		if err := c.writeLine("DATA", l, false); err != nil {
			return err
		}
	}

	return c.writeLine("DATA", ".", false)
}

// cmd writes a command and waits for a reply of class want.
func (c *Controller) cmd(step string, want Class, line string) (Reply, error) {
	if err := c.writeLine(step, line, false); err != nil {
		return Reply{}, err
	}
	return c.expect(step, want)
}

// expect reads one reply and fails unless it's of class want.
func (c *Controller) expect(step string, want Class) (Reply, error) {
	r, err := ReadReply(c.t)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Step = step
		}
		var ie *IOError
		if errors.As(err, &ie) {
			ie.Step = step
		}
		return Reply{}, err
	}

	if r.Class() != want {
		return r, &ProtocolError{
			Step:     step,
			Code:     r.Code,
			Expected: want,
			Message:  r.Message(),
		}
	}
	return r, nil
}

// writeLine sends one line to the relay. Secrets aren't traced.
func (c *Controller) writeLine(step, line string, secret bool) error {
	if secret {
		log.Debug().Msg("C: <redacted>")
	} else {
		log.Debug().Msg("C: " + line)
	}
	if err := c.t.WriteLine(line); err != nil {
		return &IOError{Step: step, Err: err}
	}
	return nil
}

// quit ends the session politely. Failures don't matter at this point, since
// the transport gets closed either way.
func (c *Controller) quit() {
	if err := c.writeLine("QUIT", "QUIT", false); err != nil {
		log.Debug().Err(err).Msg("could not send QUIT")
		return
	}
	if _, err := ReadReply(c.t); err != nil {
		log.Debug().Err(err).Msg("no reply to QUIT")
	}
}
