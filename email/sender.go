package email

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"github.com/rs/zerolog/log"

	"github.com/ptgott/mailrelay/message"
	"github.com/ptgott/mailrelay/session"
	"github.com/ptgott/mailrelay/storage"
	"github.com/ptgott/mailrelay/transport"
)

var (
	// ErrAlreadySent means the send journal already holds an identical
	// message, so nothing was sent.
	ErrAlreadySent = errors.New("this message has already been sent")
	// ErrTooLarge means the attachments exceed the configured maximum.
	ErrTooLarge = errors.New("the attachments are too large")
)

// Sender sends messages through one relay. A Sender is safe to reuse; every
// Send opens its own session.
type Sender struct {
	dialer            transport.Dialer
	session           session.Config
	fromAddress       string
	maxAttachmentSize int64
	journal           storage.KeyValue
	assembler         message.Assembler
	// replay is set when the dialer only plays back a recorded session
	replay bool
}

// Option customizes a Sender.
type Option func(*Sender)

// WithDialer replaces the network dialer, e.g., with a transport.Trace.
func WithDialer(d transport.Dialer) Option {
	return func(s *Sender) {
		s.dialer = d
	}
}

// WithReplay sends through d, which plays back a recorded relay session
// instead of reaching a relay. Nothing is delivered, so the send journal is
// neither consulted nor updated.
func WithReplay(d transport.Dialer) Option {
	return func(s *Sender) {
		s.dialer = d
		s.replay = true
	}
}

// WithJournal records sent messages in kv and refuses to send any message
// twice while its entry lives.
func WithJournal(kv storage.KeyValue) Option {
	return func(s *Sender) {
		s.journal = kv
	}
}

// WithAssembler replaces the default message assembler.
func WithAssembler(a message.Assembler) Option {
	return func(s *Sender) {
		s.assembler = a
	}
}

// NewSender validates user input and returns a Sender that we can use to
// send actual email. Returns an error on validation failure.
func NewSender(uc UserConfig, opts ...Option) (*Sender, error) {
	c, err := uc.CheckAndSetDefaults()
	if err != nil {
		return nil, err
	}

	rt := c.ReadTimeout
	if rt == NoReadTimeout {
		rt = 0
	}
	d := transport.NetDialer{
		Host:           c.RelayHost,
		Port:           c.RelayPort,
		Secure:         c.Secure,
		ConnectTimeout: c.ConnectTimeout,
		ReadTimeout:    rt,
	}
	if c.Secure {
		d.TLSConfig = &tls.Config{
			ServerName:         c.RelayHost,
			InsecureSkipVerify: c.SkipCertVerification,
		}
	}

	s := &Sender{
		dialer: d,
		session: session.Config{
			LocalName: c.LocalName,
			Username:  c.Username,
			Password:  c.Password,
		},
		fromAddress:       c.FromAddress,
		maxAttachmentSize: int64(c.MaxAttachmentSize),
		journal:           &storage.NoOpDB{},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// FromAddress returns the sender address used for envelopes without one.
func (s *Sender) FromAddress() string {
	return s.fromAddress
}

// Send assembles a message from p and atts and delivers it to every
// recipient in env. An empty env.From means the configured from address.
// atts may be nil.
//
// A nil error means the relay accepted the message. Relay failures are the
// typed errors of the session package.
func (s *Sender) Send(ctx context.Context, env message.Envelope, p message.Payload, atts *message.Attachments) error {
	if env.From == "" {
		env.From = s.fromAddress
	}
	if err := env.Validate(); err != nil {
		return fmt.Errorf("invalid envelope: %w", err)
	}

	p, err := p.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("invalid message payload: %w", err)
	}

	var list []message.Attachment
	var size int64
	if atts != nil {
		list = atts.List()
		size = atts.Size()
	}
	if size > s.maxAttachmentSize {
		return fmt.Errorf(
			"%w: %v exceeds the limit of %v",
			ErrTooLarge,
			units.BytesSize(float64(size)),
			units.BytesSize(float64(s.maxAttachmentSize)),
		)
	}

	journal := s.journal
	if s.replay {
		log.Debug().Msg("replaying a recorded session, so the send journal is left alone")
		journal = &storage.NoOpDB{}
	}

	key := messageKey(env, p, list)
	_, err = journal.Read(key)
	switch {
	case err == nil:
		log.Info().
			Str("subject", env.Subject).
			Strs("to", env.To).
			Msg("skipping a message that was already sent")
		return ErrAlreadySent
	case !errors.Is(err, storage.ErrNotFound):
		log.Warn().Err(err).Msg("can't read the send journal, sending anyway")
	}

	body, err := s.assembler.Assemble(p, list)
	if err != nil {
		return fmt.Errorf("can't assemble the message: %w", err)
	}

	log.Debug().
		Str("contentType", p.ContentType).
		Str("charset", p.Charset).
		Int("attachments", len(list)).
		Str("attachmentSize", units.BytesSize(float64(size))).
		Str("bodySize", units.BytesSize(float64(len(body)))).
		Msg("assembled the message")

	if err := session.Deliver(ctx, s.dialer, s.session, env, body); err != nil {
		log.Error().
			Err(err).
			Int("recipients", len(env.To)).
			Msg("the relay didn't accept the message")
		return err
	}

	log.Info().
		Int("recipients", len(env.To)).
		Str("subject", env.Subject).
		Str("attachmentSize", units.BytesSize(float64(size))).
		Msg("sent the message")

	if err := journal.Put(newJournalEntry(key, time.Now())); err != nil && !errors.Is(err, storage.ErrNoOp) {
		log.Warn().Err(err).Msg("can't record the message in the send journal")
	}
	return nil
}

// messageKey returns the key to use for determining whether a message has
// already been sent. The key is the hash of the entire message as given
// by the caller, before any random boundaries get involved.
func messageKey(env message.Envelope, p message.Payload, atts []message.Attachment) []byte {
	k := sha256.New()
	// Length-prefix every field so "ab"+"c" and "a"+"bc" differ
	field := func(b []byte) {
		binary.Write(k, binary.LittleEndian, uint64(len(b)))
		k.Write(b)
	}
	field([]byte(env.From))
	binary.Write(k, binary.LittleEndian, uint64(len(env.To)))
	for _, t := range env.To {
		field([]byte(t))
	}
	field([]byte(env.Subject))
	field([]byte(p.ContentType))
	field([]byte(p.Charset))
	field([]byte(p.Text))
	binary.Write(k, binary.LittleEndian, uint64(len(atts)))
	for _, a := range atts {
		field([]byte(a.Filename))
		field([]byte(a.MIMEType))
		field(a.Content)
	}
	return k.Sum(nil)
}

// newJournalEntry prepares a journal record. Values are timestamps in
// seconds since the Unix epoch.
func newJournalEntry(key []byte, sent time.Time) storage.KVEntry {
	var buf bytes.Buffer

	// Suppressing errors since they only come from the Buffer's Write
	// method, which always returns a nil error.
	binary.Write(&buf, binary.LittleEndian, sent.Unix())

	return storage.KVEntry{
		Key:   key,
		Value: buf.Bytes(),
	}
}

// SentAt decodes the timestamp of a journal entry.
func SentAt(e storage.KVEntry) (time.Time, error) {
	var s int64
	if err := binary.Read(bytes.NewReader(e.Value), binary.LittleEndian, &s); err != nil {
		return time.Time{}, fmt.Errorf("can't read the journal timestamp: %v", err)
	}
	return time.Unix(s, 0), nil
}
