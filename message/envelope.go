package message

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrNoSender means the envelope has no "from" address.
	ErrNoSender = errors.New("must supply a \"from\" address")
	// ErrNoRecipients means the envelope has no "to" addresses.
	ErrNoRecipients = errors.New("must supply at least one \"to\" address")
)

// Envelope addresses a message. It's independent of the message content.
type Envelope struct {
	From string
	// Recipients in the order they'll be declared to the relay. Duplicates
	// are allowed.
	To      []string
	Subject string
}

// NewEnvelope parses the comma-separated recipient list in to and returns a
// validated Envelope.
func NewEnvelope(from, to, subject string) (Envelope, error) {
	e := Envelope{
		From:    strings.TrimSpace(from),
		To:      ParseRecipients(to),
		Subject: subject,
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// ParseRecipients splits a comma-separated list of addresses. Spaces around
// each address are dropped, as are empty entries, so "a@x.com, b@x.com ,"
// yields two addresses.
func ParseRecipients(s string) []string {
	r := []string{}
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		r = append(r, a)
	}
	return r
}

// Validate returns an error if the envelope can't be declared to a relay.
// Addresses end up inside SMTP commands and headers, so anything that could
// break out of a command line is rejected.
func (e Envelope) Validate() error {
	if e.From == "" {
		return ErrNoSender
	}
	if err := checkAddress(e.From); err != nil {
		return err
	}
	if len(e.To) == 0 {
		return ErrNoRecipients
	}
	for _, a := range e.To {
		if err := checkAddress(a); err != nil {
			return err
		}
	}
	if strings.ContainsAny(e.Subject, "\r\n") {
		return errors.New("the subject can't contain line breaks")
	}
	return nil
}

func checkAddress(a string) error {
	if a == "" {
		return errors.New("empty address")
	}
	for _, r := range a {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '<' || r == '>' {
			return fmt.Errorf("invalid character %q in address %q", r, a)
		}
	}
	return nil
}
