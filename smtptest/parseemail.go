package smtptest

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
)

// Message is an email split into its headers and MIME parts, so tests can
// make assertions about each part separately.
type Message struct {
	Header   mail.Header
	Boundary string
	Parts    []Part
}

// Part is a single MIME part, as transmitted (i.e., still encoded).
type Part struct {
	Header textproto.MIMEHeader
	Raw    []byte
}

// ParseMessage parses a multipart email. It returns an error if the email
// isn't a multipart message.
func ParseMessage(raw string) (*Message, error) {
	m, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("can't read the message headers: %v", err)
	}

	mt, params, err := mime.ParseMediaType(m.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("can't parse the content type: %v", err)
	}
	if !strings.HasPrefix(mt, "multipart/") {
		return nil, fmt.Errorf("expected a multipart message but got %v", mt)
	}
	b := params["boundary"]
	if b == "" {
		return nil, errors.New("the content type has no boundary")
	}

	msg := &Message{
		Header:   m.Header,
		Boundary: b,
	}

	r := multipart.NewReader(m.Body, b)
	for {
		// NextPart would decode quoted-printable parts and drop their
		// Content-Transfer-Encoding, which we want to check
		p, err := r.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c, err := io.ReadAll(p)
		if err != nil {
			return nil, err
		}
		msg.Parts = append(msg.Parts, Part{
			Header: p.Header,
			Raw:    c,
		})
	}

	return msg, nil
}

// MediaType returns the part's media type, e.g., "text/plain", and its
// parameters.
func (p Part) MediaType() (string, map[string]string) {
	mt, params, err := mime.ParseMediaType(p.Header.Get("Content-Type"))
	if err != nil {
		return "", nil
	}
	return mt, params
}

// Decode reverses the part's Content-Transfer-Encoding.
func (p Part) Decode() ([]byte, error) {
	switch strings.ToLower(p.Header.Get("Content-Transfer-Encoding")) {
	case "base64":
		return base64.StdEncoding.DecodeString(string(p.Raw))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(strings.NewReader(string(p.Raw))))
	default:
		return p.Raw, nil
	}
}
