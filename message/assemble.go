package message

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"strings"

	"github.com/google/uuid"

	"github.com/ptgott/mailrelay/html"
)

const (
	boundaryPrefix = "__NextPart_"
	preamble       = "This is a multi-part message in MIME format."
	// RFC 2045 limits encoded lines to 76 characters
	base64LineLength = 76
	// How many boundaries we try before giving up. A random boundary
	// colliding with the content even once is already unlikely.
	maxBoundaryAttempts = 10
)

// ErrBoundaryCollision is returned when no boundary could be found that
// doesn't appear in the encoded content.
var ErrBoundaryCollision = errors.New("could not find a multipart boundary absent from the message content")

// Assembler builds multipart/mixed message bodies.
type Assembler struct {
	// NewBoundary returns a candidate boundary token. Leave nil to use
	// random tokens.
	NewBoundary func() string
}

// Assemble builds a message body from p and atts with random boundaries.
func Assemble(p Payload, atts []Attachment) (string, error) {
	return Assembler{}.Assemble(p, atts)
}

// RandomBoundary returns a boundary token derived from 122 random bits.
func RandomBoundary() string {
	return boundaryPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// part is one entity within the multipart body, already encoded.
type part struct {
	header []string // "Name: value" lines
	body   string   // may span multiple CRLF-separated lines
}

// Assemble returns the MIME headers and multipart body for p and atts, with
// CRLF line endings throughout. The parts are, in order: a text/plain
// alternative with the markup stripped (only if p isn't text/plain), the
// payload itself, then one part per attachment.
func (a Assembler) Assemble(p Payload, atts []Attachment) (string, error) {
	p, err := p.CheckAndSetDefaults()
	if err != nil {
		return "", err
	}

	var parts []part

	if !p.IsPlainText() {
		alt, err := textPart(DefaultContentType, p.Charset, alternativeText(p))
		if err != nil {
			return "", fmt.Errorf("can't encode the plain text alternative: %w", err)
		}
		parts = append(parts, alt)
	}

	primary, err := textPart(p.ContentType, p.Charset, p.Text)
	if err != nil {
		return "", fmt.Errorf("can't encode the message text: %w", err)
	}
	parts = append(parts, primary)

	for _, at := range atts {
		ap, err := attachmentPart(at)
		if err != nil {
			return "", err
		}
		parts = append(parts, ap)
	}

	nb := a.NewBoundary
	if nb == nil {
		nb = RandomBoundary
	}
	var boundary string
	for i := 0; i < maxBoundaryAttempts; i++ {
		b := nb()
		if b != "" && !collides(b, parts) {
			boundary = b
			break
		}
	}
	if boundary == "" {
		return "", ErrBoundaryCollision
	}

	var s strings.Builder
	writeHeader(&s, "MIME-Version", "1.0")
	writeHeader(&s, "Content-Type", mime.FormatMediaType("multipart/mixed", map[string]string{
		"boundary": boundary,
	}))
	s.WriteString("\r\n")
	s.WriteString(preamble + "\r\n")
	s.WriteString("\r\n")

	for _, pt := range parts {
		s.WriteString("--" + boundary + "\r\n")
		for _, h := range pt.header {
			s.WriteString(h + "\r\n")
		}
		s.WriteString("\r\n")
		s.WriteString(pt.body + "\r\n")
	}
	s.WriteString("--" + boundary + "--\r\n")

	return s.String(), nil
}

// alternativeText returns p's text with the markup removed. HTML is
// rendered the way a reader would see it; other formats only lose their
// tags, since their line breaks matter.
func alternativeText(p Payload) string {
	switch p.ContentType {
	case "text/html", "application/xhtml+xml":
		return html.PlainText(p.Text)
	}
	return html.StripTags(p.Text)
}

// collides reports whether boundary occurs anywhere inside the parts.
func collides(boundary string, parts []part) bool {
	for _, p := range parts {
		if strings.Contains(p.body, boundary) {
			return true
		}
		for _, h := range p.header {
			if strings.Contains(h, boundary) {
				return true
			}
		}
	}
	return false
}

func writeHeader(s *strings.Builder, name, value string) {
	s.WriteString(name + ": " + value + "\r\n")
}

// textPart encodes text in charset as quoted-printable. Line breaks come
// out as CRLF.
func textPart(contentType, charset, text string) (part, error) {
	ct := mime.FormatMediaType(contentType, map[string]string{
		"charset": charset,
	})
	if ct == "" {
		return part{}, fmt.Errorf("can't format the content type %q", contentType)
	}

	b, err := encodeCharset(text, charset)
	if err != nil {
		return part{}, err
	}

	var buf bytes.Buffer
	w := quotedprintable.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return part{}, err
	}
	if err := w.Close(); err != nil {
		return part{}, err
	}

	return part{
		header: []string{
			"Content-Type: " + ct,
			"Content-Transfer-Encoding: quoted-printable",
		},
		body: buf.String(),
	}, nil
}

func attachmentPart(at Attachment) (part, error) {
	mt := at.MIMEType
	if mt == "" {
		mt = DefaultAttachmentType
	}
	mt, params, err := mime.ParseMediaType(mt)
	if err != nil {
		return part{}, fmt.Errorf("can't parse the content type of attachment %v: %w", at.Filename, err)
	}
	params["name"] = at.Filename
	ct := mime.FormatMediaType(mt, params)
	if ct == "" {
		return part{}, fmt.Errorf("can't format the content type %q of attachment %v", mt, at.Filename)
	}
	cd := mime.FormatMediaType("attachment", map[string]string{
		"filename": at.Filename,
	})
	if cd == "" {
		return part{}, fmt.Errorf("can't use %q as an attachment filename", at.Filename)
	}

	return part{
		header: []string{
			"Content-Type: " + ct,
			"Content-Transfer-Encoding: base64",
			"Content-Description: " + mime.QEncoding.Encode("utf-8", at.Filename),
			"Content-Disposition: " + cd,
		},
		body: base64Lines(at.Content),
	}, nil
}

// base64Lines encodes b as base64 broken into lines of base64LineLength.
func base64Lines(b []byte) string {
	enc := base64.StdEncoding.EncodeToString(b)
	var s strings.Builder
	for len(enc) > base64LineLength {
		s.WriteString(enc[:base64LineLength])
		s.WriteString("\r\n")
		enc = enc[base64LineLength:]
	}
	s.WriteString(enc)
	return s.String()
}
