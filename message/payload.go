package message

import (
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/ianaindex"
)

const (
	// DefaultContentType is used for payloads without a content type.
	DefaultContentType = "text/plain"
	// DefaultCharset is used for payloads without a charset.
	DefaultCharset = "utf-8"
)

// Payload is the content of a message.
type Payload struct {
	Text string
	// ContentType is a MIME media type like "text/html". Anything other
	// than text/plain gets a plain text alternative part.
	ContentType string
	// Charset names the character set the text is sent in. Text is
	// transcoded from UTF-8 when assembling the body.
	Charset string
}

// CheckAndSetDefaults validates p and either returns a copy of p with
// default settings applied or returns an error.
func (p Payload) CheckAndSetDefaults() (Payload, error) {
	if !utf8.ValidString(p.Text) {
		return Payload{}, errors.New("the message text isn't valid UTF-8")
	}

	ct := p.ContentType
	if ct == "" {
		ct = DefaultContentType
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return Payload{}, fmt.Errorf("can't parse the content type %q: %w", ct, err)
	}
	p.ContentType = mt

	if p.Charset == "" {
		p.Charset = params["charset"]
	}
	if p.Charset == "" {
		p.Charset = DefaultCharset
	}
	if _, err := encodeCharset("", p.Charset); err != nil {
		return Payload{}, err
	}

	return p, nil
}

// IsPlainText reports whether the payload is sent as text/plain, in which
// case no alternative part is needed.
func (p Payload) IsPlainText() bool {
	return strings.EqualFold(p.ContentType, DefaultContentType)
}

// encodeCharset transcodes UTF-8 text into charset. Text that the charset
// can't represent is an error rather than being silently replaced.
func encodeCharset(text, charset string) ([]byte, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8":
		return []byte(text), nil
	case "us-ascii", "ascii":
		for i := 0; i < len(text); i++ {
			if text[i] >= utf8.RuneSelf {
				return nil, fmt.Errorf("the text can't be represented in %v", charset)
			}
		}
		return []byte(text), nil
	}

	enc, err := ianaindex.MIME.Encoding(charset)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", charset, err)
	}
	// ianaindex knows some names it has no implementation for
	if enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}

	b, err := enc.NewEncoder().Bytes([]byte(text))
	if err != nil {
		return nil, fmt.Errorf("the text can't be represented in %v: %w", charset, err)
	}
	return b, nil
}
