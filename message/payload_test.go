package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadCheckAndSetDefaults(t *testing.T) {
	testCases := []struct {
		description   string
		input         Payload
		expected      Payload
		shouldBeError bool
	}{
		{
			description: "all defaults",
			input:       Payload{Text: "hi"},
			expected: Payload{
				Text:        "hi",
				ContentType: "text/plain",
				Charset:     "utf-8",
			},
		},
		{
			description: "charset taken from the content type",
			input: Payload{
				Text:        "hi",
				ContentType: "text/html; charset=ISO-8859-1",
			},
			expected: Payload{
				Text:        "hi",
				ContentType: "text/html",
				Charset:     "ISO-8859-1",
			},
		},
		{
			description: "explicit charset wins over the content type",
			input: Payload{
				Text:        "hi",
				ContentType: "text/html; charset=iso-8859-1",
				Charset:     "utf-8",
			},
			expected: Payload{
				Text:        "hi",
				ContentType: "text/html",
				Charset:     "utf-8",
			},
		},
		{
			description: "content type is normalized",
			input: Payload{
				Text:        "hi",
				ContentType: "Text/HTML",
			},
			expected: Payload{
				Text:        "hi",
				ContentType: "text/html",
				Charset:     "utf-8",
			},
		},
		{
			description:   "unparseable content type",
			input:         Payload{Text: "hi", ContentType: "text/"},
			shouldBeError: true,
		},
		{
			description:   "unknown charset",
			input:         Payload{Text: "hi", Charset: "klingon-1"},
			shouldBeError: true,
		},
		{
			description:   "text isn't UTF-8",
			input:         Payload{Text: "caf\xe9"},
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			p, err := tc.input.CheckAndSetDefaults()
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if !tc.shouldBeError {
				assert.Equal(t, tc.expected, p)
			}
		})
	}
}

func TestIsPlainText(t *testing.T) {
	assert.True(t, Payload{ContentType: "text/plain"}.IsPlainText())
	assert.True(t, Payload{ContentType: "TEXT/PLAIN"}.IsPlainText())
	assert.False(t, Payload{ContentType: "text/html"}.IsPlainText())
}

func TestEncodeCharset(t *testing.T) {
	testCases := []struct {
		description   string
		text          string
		charset       string
		expected      []byte
		shouldBeError bool
	}{
		{
			description: "utf-8 is passed through",
			text:        "Grüße",
			charset:     "UTF-8",
			expected:    []byte("Grüße"),
		},
		{
			description: "ascii text in us-ascii",
			text:        "plain",
			charset:     "us-ascii",
			expected:    []byte("plain"),
		},
		{
			description:   "non-ascii text in us-ascii",
			text:          "Grüße",
			charset:       "us-ascii",
			shouldBeError: true,
		},
		{
			description: "latin-1",
			text:        "Grüße",
			charset:     "iso-8859-1",
			expected:    []byte{'G', 'r', 0xfc, 0xdf, 'e'},
		},
		{
			description:   "latin-1 can't represent Japanese",
			text:          "日本",
			charset:       "iso-8859-1",
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b, err := encodeCharset(tc.text, tc.charset)
			if (err != nil) != tc.shouldBeError {
				t.Fatalf(
					"%v: unexpected error status--wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}
			if !tc.shouldBeError {
				assert.Equal(t, tc.expected, b)
			}
		})
	}
}
