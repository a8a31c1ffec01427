package session

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptgott/mailrelay/transport"
)

func TestClassOf(t *testing.T) {
	testCases := []struct {
		code     int
		expected Class
	}{
		{code: 100, expected: Preliminary},
		{code: 199, expected: Preliminary},
		{code: 220, expected: Completion},
		{code: 250, expected: Completion},
		{code: 334, expected: Intermediate},
		{code: 354, expected: Intermediate},
		{code: 421, expected: TransientNegative},
		{code: 451, expected: TransientNegative},
		{code: 550, expected: PermanentNegative},
		{code: 554, expected: PermanentNegative},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, ClassOf(tc.code), "code %v", tc.code)
	}

	// Every three-digit code maps to its leading digit
	for c := 100; c < 600; c++ {
		require.Equal(t, Class(c/100), ClassOf(c))
	}
}

func TestParseReplyLine(t *testing.T) {
	testCases := []struct {
		description   string
		input         string
		expected      ReplyLine
		shouldBeError bool
	}{
		{
			description: "final line",
			input:       "250 OK",
			expected:    ReplyLine{Code: 250, Text: "OK"},
		},
		{
			description: "continuation line",
			input:       "250-SIZE 35882577",
			expected:    ReplyLine{Code: 250, More: true, Text: "SIZE 35882577"},
		},
		{
			description: "code only",
			input:       "354",
			expected:    ReplyLine{Code: 354},
		},
		{
			description: "text is kept verbatim",
			input:       "550 5.1.1  <nobody@example.com>: Recipient address rejected ",
			expected: ReplyLine{
				Code: 550,
				Text: "5.1.1  <nobody@example.com>: Recipient address rejected ",
			},
		},
		{
			description:   "too short",
			input:         "25",
			shouldBeError: true,
		},
		{
			description:   "empty",
			input:         "",
			shouldBeError: true,
		},
		{
			description:   "not numeric",
			input:         "2x0 OK",
			shouldBeError: true,
		},
		{
			description:   "signed number",
			input:         "+25 OK",
			shouldBeError: true,
		},
		{
			description:   "bad separator",
			input:         "250_OK",
			shouldBeError: true,
		},
		{
			description:   "four digits",
			input:         "2500 OK",
			shouldBeError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			rl, err := ParseReplyLine(tc.input)
			if tc.shouldBeError {
				var pe *ProtocolError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, "malformed reply", pe.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, rl)
		})
	}
}

func TestReadReplyMultiline(t *testing.T) {
	tr := transport.NewTrace(strings.NewReader("250-One\r\n250-Two\r\n250 Three\r\n221 Bye\r\n"), nil)

	r, err := ReadReply(tr)
	require.NoError(t, err)
	assert.Equal(t, 250, r.Code)
	assert.Equal(t, Completion, r.Class())
	assert.Equal(t, []string{"One", "Two", "Three"}, r.Lines)
	assert.Equal(t, "Three", r.Message())

	// The terminal line ends the reply, so the next read starts a new one
	r, err = ReadReply(tr)
	require.NoError(t, err)
	assert.Equal(t, 221, r.Code)
	assert.Equal(t, []string{"Bye"}, r.Lines)
}

func TestReadReplyErrors(t *testing.T) {
	testCases := []struct {
		description string
		script      string
		protocol    bool
	}{
		{
			description: "codes differ within one reply",
			script:      "250-One\n550 Two\n",
			protocol:    true,
		},
		{
			description: "garbage continuation",
			script:      "250-One\nhello there\n",
			protocol:    true,
		},
		{
			description: "stream ends mid-reply",
			script:      "250-One\n",
		},
		{
			description: "nothing at all",
			script:      "",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			_, err := ReadReply(transport.NewTrace(strings.NewReader(tc.script), nil))
			require.Error(t, err)
			var pe *ProtocolError
			var ie *IOError
			if tc.protocol {
				assert.ErrorAs(t, err, &pe)
			} else {
				require.ErrorAs(t, err, &ie)
				assert.True(t, errors.Is(err, io.EOF))
			}
		})
	}
}
