package userconfig

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	// Asserting deep equality between the expected and actual Meta would
	// be really convoluted and brittle, so we should make sure nothing
	// fails unexpectedly and test knottier marshaling/validation situations
	// elswhere.
	testCases := []struct {
		description   string
		conf          string
		shouldBeError bool
		shouldBeEmpty bool
	}{
		{
			description:   "valid case",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `---
email:
    relayAddress: 0.0.0.0:123
    fromAddress: mynewsletter@example.com
    username: MyUser123
    password: 123456-A_BCDE
    maxAttachmentSize: 5MiB
storage:
    storageDir: ./tempTestDir3012705204
    keyTTL: "168h"`,
		},
		{
			description:   "no storage section",
			shouldBeError: false,
			shouldBeEmpty: false,
			conf: `---
email:
    relayAddress: smtps://smtp.example.com:465
    fromAddress: mynewsletter@example.com`,
		},
		{
			description:   "no email section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
storage:
    storageDir: ./tempTestDir3012705204
    keyTTL: "168h"`,
		},
		{
			description:   "invalid storage section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
email:
    relayAddress: 0.0.0.0:123
    fromAddress: mynewsletter@example.com
storage:
    storageDir: ./tempTestDir3012705204`,
		},
		{
			description:   "invalid email section",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf: `---
email:
    relayAddress: ftp://0.0.0.0:123
    fromAddress: mynewsletter@example.com`,
		},
		{
			description:   "not yaml",
			shouldBeError: true,
			shouldBeEmpty: true,
			conf:          `this is not yaml`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			b := bytes.NewBuffer([]byte(tc.conf))
			m, err := Parse(b)

			if (err != nil) != tc.shouldBeError {
				t.Errorf(
					"%v: unexpected error status: wanted %v but got %v with error %v",
					tc.description,
					tc.shouldBeError,
					err != nil,
					err,
				)
			}

			if reflect.DeepEqual(*m, Meta{}) != tc.shouldBeEmpty {
				l := map[bool]string{
					true:  "to be",
					false: "not to be",
				}
				t.Errorf(
					"%v: expected the Meta %v nil, but got the opposite",
					tc.description,
					l[tc.shouldBeEmpty],
				)
			}
		})

	}

}

func TestCheckAndSetDefaults(t *testing.T) {
	m, err := Parse(strings.NewReader(`email:
  relayAddress: smtp://127.0.0.1:2525
  fromAddress: me@example.com
storage:
  storageDir: /tmp/journal
  keyTTL: 24h
`))
	require.NoError(t, err)

	c, err := m.CheckAndSetDefaults()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", c.EmailSettings.RelayHost)
	assert.Equal(t, 2525, c.EmailSettings.RelayPort)
	assert.Equal(t, 15*time.Second, c.EmailSettings.ConnectTimeout)
	require.NotNil(t, c.Storage)
	assert.Equal(t, 24*time.Hour, c.Storage.KeyTTLDuration)

	// The copy doesn't share the storage config with the original
	c.Storage.StorageDirPath = "elsewhere"
	assert.Equal(t, "/tmp/journal", m.Storage.StorageDirPath)
}
