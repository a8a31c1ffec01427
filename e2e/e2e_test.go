package e2e

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ptgott/mailrelay/email"
	"github.com/ptgott/mailrelay/message"
	"github.com/ptgott/mailrelay/session"
	"github.com/ptgott/mailrelay/smtptest"
	"github.com/ptgott/mailrelay/transport"
)

const newsletterHTML = `<html>
<head><title>Weekly</title><style>p { color: red; }</style></head>
<body>
<h1>This week</h1>
<p>Three new <a href="https://example.com">links</a>.</p>
</body>
</html>`

// Read the config file, send a message with an attachment and check what the
// relay received, part by part.
func TestSendFromConfigFile(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		journal: true,
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	s, db, err := testenv.newSender()
	require.NoError(t, err)
	defer db.Close()

	env, err := message.NewEnvelope(s.FromAddress(), "a@example.com, b@example.com", "The latest from One Newsletter")
	require.NoError(t, err)

	var atts message.Attachments
	require.NoError(t, atts.Attach("links.csv", []byte("title,url\nlinks,https://example.com\n"), "text/csv"))

	err = s.Send(context.Background(), env, message.Payload{
		Text:        newsletterHTML,
		ContentType: "text/html",
	}, &atts)
	require.NoError(t, err)

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	if err != nil {
		t.Errorf("can't retrieve email from the test SMTP server: %v", err)
	}
	if len(ems) != 1 {
		t.Fatalf("expecting 1 email but got %v", len(ems))
	}

	tr := testenv.SMTPServer.Transactions()
	assert.Equal(t, "mynewsletter@example.com", tr[0].From)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, tr[0].To)

	msg, err := smtptest.ParseMessage(ems[0])
	require.NoError(t, err)
	assert.Equal(t, "The latest from One Newsletter", msg.Header.Get("Subject"))
	require.Len(t, msg.Parts, 3)

	alt, err := msg.Parts[0].Decode()
	require.NoError(t, err)
	assert.Equal(t, "This week\r\n\r\nThree new links.", string(alt))

	primary, err := msg.Parts[1].Decode()
	require.NoError(t, err)
	assert.Equal(t, strings.ReplaceAll(newsletterHTML, "\n", "\r\n"), string(primary))

	mt, params := msg.Parts[2].MediaType()
	assert.Equal(t, "text/csv", mt)
	assert.Equal(t, "links.csv", params["name"])

	// Every part shares the boundary from the top-level header
	assert.Equal(t, 4, strings.Count(ems[0], "--"+msg.Boundary))
}

func TestSendOverTLS(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		tls: true,
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	s, db, err := testenv.newSender()
	require.NoError(t, err)
	defer db.Close()

	env, err := message.NewEnvelope(s.FromAddress(), "recipient@example.com", "Secure")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), env, message.Payload{Text: "sent over TLS"}, nil))

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, ems, 1)
	assert.Contains(t, ems[0], "sent over TLS")
}

// Running the application twice with the same message sends it once, even
// across database connections.
func TestJournalAcrossRuns(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		journal: true,
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	send := func() error {
		s, db, err := testenv.newSender()
		require.NoError(t, err)
		defer db.Close()
		env, err := message.NewEnvelope(s.FromAddress(), "recipient@example.com", "Daily digest")
		require.NoError(t, err)
		return s.Send(context.Background(), env, message.Payload{Text: "Nothing new"}, nil)
	}

	require.NoError(t, send())
	assert.ErrorIs(t, send(), email.ErrAlreadySent)

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Len(t, ems, 1)

	// Badger wrote something to disk
	entries, err := os.ReadDir(testenv.storageDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestRejectedRecipientSendsNothing(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		rejectRecipients: []string{"gone@example.com"},
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	s, db, err := testenv.newSender()
	require.NoError(t, err)
	defer db.Close()

	env, err := message.NewEnvelope(s.FromAddress(), "here@example.com, gone@example.com, also@example.com", "Hi")
	require.NoError(t, err)
	err = s.Send(context.Background(), env, message.Payload{Text: "Hi"}, nil)

	var pe *session.ProtocolError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 550, pe.Code)
	assert.Equal(t, session.PermanentNegative, session.ClassOf(pe.Code))

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Empty(t, ems)
}

func TestAttachmentLimitFromConfig(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		maxAttachmentSize: "1KiB",
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	s, db, err := testenv.newSender()
	require.NoError(t, err)
	defer db.Close()

	var atts message.Attachments
	require.NoError(t, atts.Attach("big.bin", make([]byte, 1025), ""))

	env, err := message.NewEnvelope(s.FromAddress(), "recipient@example.com", "Too big")
	require.NoError(t, err)
	err = s.Send(context.Background(), env, message.Payload{Text: "see attached"}, &atts)
	assert.ErrorIs(t, err, email.ErrTooLarge)

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Empty(t, ems)
}

// A session replayed from a file records the exact commands the client
// would have sent.
func TestReplayAndRecord(t *testing.T) {
	dir := t.TempDir()
	replayPath := filepath.Join(dir, "replies.txt")
	recordPath := filepath.Join(dir, "commands.txt")

	replies := strings.Join([]string{
		"220 relay.example.com ESMTP",
		"250-relay.example.com",
		"250 AUTH LOGIN",
		"334 VXNlcm5hbWU6",
		"334 UGFzc3dvcmQ6",
		"235 2.7.0 Authentication successful",
		"250 2.1.0 Ok",
		"250 2.1.5 Ok",
		"354 End data with <CR><LF>.<CR><LF>",
		"250 2.0.0 Ok: queued",
		"221 2.0.0 Bye",
	}, "\n")
	require.NoError(t, os.WriteFile(replayPath, []byte(replies), 0600))

	s, err := email.NewSender(email.UserConfig{
		RelayHost:   "relay.example.com",
		RelayPort:   587,
		Username:    "user",
		Password:    "pass",
		FromAddress: "me@example.com",
		LocalName:   "client.example.com",
	}, email.WithDialer(transport.TraceDialer{
		ReplayPath: replayPath,
		RecordPath: recordPath,
	}))
	require.NoError(t, err)

	env, err := message.NewEnvelope(s.FromAddress(), "you@example.com", "Replayed")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), env, message.Payload{Text: ".hidden line\nvisible"}, nil))

	b, err := os.ReadFile(recordPath)
	require.NoError(t, err)
	rec := string(b)

	for _, l := range []string{
		"EHLO client.example.com\r\n",
		"AUTH LOGIN\r\n",
		"dXNlcg==\r\n",
		"cGFzcw==\r\n",
		"MAIL FROM:<me@example.com>\r\n",
		"RCPT TO:<you@example.com>\r\n",
		"DATA\r\n",
		"Subject: Replayed\r\n",
		"..hidden line\r\n",
		"\r\n.\r\n",
		"QUIT\r\n",
	} {
		assert.Contains(t, rec, l)
	}
	assert.True(t, strings.HasPrefix(rec, "EHLO "))
	assert.True(t, strings.HasSuffix(rec, "QUIT\r\n"))
}

// Replaying a recorded session first must not keep the real send from
// reaching the relay later.
func TestReplayThenSend(t *testing.T) {
	testenv, err := startTestEnvironment(t, testEnvironmentConfig{
		journal: true,
	})

	defer testenv.tearDown()

	if err != nil {
		t.Fatalf("error starting test environment: %v", err)
	}

	replayPath := filepath.Join(t.TempDir(), "replies.txt")
	require.NoError(t, os.WriteFile(replayPath, []byte(strings.Join([]string{
		"220 relay.example.com ESMTP",
		"250 relay.example.com",
		"250 2.1.0 Ok",
		"250 2.1.5 Ok",
		"354 End data with <CR><LF>.<CR><LF>",
		"250 2.0.0 Ok: queued",
		"221 2.0.0 Bye",
	}, "\n")), 0600))

	send := func(opts ...email.Option) error {
		s, db, err := testenv.newSender(opts...)
		require.NoError(t, err)
		defer db.Close()
		env, err := message.NewEnvelope(s.FromAddress(), "recipient@example.com", "Checked first")
		require.NoError(t, err)
		return s.Send(context.Background(), env, message.Payload{Text: "Same message both times"}, nil)
	}

	require.NoError(t, send(email.WithReplay(transport.TraceDialer{ReplayPath: replayPath})))

	ems, err := testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	assert.Empty(t, ems)

	require.NoError(t, send())

	ems, err = testenv.SMTPServer.RetrieveEmails(0)
	require.NoError(t, err)
	require.Len(t, ems, 1)
	assert.Contains(t, ems[0], "Same message both times")
}
