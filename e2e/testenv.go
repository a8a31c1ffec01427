package e2e

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ptgott/mailrelay/email"
	"github.com/ptgott/mailrelay/smtptest"
	"github.com/ptgott/mailrelay/storage"
	"github.com/ptgott/mailrelay/userconfig"
)

// testEnvironmentConfig exposes options that should be available and
// perhaps changeable when spinning up a test environment. While they
// may not vary between tests, they shouldn't be buried inside
// functions.
type testEnvironmentConfig struct {
	tls     bool // Whether the relay speaks implicit TLS
	journal bool // Whether to configure a send journal
	// Recipients the relay refuses
	rejectRecipients  []string
	maxAttachmentSize string
}

// testEnvironment manages all dependencies required to simulate a "real"
// environment and run the e2e tests. Callers should create this via
// startTestEnvironment.
type testEnvironment struct {
	SMTPServer  *smtptest.InProcessServer
	configPath  string
	storageDir  string // empty without a journal
	tempDirPath string
}

// startTestEnvironment spins up a relay and writes an application config
// that points at it. Callers should defer a call to tearDown.
//
// Note that if startTestEnvironment fails, it will return an error along with
// whatever shreds of a test environment we've set up so far so you can tear
// it down (i.e., it won't just be the zero value)
func startTestEnvironment(t *testing.T, c testEnvironmentConfig) (*testEnvironment, error) {
	te := &testEnvironment{
		tempDirPath: t.TempDir(),
	}
	te.configPath = filepath.Join(te.tempDirPath, "config.yaml")

	sc := smtptest.Config{
		RejectRecipients: c.rejectRecipients,
	}
	scheme := "smtp"
	if c.tls {
		key, cert, err := smtptest.GenerateTLSFiles(t)
		if err != nil {
			return te, err
		}
		sc.KeyPath = key
		sc.CertPath = cert
		scheme = "smtps"
	}

	ts, err := smtptest.NewInProcessServer(sc)
	if err != nil {
		return te, fmt.Errorf("could not start the test relay: %w", err)
	}
	te.SMTPServer = ts
	go ts.Start()

	if c.journal {
		te.storageDir = filepath.Join(te.tempDirPath, "journal")
		if err := os.Mkdir(te.storageDir, 0700); err != nil {
			return te, fmt.Errorf("could not create the test storage directory: %w", err)
		}
	}

	err = createAppConfig(te.configPath, appConfigOptions{
		RelayAddress:         scheme + "://" + ts.Address(),
		SkipCertVerification: c.tls, // since it's a self-signed cert
		MaxAttachmentSize:    c.maxAttachmentSize,
		StorageDir:           te.storageDir,
	})
	if err != nil {
		return te, err
	}

	return te, nil
}

// newSender reads the application config the way the application does and
// returns a Sender for it, with opts applied after the journal. Close the
// returned KeyValue when done.
func (te *testEnvironment) newSender(opts ...email.Option) (*email.Sender, storage.KeyValue, error) {
	f, err := os.Open(te.configPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	m, err := userconfig.Parse(f)
	if err != nil {
		return nil, nil, err
	}
	c, err := m.CheckAndSetDefaults()
	if err != nil {
		return nil, nil, err
	}

	var db storage.KeyValue = &storage.NoOpDB{}
	if c.Storage != nil {
		db, err = storage.NewBadgerDB(c.Storage)
		if err != nil {
			return nil, nil, err
		}
	}

	s, err := email.NewSender(c.EmailSettings, append([]email.Option{email.WithJournal(db)}, opts...)...)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return s, db, nil
}

// tearDown returns the testEnvironment to its state prior to start. Designed
// to call with defer
func (te *testEnvironment) tearDown() {
	if te.SMTPServer != nil {
		te.SMTPServer.Close()
	}
}
