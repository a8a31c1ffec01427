package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/ptgott/mailrelay/email"
	"github.com/ptgott/mailrelay/message"
	"github.com/ptgott/mailrelay/storage"
	"github.com/ptgott/mailrelay/transport"
	"github.com/ptgott/mailrelay/userconfig"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// fileList collects repeated -attach flags
type fileList []string

func (f *fileList) String() string {
	return strings.Join(*f, ",")
}

func (f *fileList) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	// Log with filename and line number. This writes to stderr, so it should
	// be thread safe.
	// https://github.com/rs/zerolog/blob/7ccd4c940bf8a02fcc5f10e5475f9d3daff04d57/log/log.go#L13
	log.Logger = log.With().Caller().Logger()

	configPath := flag.String(
		"config",
		"./config.yaml",
		"path to a JSON or YAML file containing your configuration",
	)
	to := flag.String(
		"to",
		"",
		"comma-separated recipient addresses",
	)
	subject := flag.String(
		"subject",
		"",
		"subject line",
	)
	body := flag.String(
		"body",
		"-",
		`path to a file containing the message text, or "-" for stdin`,
	)
	contentType := flag.String(
		"content-type",
		message.DefaultContentType,
		`media type of the message text, e.g., "text/html"`,
	)
	charset := flag.String(
		"charset",
		"",
		"charset to send the message text in (default utf-8)",
	)
	var attachments fileList
	flag.Var(
		&attachments,
		"attach",
		"path to a file to attach (repeatable)",
	)
	replay := flag.String(
		"replay",
		"",
		"instead of connecting to the relay, read its replies from this file",
	)
	record := flag.String(
		"record",
		"",
		"with -replay, write the commands the client sends to this file",
	)
	level := flag.String(
		"level",
		"info",
		`log level: "info", "debug", or "warn"`,
	)
	flag.Parse()

	switch *level {
	case "debug":
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	case "warn":
		log.Logger = log.Logger.Level(zerolog.WarnLevel)
	default:
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	// Intercept interrupts so we can get more visibility into them.
	// Cancelling the context stops a connection attempt in progress.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, options{
		configPath:  *configPath,
		to:          *to,
		subject:     *subject,
		body:        *body,
		contentType: *contentType,
		charset:     *charset,
		attachments: attachments,
		replay:      *replay,
		record:      *record,
	})
	if errors.Is(err, email.ErrAlreadySent) {
		return
	}
	if ctx.Err() != nil {
		log.Info().Msg("interrupt: exiting")
	}
	if err != nil {
		log.Error().
			Err(err).
			Msg("could not send the message")
		os.Exit(1)
	}
}

// options are the command-line settings for one send
type options struct {
	configPath  string
	to          string
	subject     string
	body        string
	contentType string
	charset     string
	attachments []string
	replay      string
	record      string
}

func run(ctx context.Context, o options) error {
	log.Info().
		Str("configPath", o.configPath).
		Msg("starting the application")

	f, err := os.Open(o.configPath)
	if err != nil {
		return fmt.Errorf("can't open the application config file: %w", err)
	}
	config, err := userconfig.Parse(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("problem parsing your config: %w", err)
	}

	checkedConfig, err := config.CheckAndSetDefaults()
	if err != nil {
		return fmt.Errorf("problem validating your config: %w", err)
	}

	log.Info().Str("configPath", o.configPath).Msg("successfully validated the config")

	var opts []email.Option

	if o.replay != "" {
		log.Info().
			Str("replay", o.replay).
			Str("record", o.record).
			Msg("replaying relay replies instead of connecting")
		opts = append(opts, email.WithReplay(transport.TraceDialer{
			ReplayPath: o.replay,
			RecordPath: o.record,
		}))
	}

	// A replay delivers nothing, so it stays away from the journal
	var db storage.KeyValue = &storage.NoOpDB{}
	if checkedConfig.Storage != nil && o.replay == "" {
		db, err = storage.NewBadgerDB(checkedConfig.Storage)
		if err != nil {
			return err
		}
	}
	defer func() {
		if err := db.Cleanup(); err != nil {
			log.Warn().Err(err).Msg("can't clean up the send journal")
		}
		if err := db.Close(); err != nil {
			log.Warn().Err(err).Msg("can't close the send journal")
		}
	}()
	opts = append(opts, email.WithJournal(db))

	sender, err := email.NewSender(checkedConfig.EmailSettings, opts...)
	if err != nil {
		return err
	}

	env, err := message.NewEnvelope(sender.FromAddress(), o.to, o.subject)
	if err != nil {
		return err
	}

	text, err := readBody(o.body)
	if err != nil {
		return err
	}

	var atts message.Attachments
	for _, p := range o.attachments {
		c, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("can't read the attachment: %w", err)
		}
		// An unknown extension gets the default type
		if err := atts.Attach(filepath.Base(p), c, mime.TypeByExtension(filepath.Ext(p))); err != nil {
			return err
		}
	}

	return sender.Send(ctx, env, message.Payload{
		Text:        text,
		ContentType: o.contentType,
		Charset:     o.charset,
	}, &atts)
}

func readBody(path string) (string, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("can't open the message body: %w", err)
		}
		defer f.Close()
		r = f
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("can't read the message body: %w", err)
	}
	return string(b), nil
}
