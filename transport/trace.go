package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// Trace is a Transport that never touches the network. Replies are replayed
// from a script, one reply line per script line (blank script lines are
// skipped), and every line the client writes is recorded, CRLF-terminated,
// exactly as it would have gone over the wire.
//
// A Trace is also a Dialer that hands out itself, so it can stand in for a
// relay in a single send.
type Trace struct {
	replies *bufio.Scanner
	record  io.Writer
	closers []io.Closer
	closed  bool
	written []string
}

// NewTrace replays replies from r and records written lines to w. A nil w
// discards them.
func NewTrace(r io.Reader, w io.Writer) *Trace {
	if w == nil {
		w = io.Discard
	}
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, maxLineLength), maxLineLength)
	return &Trace{
		replies: s,
		record:  w,
	}
}

// Dial returns t. A Trace can only be used for one session.
func (t *Trace) Dial(_ context.Context) (Transport, error) {
	if t.closed {
		return nil, ErrClosed
	}
	return t, nil
}

// WriteLine records line.
func (t *Trace) WriteLine(line string) error {
	if t.closed {
		return ErrClosed
	}
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("line contains a line break: %q", line)
	}
	t.written = append(t.written, line)
	_, err := io.WriteString(t.record, line+"\r\n")
	return err
}

// ReadLine returns the next non-blank line of the reply script, or io.EOF
// once the script runs out.
func (t *Trace) ReadLine() (string, error) {
	if t.closed {
		return "", ErrClosed
	}
	for t.replies.Scan() {
		l := strings.TrimRight(t.replies.Text(), "\r")
		if l == "" {
			continue
		}
		return l, nil
	}
	if err := t.replies.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Close closes any files the Trace opened.
func (t *Trace) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	var first error
	for _, c := range t.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Written returns every line written so far, without line endings.
func (t *Trace) Written() []string {
	w := make([]string, len(t.written))
	copy(w, t.written)
	return w
}

// Closed reports whether Close has been called.
func (t *Trace) Closed() bool {
	return t.closed
}

// TraceDialer opens a Trace backed by files: server replies are replayed
// from ReplayPath and client lines are written to RecordPath (truncated on
// every dial). An empty RecordPath discards them.
type TraceDialer struct {
	ReplayPath string
	RecordPath string
}

// Dial opens the files. Closing the returned Transport closes them.
func (d TraceDialer) Dial(_ context.Context) (Transport, error) {
	rf, err := os.Open(d.ReplayPath)
	if err != nil {
		return nil, fmt.Errorf("can't open the reply script: %w", err)
	}

	if d.RecordPath == "" {
		t := NewTrace(rf, nil)
		t.closers = []io.Closer{rf}
		return t, nil
	}

	wf, err := os.Create(d.RecordPath)
	if err != nil {
		rf.Close()
		return nil, fmt.Errorf("can't create the trace file: %w", err)
	}
	t := NewTrace(rf, wf)
	t.closers = []io.Closer{rf, wf}
	return t, nil
}
