package message

import (
	"errors"
	"fmt"
	"mime"
	"strings"
)

// DefaultAttachmentType is used for attachments without a MIME type. Mail
// clients handle it fine for most kinds of file.
const DefaultAttachmentType = "application/octet-stream"

// Attachment is a file sent along with a message.
type Attachment struct {
	// Filename without any path information
	Filename string
	Content  []byte
	MIMEType string
}

// Attachments is an ordered collection of files to attach to one message.
// The zero value is empty and ready to use.
type Attachments struct {
	items []Attachment
}

// Attach appends a file. An empty mimeType means DefaultAttachmentType.
func (a *Attachments) Attach(filename string, content []byte, mimeType string) error {
	if filename == "" {
		return errors.New("an attachment needs a filename")
	}
	if strings.ContainsAny(filename, "\r\n") {
		return fmt.Errorf("the attachment filename %q contains a line break", filename)
	}
	if mimeType == "" {
		mimeType = DefaultAttachmentType
	}
	if _, _, err := mime.ParseMediaType(mimeType); err != nil {
		return fmt.Errorf("can't use %q as the MIME type of %v: %w", mimeType, filename, err)
	}

	// Copy so later changes by the caller don't leak into the message
	c := make([]byte, len(content))
	copy(c, content)

	a.items = append(a.items, Attachment{
		Filename: filename,
		Content:  c,
		MIMEType: mimeType,
	})
	return nil
}

// Detach removes every attachment named filename and returns how many were
// removed.
func (a *Attachments) Detach(filename string) int {
	kept := a.items[:0]
	for _, at := range a.items {
		if at.Filename != filename {
			kept = append(kept, at)
		}
	}
	n := len(a.items) - len(kept)
	// Don't hold on to the removed attachments' content
	for i := len(kept); i < len(a.items); i++ {
		a.items[i] = Attachment{}
	}
	a.items = kept
	return n
}

// DetachAll removes every attachment.
func (a *Attachments) DetachAll() {
	a.items = nil
}

// List returns the attachments in the order they were attached.
func (a *Attachments) List() []Attachment {
	l := make([]Attachment, len(a.items))
	copy(l, a.items)
	return l
}

// Len returns the number of attachments.
func (a *Attachments) Len() int {
	return len(a.items)
}

// Size returns the total unencoded size of the attachments in bytes.
func (a *Attachments) Size() int64 {
	var n int64
	for _, at := range a.items {
		n += int64(len(at.Content))
	}
	return n
}
