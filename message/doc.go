// Package message builds what gets sent during the DATA phase of an SMTP
// session: the envelope addressing a message and the MIME multipart body
// carrying its content and attachments. Nothing here does I/O.
package message
