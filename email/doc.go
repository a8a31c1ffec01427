package email

// email is responsible for sending messages through an SMTP relay: it reads
// the user's relay settings, checks each message against the send journal,
// assembles the MIME body and hands it to a session. It is not designed to
// represent the user-facing content of an email, and includes this content
// in email bodies regardless of what it contains.
