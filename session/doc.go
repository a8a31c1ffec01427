package session

// session drives one SMTP exchange with a relay: greeting, optional AUTH
// LOGIN, envelope declaration and the DATA phase. It reads and classifies
// the relay's replies and fails on the first one it didn't expect. It
// doesn't build message bodies (see the message package) and doesn't know
// how bytes reach the relay (see the transport package).
