package transport

// transport contains the byte-stream connections that an SMTP session runs
// over. It knows nothing about SMTP commands or replies: it only moves
// CRLF-terminated lines back and forth. There is a network implementation,
// optionally wrapped in TLS, and a trace implementation that replays server
// replies from a script and records what the client wrote, for running a
// session without a live relay.
