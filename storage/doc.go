package storage

// storage contains the KeyValue interface for working with a persistent key/
// value store, as well as an implementation for BadgerDB. The mail client
// uses it as a send journal, remembering which messages were already
// delivered. Note that the storage package isn't designed to represent
// _what_ is stored in the database, and deals only in opaque binary data.
