package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means no entry exists for a key, including keys whose
	// TTL has expired.
	ErrNotFound = errors.New("entry not found")
	// ErrNoOp is returned by writes to a NoOpDB.
	ErrNoOp = errors.New("the no-op database doesn't store anything")
)

// KVConfig contains settings specific to BadgerDB connections
type KVConfig struct {
	StorageDirPath string        `yaml:"storageDir" json:"storageDir"`
	KeyTTLDuration time.Duration `yaml:"keyTTL" json:"keyTTL"`
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (kc *KVConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	v := make(map[string]string)
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the storage config: %v", err)
	}

	sp, ok := v["storageDir"]
	if !ok || sp == "" {
		return errors.New("the storage config must include a storageDir")
	}

	t, ok := v["keyTTL"]
	if !ok {
		return errors.New("the storage config must include a keyTTL")
	}
	d, err := time.ParseDuration(t)
	if err != nil {
		return fmt.Errorf("can't parse the keyTTL as a duration: %v", err)
	}
	if d <= 0 {
		return errors.New("the keyTTL must be positive")
	}

	kc.StorageDirPath = sp
	kc.KeyTTLDuration = d
	return nil
}

// KeyValue exposes a common interface for performing CRUD operations on an
// underlying storage layer. Assumes some kind of persistent KV store
// for the send journal.
//
// Implentations need to include connection logic in code to initialize
// a Store.
type KeyValue interface {
	// Replace the value of an entry or create a new one if it doesn't exist
	Put(KVEntry) error
	// Return an entry given its key. Missing keys are ErrNotFound.
	Read(key []byte) (KVEntry, error)
	// Cleanup performs routine deletion of old records. We assign
	// TTLs to KV pairs and delete them periodically.
	Cleanup() error
	// Drain/tear down the connection, or something analogous for
	// an embedded database
	Close() error
}

// KVEntry is what we'll write to and read from the KV store
type KVEntry struct {
	Key   []byte
	Value []byte
}
