package userconfig

import (
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
	yaml "gopkg.in/yaml.v2"

	"github.com/ptgott/mailrelay/email"
	"github.com/ptgott/mailrelay/storage"
)

// Meta represents all current config options that the application can use,
// i.e., after validation and parsing
type Meta struct {
	EmailSettings email.UserConfig `yaml:"email"`
	// Storage configures the send journal. Without it, nothing is
	// recorded and every send goes out.
	Storage *storage.KVConfig `yaml:"storage"`
}

// CheckAndSetDefaults validates m and either returns a copy of m with default
// settings applied or returns an error due to an invalid configuration
func (m *Meta) CheckAndSetDefaults() (Meta, error) {
	c := Meta{}

	e, err := m.EmailSettings.CheckAndSetDefaults()
	if err != nil {
		return Meta{}, err
	}
	c.EmailSettings = e

	if m.Storage != nil {
		s := *m.Storage
		if s.StorageDirPath == "" || s.KeyTTLDuration <= 0 {
			return Meta{}, errors.New("the storage section needs a storageDir and a positive keyTTL")
		}
		c.Storage = &s
	}

	return c, nil

}

// Parse generates usable configurations from possibly arbitrary user input.
// An error indicates a problem with parsing or validation. The Reader r
// can be either JSON or YAML.
func Parse(r io.Reader) (*Meta, error) {
	var m Meta
	err := yaml.NewDecoder(r).Decode(&m)
	if err != nil {
		return &Meta{}, fmt.Errorf("can't read the config file as YAML: %v", err)
	}

	var es email.UserConfig = email.UserConfig{}
	if m.EmailSettings == es {
		return &Meta{}, errors.New("must include an \"email\" section")
	}

	if m.Storage == nil {
		log.Debug().Msg(
			"no storage section, so the send journal is disabled",
		)
	}

	return &m, nil

}
