package email

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	aunits "github.com/alecthomas/units"
)

const (
	smtpScheme  string = "smtp"
	smtpsScheme string = "smtps"

	defaultConnectTimeout    = time.Duration(15) * time.Second
	defaultReadTimeout       = time.Duration(5) * time.Minute
	defaultMaxAttachmentSize = 10 * aunits.MiB
)

// NoReadTimeout disables the read timeout when set as
// UserConfig.ReadTimeout.
const NoReadTimeout time.Duration = -1

// UserConfig represents config options provided by
// the user. Not meant to be used directly for sending
// email without validation.
type UserConfig struct {
	RelayHost string
	RelayPort int
	// Secure means TLS from the first byte, i.e., an smtps:// address
	Secure               bool
	SkipCertVerification bool
	Username             string
	Password             string
	FromAddress          string
	// LocalName is announced in EHLO
	LocalName      string
	ConnectTimeout time.Duration
	// ReadTimeout bounds every read and write on the connection. Zero
	// means the default of five minutes, NoReadTimeout means no limit.
	ReadTimeout       time.Duration
	MaxAttachmentSize aunits.Base2Bytes
}

// rawUserConfig is the user config as it appears in YAML
type rawUserConfig struct {
	RelayAddress         string `yaml:"relayAddress"`
	SkipCertVerification bool   `yaml:"skipCertVerification"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	FromAddress          string `yaml:"fromAddress"`
	LocalName            string `yaml:"localName"`
	ConnectTimeout       string `yaml:"connectTimeout"`
	ReadTimeout          string `yaml:"readTimeout"`
	MaxAttachmentSize    string `yaml:"maxAttachmentSize"`
}

// UnmarshalYAML parses a user-provided YAML configuration, returning any
// parsing errors.
func (uc *UserConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var v rawUserConfig
	if err := unmarshal(&v); err != nil {
		return fmt.Errorf("can't parse the email config: %v", err)
	}

	if v.RelayAddress == "" {
		return errors.New("the email config must include a relayAddress")
	}
	host, port, secure, err := parseRelayAddress(v.RelayAddress)
	if err != nil {
		return err
	}

	if v.FromAddress == "" {
		return errors.New("the email config must include a fromAddress")
	}

	if (v.Username == "") != (v.Password == "") {
		return errors.New("the email config must include both a username and a password, or neither")
	}

	var ct time.Duration
	if v.ConnectTimeout != "" {
		ct, err = time.ParseDuration(v.ConnectTimeout)
		if err != nil {
			return fmt.Errorf("can't parse the connectTimeout as a duration: %v", err)
		}
	}

	// A missing key gets the default later. An explicit zero disables the
	// read timeout.
	var rt time.Duration
	if v.ReadTimeout != "" {
		rt, err = time.ParseDuration(v.ReadTimeout)
		if err != nil {
			return fmt.Errorf("can't parse the readTimeout as a duration: %v", err)
		}
		if rt <= 0 {
			rt = NoReadTimeout
		}
	}

	var ms aunits.Base2Bytes
	if v.MaxAttachmentSize != "" {
		ms, err = aunits.ParseBase2Bytes(v.MaxAttachmentSize)
		if err != nil {
			return fmt.Errorf("can't parse the maxAttachmentSize: %v", err)
		}
	}

	*uc = UserConfig{
		RelayHost:            host,
		RelayPort:            port,
		Secure:               secure,
		SkipCertVerification: v.SkipCertVerification,
		Username:             v.Username,
		Password:             v.Password,
		FromAddress:          v.FromAddress,
		LocalName:            v.LocalName,
		ConnectTimeout:       ct,
		ReadTimeout:          rt,
		MaxAttachmentSize:    ms,
	}
	return nil
}

// parseRelayAddress splits a relay URL into its parts. Don't require the
// user to include a scheme. If we can't find one, use the one for plain
// SMTP.
func parseRelayAddress(addr string) (host string, port int, secure bool, err error) {
	if !strings.Contains(addr, "://") {
		addr = smtpScheme + "://" + addr
	}

	u, err := url.Parse(addr)
	if err != nil {
		return "", 0, false, fmt.Errorf("can't parse the relay address: %v", err)
	}

	switch u.Scheme {
	case smtpScheme:
	case smtpsScheme:
		secure = true
	default:
		return "", 0, false, fmt.Errorf("the relay address must use %v:// or %v://, not %v://", smtpScheme, smtpsScheme, u.Scheme)
	}

	if u.Hostname() == "" {
		return "", 0, false, errors.New("the relay address must include a host")
	}

	if u.Port() == "" {
		return "", 0, false, errors.New("the relay address must include a port")
	}
	port, err = strconv.Atoi(u.Port())
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false, fmt.Errorf("%v is not a valid port", u.Port())
	}

	return u.Hostname(), port, secure, nil
}

// CheckAndSetDefaults validates uc and either returns a copy of uc with
// default settings applied or returns an error due to an invalid
// configuration
func (uc *UserConfig) CheckAndSetDefaults() (UserConfig, error) {
	c := *uc

	if c.RelayHost == "" {
		return UserConfig{}, errors.New("must supply a relay host")
	}
	if c.RelayPort < 1 || c.RelayPort > 65535 {
		return UserConfig{}, fmt.Errorf("%v is not a valid relay port", c.RelayPort)
	}
	if c.FromAddress == "" {
		return UserConfig{}, errors.New("must supply a \"from\" address")
	}
	if c.ConnectTimeout < 0 || c.MaxAttachmentSize < 0 {
		return UserConfig{}, errors.New("the connect timeout and attachment size can't be negative")
	}
	if c.ReadTimeout < 0 && c.ReadTimeout != NoReadTimeout {
		return UserConfig{}, errors.New("the read timeout can't be negative, use NoReadTimeout to disable it")
	}

	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaultReadTimeout
	}
	if c.MaxAttachmentSize == 0 {
		c.MaxAttachmentSize = defaultMaxAttachmentSize
	}

	return c, nil
}
