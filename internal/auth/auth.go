package auth

import (
	"errors"
	"fmt"
	"strings"

	"kbridge/internal/config"
)

var ErrUnsupportedMechanism = errors.New("auth: unsupported mechanism")

// Secret is a write-only string: it never round-trips through logs or
// serialization. Use Reveal at the single point the transport needs it.
type Secret string

func (Secret) String() string   { return "******" }
func (Secret) GoString() string { return `"******"` }

func (Secret) MarshalText() ([]byte, error) { return []byte("******"), nil }

func (s Secret) Reveal() string { return string(s) }

type Mechanism int

const (
	MechanismNone Mechanism = iota
	MechanismPlain
	MechanismKerberos
)

// Credentials is the resolved auth variant. Only the fields of the
// selected mechanism are populated.
type Credentials struct {
	Mechanism Mechanism

	// plain
	Username string
	Password Secret

	// kerberos
	Principal   string
	KeytabFile  string
	Realm       string
	ServiceName string
}

// ResolveCredentials maps the auth config onto one of the supported
// mechanisms.
func ResolveCredentials(cfg config.Auth) (Credentials, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Mechanism)) {
	case "", "none":
		return Credentials{Mechanism: MechanismNone}, nil
	case "plain", "password":
		if cfg.Username == "" {
			return Credentials{}, fmt.Errorf("%w: plain auth without username", ErrUnsupportedMechanism)
		}
		return Credentials{
			Mechanism: MechanismPlain,
			Username:  cfg.Username,
			Password:  Secret(cfg.Password),
		}, nil
	case "kerberos", "gssapi":
		if cfg.Principal == "" || cfg.KeytabFile == "" {
			return Credentials{}, fmt.Errorf("%w: kerberos auth needs principal and keytab_file", ErrUnsupportedMechanism)
		}
		svc := cfg.ServiceName
		if svc == "" {
			svc = "kafka"
		}
		return Credentials{
			Mechanism:   MechanismKerberos,
			Principal:   cfg.Principal,
			KeytabFile:  cfg.KeytabFile,
			Realm:       cfg.Realm,
			ServiceName: svc,
		}, nil
	default:
		return Credentials{}, fmt.Errorf("%w: %q", ErrUnsupportedMechanism, cfg.Mechanism)
	}
}

// TLSOptions is the client-side TLS descriptor; the zero value means
// TLS disabled.
type TLSOptions struct {
	Enabled    bool
	CertFile   string
	KeyFile    string
	CAFile     string
	VerifyPeer bool
}

func ResolveTLS(cfg config.TLS) TLSOptions {
	if !cfg.Enabled {
		return TLSOptions{}
	}
	return TLSOptions{
		Enabled:    true,
		CertFile:   cfg.CertFile,
		KeyFile:    cfg.KeyFile,
		CAFile:     cfg.CAFile,
		VerifyPeer: cfg.VerifyPeer,
	}
}
