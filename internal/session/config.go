package session

import (
	"crypto/tls"
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/codewiresh/dcon/internal/auth"
	"github.com/codewiresh/dcon/internal/connection"
	"github.com/codewiresh/dcon/internal/protocol"
)

// DefaultPort is the director's console port.
const DefaultPort = 9101

// TLSMode selects when TLS is negotiated.
type TLSMode string

const (
	// TLSImmediate wraps the socket before the hello line, as directors
	// configured with TLS-PSK or "TLS Enable" on the listener expect.
	TLSImmediate TLSMode = "immediate"
	// TLSNegotiated upgrades in band after cram-md5, the legacy way.
	TLSNegotiated TLSMode = "negotiated"
)

// ConnectionConfig describes one director and how to log in to it.
type ConnectionConfig struct {
	Host            string `validate:"required,hostname_rfc1123|ip"`
	Port            int    `validate:"omitempty,min=1,max=65535"`
	ConsoleName     string
	ConsolePassword string `validate:"required"`

	UseTLS         bool
	TLSMode        TLSMode `validate:"omitempty,oneof=immediate negotiated"`
	TLSRequired    bool
	TLSVerifyPeer  bool
	CAFile         string `validate:"omitempty,file"`
	CertFile       string `validate:"omitempty,file"`
	KeyFile        string `validate:"omitempty,file"`
	CertPassphrase string

	PAMUsername string
	PAMPassword string `validate:"required_with=PAMUsername"`

	Catalog         string
	InitialAPILevel protocol.APILevel `validate:"min=0,max=2"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration without touching the network.
func (c ConnectionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.TLSRequired && !c.UseTLS {
		return fmt.Errorf("%w: tls required but tls disabled", ErrInvalidConfig)
	}
	return nil
}

// Address returns host:port, using DefaultPort when Port is unset.
func (c ConnectionConfig) Address() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c ConnectionConfig) tlsMode() TLSMode {
	if c.TLSMode == "" {
		return TLSNegotiated
	}
	return c.TLSMode
}

func (c ConnectionConfig) tlsConfig() (*tls.Config, error) {
	if !c.UseTLS {
		return nil, nil
	}
	return connection.TLSFiles{
		CAFile:     c.CAFile,
		CertFile:   c.CertFile,
		KeyFile:    c.KeyFile,
		Passphrase: c.CertPassphrase,
		VerifyPeer: c.TLSVerifyPeer,
		ServerName: c.Host,
	}.Config()
}

func (c ConnectionConfig) credentials(tlsCfg *tls.Config) auth.Credentials {
	need := protocol.TLSNone
	switch {
	case c.UseTLS && c.TLSRequired:
		need = protocol.TLSRequired
	case c.UseTLS:
		need = protocol.TLSOK
	}
	return auth.Credentials{
		ConsoleName: c.ConsoleName,
		Password:    c.ConsolePassword,
		TLSNeed:     need,
		TLSConfig:   tlsCfg,
		PAMUsername: c.PAMUsername,
		PAMPassword: c.PAMPassword,
	}
}
