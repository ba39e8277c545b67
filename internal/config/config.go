package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

// Environment overrides.
const (
	EnvDirector    = "DCON_DIRECTOR"
	EnvPassword    = "DCON_PASSWORD"
	EnvPAMPassword = "DCON_PAM_PASSWORD"
	EnvConfig      = "DCON_CONFIG"
)

// Password sources.
const (
	SourceConfig  = "config"
	SourceEnv     = "env"
	SourceKeyring = "keyring"
)

var (
	ErrNoProfile     = errors.New("no director profile")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrNoPassword    = errors.New("no console password")
)

// Config is the top-level configuration loaded from dcon.toml or
// dcon.yaml.
type Config struct {
	// Default names the profile used when none is given.
	Default string `toml:"default,omitempty" yaml:"default,omitempty"`
	// HistoryDB is the command history database. Empty means
	// history.db next to the config file.
	HistoryDB string `toml:"history_db,omitempty" yaml:"history_db,omitempty"`

	Directors map[string]*Profile `toml:"directors" yaml:"directors" validate:"dive"`

	path string
}

// Profile describes one director.
type Profile struct {
	Host    string `toml:"host" yaml:"host" validate:"required,hostname_rfc1123|ip"`
	Port    int    `toml:"port,omitempty" yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	Console string `toml:"console,omitempty" yaml:"console,omitempty"`

	// Password is used when PasswordSource is "config" or empty. A value
	// of the form "[md5]<hex>" is a pre-hashed password.
	Password       string `toml:"password,omitempty" yaml:"password,omitempty"`
	PasswordSource string `toml:"password_source,omitempty" yaml:"password_source,omitempty" validate:"omitempty,oneof=config env keyring"`

	Catalog string `toml:"catalog,omitempty" yaml:"catalog,omitempty"`
	API     int    `toml:"api,omitempty" yaml:"api,omitempty" validate:"min=0,max=2"`

	ConnectTimeout Duration `toml:"connect_timeout,omitempty" yaml:"connect_timeout,omitempty"`
	CommandTimeout Duration `toml:"command_timeout,omitempty" yaml:"command_timeout,omitempty"`

	TLS TLSProfile `toml:"tls,omitempty" yaml:"tls,omitempty"`
	PAM PAMProfile `toml:"pam,omitempty" yaml:"pam,omitempty"`
}

// TLSProfile is the TLS part of a profile.
type TLSProfile struct {
	Enabled    bool   `toml:"enabled" yaml:"enabled"`
	Mode       string `toml:"mode,omitempty" yaml:"mode,omitempty" validate:"omitempty,oneof=immediate negotiated"`
	Required   bool   `toml:"required,omitempty" yaml:"required,omitempty"`
	VerifyPeer bool   `toml:"verify_peer,omitempty" yaml:"verify_peer,omitempty"`
	CAFile     string `toml:"ca_file,omitempty" yaml:"ca_file,omitempty"`
	CertFile   string `toml:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile    string `toml:"key_file,omitempty" yaml:"key_file,omitempty"`
	Passphrase string `toml:"passphrase,omitempty" yaml:"passphrase,omitempty"`
}

// PAMProfile holds PAM credentials for consoles that require them.
type PAMProfile struct {
	Username string `toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `toml:"password,omitempty" yaml:"password,omitempty"`
}

// Duration is a time.Duration written as "90s" or "5m".
type Duration struct{ time.Duration }

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Duration) UnmarshalYAML(n *yaml.Node) error { return d.UnmarshalText([]byte(n.Value)) }

func (d Duration) MarshalYAML() (any, error) { return d.String(), nil }

// PasswordGetter looks up a stored console password by profile name.
type PasswordGetter interface {
	Get(profile string) (string, error)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultPath returns $DCON_CONFIG, or dcon.toml in the user config
// directory.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "dcon", "dcon.toml")
}

// Load reads the configuration at path. A missing file yields an empty
// configuration so that a director can still be given on the command line.
// The format follows the file extension: .yaml/.yml or TOML otherwise.
func Load(path string) (*Config, error) {
	cfg := &Config{Directors: make(map[string]*Profile), path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		_, err = toml.Decode(string(data), cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Directors == nil {
		cfg.Directors = make(map[string]*Profile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every profile.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Default != "" && len(c.Directors) > 0 {
		if _, ok := c.Directors[c.Default]; !ok {
			return fmt.Errorf("%w: default profile %q is not defined", ErrInvalidConfig, c.Default)
		}
	}
	for name, p := range c.Directors {
		if p == nil {
			return fmt.Errorf("%w: profile %q is empty", ErrInvalidConfig, name)
		}
		if p.TLS.Required && !p.TLS.Enabled {
			return fmt.Errorf("%w: profile %q requires tls but does not enable it", ErrInvalidConfig, name)
		}
	}
	return nil
}

// Save writes the configuration back to the file it was loaded from,
// creating the directory if necessary.
func (c *Config) Save() error {
	if c.path == "" {
		return fmt.Errorf("%w: configuration has no path", ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(c.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating %s: %w", c.path, err)
	}

	if isYAML(c.path) {
		enc := yaml.NewEncoder(f)
		enc.SetIndent(2)
		err = enc.Encode(c)
		if err == nil {
			err = enc.Close()
		}
	} else {
		err = toml.NewEncoder(f).Encode(c)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("encoding %s: %w", c.path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", c.path, err)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string { return c.path }

// Names returns the profile names in order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Directors))
	for name := range c.Directors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks a profile: name if given, else $DCON_DIRECTOR, else the
// default, else the only profile there is.
func (c *Config) Resolve(name string) (string, *Profile, error) {
	if name == "" {
		name = os.Getenv(EnvDirector)
	}
	if name == "" {
		name = c.Default
	}
	if name == "" && len(c.Directors) == 1 {
		for only := range c.Directors {
			name = only
		}
	}
	if name == "" {
		return "", nil, fmt.Errorf("%w: none selected and no default, have %s", ErrNoProfile, strings.Join(c.Names(), ", "))
	}
	p, ok := c.Directors[name]
	if !ok {
		return "", nil, fmt.Errorf("%w: %q", ErrNoProfile, name)
	}
	return name, p, nil
}

// ConnectionConfig turns the profile into a session configuration,
// resolving the console password from its source. keys may be nil when no
// profile uses the keyring.
func (p *Profile) ConnectionConfig(name string, keys PasswordGetter) (session.ConnectionConfig, error) {
	password, err := p.password(name, keys)
	if err != nil {
		return session.ConnectionConfig{}, err
	}
	pamPassword := p.PAM.Password
	if v := os.Getenv(EnvPAMPassword); v != "" {
		pamPassword = v
	}

	return session.ConnectionConfig{
		Host:            p.Host,
		Port:            p.Port,
		ConsoleName:     p.Console,
		ConsolePassword: password,
		UseTLS:          p.TLS.Enabled,
		TLSMode:         session.TLSMode(p.TLS.Mode),
		TLSRequired:     p.TLS.Required,
		TLSVerifyPeer:   p.TLS.VerifyPeer,
		CAFile:          p.TLS.CAFile,
		CertFile:        p.TLS.CertFile,
		KeyFile:         p.TLS.KeyFile,
		CertPassphrase:  p.TLS.Passphrase,
		PAMUsername:     p.PAM.Username,
		PAMPassword:     pamPassword,
		Catalog:         p.Catalog,
		InitialAPILevel: protocol.APILevel(p.API),
	}, nil
}

// SessionOptions returns the timeouts configured on the profile.
func (p *Profile) SessionOptions() session.Options {
	return session.Options{
		ConnectTimeout: p.ConnectTimeout.Duration,
		CommandTimeout: p.CommandTimeout.Duration,
	}
}

func (p *Profile) password(name string, keys PasswordGetter) (string, error) {
	if v := os.Getenv(EnvPassword); v != "" {
		return v, nil
	}
	switch p.PasswordSource {
	case SourceEnv:
		return "", fmt.Errorf("%w: profile %q reads it from $%s, which is unset", ErrNoPassword, name, EnvPassword)
	case SourceKeyring:
		if keys == nil {
			return "", fmt.Errorf("%w: profile %q uses the keyring, which is unavailable", ErrNoPassword, name)
		}
		v, err := keys.Get(name)
		if err != nil {
			return "", fmt.Errorf("%w: profile %q: %w", ErrNoPassword, name, err)
		}
		return v, nil
	}
	if p.Password == "" {
		return "", fmt.Errorf("%w: profile %q has none configured", ErrNoPassword, name)
	}
	return p.Password, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
