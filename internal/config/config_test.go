package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

const tomlConfig = `
default = "prod"

[directors.prod]
host = "bareos.example.com"
console = "admin"
password = "secret"
catalog = "MyCatalog"
api = 2
command_timeout = "90s"

[directors.prod.tls]
enabled = true
required = true
mode = "immediate"

[directors.lab]
host = "10.0.0.5"
port = 9201
password_source = "keyring"

[directors.lab.pam]
username = "alice"
password = "wonderland"
`

const yamlConfig = `
directors:
  only:
    host: dir.local
    password: hunter2
    connect_timeout: 3s
`

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

type keys map[string]string

func (k keys) Get(profile string) (string, error) {
	if v, ok := k[profile]; ok {
		return v, nil
	}
	return "", errors.New("secret not found in keyring")
}

func TestLoadTOML(t *testing.T) {
	t.Setenv(EnvDirector, "")
	t.Setenv(EnvPassword, "")
	t.Setenv(EnvPAMPassword, "")

	cfg, err := Load(write(t, "dcon.toml", tomlConfig))
	require.NoError(t, err)
	assert.Equal(t, []string{"lab", "prod"}, cfg.Names())

	name, p, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
	assert.Equal(t, 90*time.Second, p.CommandTimeout.Duration)
	assert.Equal(t, 90*time.Second, p.SessionOptions().CommandTimeout)

	cc, err := p.ConnectionConfig(name, nil)
	require.NoError(t, err)
	assert.Equal(t, session.ConnectionConfig{
		Host:            "bareos.example.com",
		ConsoleName:     "admin",
		ConsolePassword: "secret",
		UseTLS:          true,
		TLSMode:         session.TLSImmediate,
		TLSRequired:     true,
		Catalog:         "MyCatalog",
		InitialAPILevel: protocol.APIJSONMeta,
	}, cc)
	require.NoError(t, cc.Validate())
	assert.Equal(t, "bareos.example.com:9101", cc.Address())
}

func TestLoadYAML(t *testing.T) {
	t.Setenv(EnvDirector, "")
	t.Setenv(EnvPassword, "")

	cfg, err := Load(write(t, "dcon.yaml", yamlConfig))
	require.NoError(t, err)

	// A single profile is selected without a default.
	name, p, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "only", name)
	assert.Equal(t, 3*time.Second, p.ConnectTimeout.Duration)

	cc, err := p.ConnectionConfig(name, nil)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", cc.ConsolePassword)
	assert.Equal(t, "dir.local:9101", cc.Address())
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Directors)

	t.Setenv(EnvDirector, "")
	_, _, err = cfg.Resolve("")
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestLoadRejectsInvalidProfiles(t *testing.T) {
	cases := map[string]string{
		"no host":         "[directors.a]\npassword = \"x\"\n",
		"bad port":        "[directors.a]\nhost = \"dir\"\nport = 70000\n",
		"bad source":      "[directors.a]\nhost = \"dir\"\npassword_source = \"vault\"\n",
		"bad api":         "[directors.a]\nhost = \"dir\"\napi = 5\n",
		"bad tls mode":    "[directors.a]\nhost = \"dir\"\n[directors.a.tls]\nmode = \"always\"\n",
		"required no tls": "[directors.a]\nhost = \"dir\"\n[directors.a.tls]\nrequired = true\n",
		"unknown default": "default = \"b\"\n[directors.a]\nhost = \"dir\"\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, "dcon.toml", content))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(write(t, "dcon.toml", "[directors.a\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing")
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := Load(write(t, "dcon.toml", tomlConfig))
	require.NoError(t, err)

	t.Setenv(EnvDirector, "lab")
	t.Setenv(EnvPassword, "from-env")
	t.Setenv(EnvPAMPassword, "pam-from-env")

	name, p, err := cfg.Resolve("")
	require.NoError(t, err)
	assert.Equal(t, "lab", name)

	cc, err := p.ConnectionConfig(name, nil)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cc.ConsolePassword)
	assert.Equal(t, "alice", cc.PAMUsername)
	assert.Equal(t, "pam-from-env", cc.PAMPassword)

	// An explicit name wins over the environment.
	name, _, err = cfg.Resolve("prod")
	require.NoError(t, err)
	assert.Equal(t, "prod", name)
}

func TestKeyringPassword(t *testing.T) {
	t.Setenv(EnvPassword, "")
	t.Setenv(EnvPAMPassword, "")
	cfg, err := Load(write(t, "dcon.toml", tomlConfig))
	require.NoError(t, err)
	_, p, err := cfg.Resolve("lab")
	require.NoError(t, err)

	cc, err := p.ConnectionConfig("lab", keys{"lab": "from-keyring"})
	require.NoError(t, err)
	assert.Equal(t, "from-keyring", cc.ConsolePassword)
	assert.Equal(t, 9201, cc.Port)
	assert.Equal(t, "wonderland", cc.PAMPassword)

	_, err = p.ConnectionConfig("lab", keys{})
	assert.ErrorIs(t, err, ErrNoPassword)
	_, err = p.ConnectionConfig("lab", nil)
	assert.ErrorIs(t, err, ErrNoPassword)
}

func TestEnvSourceNeedsVariable(t *testing.T) {
	t.Setenv(EnvPassword, "")
	p := &Profile{Host: "dir", PasswordSource: SourceEnv}
	_, err := p.ConnectionConfig("x", nil)
	assert.ErrorIs(t, err, ErrNoPassword)

	t.Setenv(EnvPassword, "set")
	cc, err := p.ConnectionConfig("x", nil)
	require.NoError(t, err)
	assert.Equal(t, "set", cc.ConsolePassword)
}

func TestSaveRoundTrip(t *testing.T) {
	for _, file := range []string{"dcon.toml", "dcon.yaml"} {
		t.Run(file, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", file)
			cfg, err := Load(path)
			require.NoError(t, err)

			cfg.Default = "home"
			cfg.Directors["home"] = &Profile{
				Host:           "192.168.1.10",
				Console:        "ops",
				PasswordSource: SourceKeyring,
				CommandTimeout: Duration{2 * time.Minute},
				TLS:            TLSProfile{Enabled: true, VerifyPeer: true, CAFile: "/etc/bareos/ca.pem"},
			}
			require.NoError(t, cfg.Save())

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			again, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "home", again.Default)
			assert.Equal(t, cfg.Directors["home"], again.Directors["home"])
		})
	}
}

func TestSaveReportsWriteFailure(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("no /dev/full")
	}
	cfg := &Config{
		path:      "/dev/full",
		Default:   "home",
		Directors: map[string]*Profile{"home": {Host: "192.168.1.10"}},
	}
	err := cfg.Save()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/full")
}
