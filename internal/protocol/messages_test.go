package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHello(t *testing.T) {
	assert.Equal(t, "Hello *UserAgent* calling\n", Hello(""))
	assert.Equal(t, "Hello admin calling\n", Hello("admin"))
	assert.Equal(t, "Hello web\x01admin calling\n", Hello("web admin"))
	assert.Equal(t, "web admin", UnbashSpaces(BashSpaces("web admin")))
}

func TestParseChallenge(t *testing.T) {
	c, err := ParseChallenge("auth cram-md5c <1234.1700000000@bareos-dir> ssl=1\n")
	require.NoError(t, err)
	assert.Equal(t, "<1234.1700000000@bareos-dir>", c.Value)
	assert.Equal(t, TLSOK, c.TLS)
	assert.True(t, c.Compatible)
	assert.Equal(t, "auth cram-md5c <1234.1700000000@bareos-dir> ssl=1\n", c.Line())

	c, err = ParseChallenge("auth cram-md5 <1.2@dir> ssl=0")
	require.NoError(t, err)
	assert.False(t, c.Compatible)
	assert.Equal(t, TLSNone, c.TLS)
}

func TestParseChallengeRejectsGarbage(t *testing.T) {
	for _, line := range []string{
		"",
		"1999 Authorization failed.\n",
		"auth sha1 <x> ssl=0",
		"auth cram-md5 <x> tls=0",
		"auth cram-md5 <x> ssl=7",
	} {
		_, err := ParseChallenge(line)
		assert.ErrorIs(t, err, ErrProtocolFraming, "%q", line)
	}
}

func TestParseMessage(t *testing.T) {
	m, err := ParseMessage("1000 OK: bareos-dir Version: 23.0.1 (17 December 2023)\n")
	require.NoError(t, err)
	assert.Equal(t, MsgOK, m.ID)
	assert.Equal(t, "OK: bareos-dir Version: 23.0.1 (17 December 2023)", m.Text())

	m, err = ParseMessage(FormatMessage(MsgPAMRequired, "PAM authentication is required"))
	require.NoError(t, err)
	assert.Equal(t, MsgPAMRequired, m.ID)
	assert.Equal(t, []string{"PAM authentication is required"}, m.Args)

	m, err = ParseMessage(FormatMessage(MsgPAMUserCredentials, "alice", "s3cret pass"))
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "s3cret pass"}, m.Args)

	m, err = ParseMessage("1000")
	require.NoError(t, err)
	assert.Empty(t, m.Args)

	_, err = ParseMessage("You are not welcome")
	assert.ErrorIs(t, err, ErrProtocolFraming)
}

func TestParseBanner(t *testing.T) {
	b := ParseBanner("OK: bareos-dir Version: 23.0.1 (17 December 2023)")
	assert.Equal(t, "bareos-dir", b.Director)
	assert.Equal(t, "23.0.1", b.Version)

	b = ParseBanner("OK: lonely-dir")
	assert.Equal(t, "lonely-dir", b.Director)
	assert.Empty(t, b.Version)
}

func TestAPILevel(t *testing.T) {
	assert.Equal(t, ".api 2", APIJSONMeta.Command())
	assert.True(t, APIJSON.IsJSON())
	assert.False(t, APIText.IsJSON())
	assert.False(t, APILevel(3).Valid())
	assert.False(t, APILevel(-1).Valid())
}
