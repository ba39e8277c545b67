package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// APILevel selects the director's output format.
type APILevel int

const (
	APIText     APILevel = 0 // human readable text
	APIJSON     APILevel = 1 // JSON
	APIJSONMeta APILevel = 2 // JSON with pagination metadata
)

// Valid reports whether l is a level the director understands.
func (l APILevel) Valid() bool { return l >= APIText && l <= APIJSONMeta }

// IsJSON reports whether responses at this level are JSON documents.
func (l APILevel) IsJSON() bool { return l == APIJSON || l == APIJSONMeta }

// Command returns the mode switch command for l.
func (l APILevel) Command() string { return ".api " + strconv.Itoa(int(l)) }

// TLSNeed is the ssl=<n> capability advertised during the handshake.
type TLSNeed int

const (
	TLSNone     TLSNeed = 0
	TLSOK       TLSNeed = 1
	TLSRequired TLSNeed = 2
)

func (n TLSNeed) String() string {
	switch n {
	case TLSNone:
		return "none"
	case TLSOK:
		return "ok"
	case TLSRequired:
		return "required"
	default:
		return fmt.Sprintf("tls(%d)", int(n))
	}
}

// DefaultConsoleName identifies the default (director password) console.
const DefaultConsoleName = "*UserAgent*"

// Handshake reply lines.
const (
	AuthOK     = "1000 OK auth\n"
	AuthFailed = "1999 Authorization failed.\n"
)

// RecordSeparator delimits fields of a numbered response message.
const RecordSeparator = "\x1e"

// Response message ids sent by the director during and after login.
const (
	MsgOK                 = 1000
	MsgPAMRequired        = 1001
	MsgInfo               = 1002
	MsgPAMInteractive     = 4001
	MsgPAMUserCredentials = 4002
	MsgRejected           = 1999
)

// BashSpaces replaces spaces with 0x01 so a name survives the director's
// whitespace tokenizer.
func BashSpaces(s string) string { return strings.ReplaceAll(s, " ", "\x01") }

// UnbashSpaces reverses BashSpaces.
func UnbashSpaces(s string) string { return strings.ReplaceAll(s, "\x01", " ") }

// Hello returns the console identification line.
func Hello(consoleName string) string {
	if consoleName == "" {
		consoleName = DefaultConsoleName
	}
	return "Hello " + BashSpaces(consoleName) + " calling\n"
}

// Challenge is a parsed "auth cram-md5" line.
type Challenge struct {
	Value      string
	TLS        TLSNeed
	Compatible bool // cram-md5c: peer expects RFC compliant base64
}

// Line renders c the way the director sends it.
func (c Challenge) Line() string {
	method := "cram-md5"
	if c.Compatible {
		method = "cram-md5c"
	}
	return fmt.Sprintf("auth %s %s ssl=%d\n", method, c.Value, int(c.TLS))
}

// ParseChallenge parses "auth cram-md5[c] <challenge> ssl=<n>".
func ParseChallenge(line string) (Challenge, error) {
	fields := strings.Fields(line)
	if len(fields) != 4 || fields[0] != "auth" {
		return Challenge{}, fmt.Errorf("%w: malformed challenge %q", ErrProtocolFraming, strings.TrimSpace(line))
	}

	var c Challenge
	switch fields[1] {
	case "cram-md5":
	case "cram-md5c":
		c.Compatible = true
	default:
		return Challenge{}, fmt.Errorf("%w: unsupported auth method %q", ErrProtocolFraming, fields[1])
	}
	c.Value = fields[2]

	ssl, ok := strings.CutPrefix(fields[3], "ssl=")
	if !ok {
		return Challenge{}, fmt.Errorf("%w: missing ssl field in %q", ErrProtocolFraming, strings.TrimSpace(line))
	}
	n, err := strconv.Atoi(ssl)
	if err != nil || n < int(TLSNone) || n > int(TLSRequired) {
		return Challenge{}, fmt.Errorf("%w: invalid ssl value %q", ErrProtocolFraming, ssl)
	}
	c.TLS = TLSNeed(n)
	return c, nil
}

// Message is a numbered director response such as "1000 OK: bareos-dir
// Version: 23.0.1". Newer directors separate the fields with
// RecordSeparator, older ones with a single space.
type Message struct {
	ID   int
	Args []string
}

// Text joins the arguments with spaces.
func (m Message) Text() string { return strings.Join(m.Args, " ") }

// ParseMessage parses either message format.
func ParseMessage(raw string) (Message, error) {
	raw = strings.TrimRight(raw, "\r\n\x00")

	var head, rest string
	var sep bool
	if i := strings.Index(raw, RecordSeparator); i >= 0 {
		head, rest, sep = raw[:i], raw[i+1:], true
	} else if i := strings.IndexByte(raw, ' '); i >= 0 {
		head, rest = raw[:i], raw[i+1:]
	} else {
		head = raw
	}

	id, err := strconv.Atoi(head)
	if err != nil {
		return Message{}, fmt.Errorf("%w: unnumbered response %q", ErrProtocolFraming, raw)
	}

	m := Message{ID: id}
	switch {
	case rest == "":
	case sep:
		m.Args = strings.Split(rest, RecordSeparator)
	default:
		m.Args = []string{rest}
	}
	return m, nil
}

// FormatMessage renders a numbered message in the record separated format.
func FormatMessage(id int, args ...string) string {
	return strings.Join(append([]string{strconv.Itoa(id)}, args...), RecordSeparator)
}

// Banner is the director's greeting after a successful login.
type Banner struct {
	Director string
	Version  string
}

// ParseBanner extracts the director name and version from
// "OK: <name> Version: <version> (<date>)".
func ParseBanner(text string) Banner {
	var b Banner
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "OK:"))
	name, version, found := strings.Cut(text, " Version: ")
	b.Director = strings.TrimSpace(name)
	if found {
		version = strings.TrimSpace(version)
		if i := strings.IndexByte(version, ' '); i >= 0 {
			version = version[:i]
		}
		b.Version = version
	}
	return b
}
