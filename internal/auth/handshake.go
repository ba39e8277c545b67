// Package auth implements the console login exchange: hello, mutual
// cram-md5 challenge/response, the TLS capability check and the optional
// PAM credential exchange.
package auth

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/codewiresh/dcon/internal/connection"
	"github.com/codewiresh/dcon/internal/protocol"
)

var (
	ErrAuthentication = errors.New("director authentication failed")
	ErrTLSRequired    = errors.New("tls required but not available")
)

// Stream is the transport the handshake runs over.
type Stream interface {
	connection.PacketReader
	connection.PacketWriter
	StartTLS(ctx context.Context, cfg *tls.Config) error
	IsTLS() bool
}

// Credentials identify the console to the director.
type Credentials struct {
	ConsoleName string // empty selects the default console
	Password    string // clear text, or "[md5]<hex digest>"

	// TLSNeed is advertised to the director. TLSConfig is used when both
	// sides can do TLS and the stream is still in clear text.
	TLSNeed   protocol.TLSNeed
	TLSConfig *tls.Config

	PAMUsername string
	PAMPassword string
}

// Result describes an authenticated connection.
type Result struct {
	Director string
	Version  string
	Banner   string
	TLS      bool // stream was upgraded in band
	PAM      bool // PAM credentials were accepted
}

// Handshake logs in. Any error is terminal for the stream; the caller must
// close it.
func Handshake(ctx context.Context, s Stream, cred Credentials) (*Result, error) {
	key := PasswordKey(cred.Password)
	name := cred.ConsoleName
	if name == "" {
		name = protocol.DefaultConsoleName
	}

	if err := s.WritePacket([]byte(protocol.Hello(name))); err != nil {
		return nil, fmt.Errorf("sending hello: %w", err)
	}

	// The director challenges first.
	line, err := readLine(s)
	if err != nil {
		return nil, fmt.Errorf("reading director challenge: %w", err)
	}
	challenge, err := protocol.ParseChallenge(line)
	if err != nil {
		return nil, fmt.Errorf("%w: director refused hello for console %q: %s", ErrAuthentication, name, strings.TrimSpace(line))
	}
	if err := s.WritePacket([]byte(Respond(challenge, key))); err != nil {
		return nil, fmt.Errorf("sending challenge response: %w", err)
	}
	if err := expectAuthOK(s, "director rejected our response"); err != nil {
		return nil, err
	}

	// Then we challenge the director.
	ours, err := NewChallenge(name, cred.TLSNeed)
	if err != nil {
		return nil, err
	}
	if err := s.WritePacket([]byte(ours.Line())); err != nil {
		return nil, fmt.Errorf("sending challenge: %w", err)
	}
	answer, err := readLine(s)
	if err != nil {
		return nil, fmt.Errorf("reading director response: %w", err)
	}
	if !Verify(ours.Value, key, answer) {
		_ = s.WritePacket([]byte(protocol.AuthFailed))
		return nil, fmt.Errorf("%w: director failed our challenge, wrong password?", ErrAuthentication)
	}
	if err := s.WritePacket([]byte(protocol.AuthOK)); err != nil {
		return nil, fmt.Errorf("acknowledging director: %w", err)
	}

	res := &Result{}
	if !s.IsTLS() {
		upgrade, err := negotiateTLS(cred.TLSNeed, challenge.TLS)
		if err != nil {
			return nil, err
		}
		if upgrade {
			if cred.TLSConfig == nil {
				return nil, fmt.Errorf("%w: no tls configuration for in-band upgrade", ErrTLSRequired)
			}
			if err := s.StartTLS(ctx, cred.TLSConfig); err != nil {
				return nil, err
			}
			res.TLS = true
		}
	}

	if err := finish(s, cred, res); err != nil {
		return nil, err
	}
	return res, nil
}

// negotiateTLS compares both capabilities and reports whether to upgrade.
func negotiateTLS(local, remote protocol.TLSNeed) (bool, error) {
	switch {
	case local == protocol.TLSRequired && remote == protocol.TLSNone:
		return false, fmt.Errorf("%w: console requires tls, director cannot do it", ErrTLSRequired)
	case remote == protocol.TLSRequired && local == protocol.TLSNone:
		return false, fmt.Errorf("%w: director requires tls, console is not configured for it", ErrTLSRequired)
	}
	return local >= protocol.TLSOK && remote >= protocol.TLSOK, nil
}

// finish reads the director's verdict, performing the PAM exchange when the
// director asks for it.
func finish(s Stream, cred Credentials, res *Result) error {
	for {
		line, err := readLine(s)
		if err != nil {
			return fmt.Errorf("reading director greeting: %w", err)
		}
		msg, err := protocol.ParseMessage(line)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}

		switch msg.ID {
		case protocol.MsgOK:
			banner := protocol.ParseBanner(msg.Text())
			res.Director = banner.Director
			res.Version = banner.Version
			res.Banner = msg.Text()
			return nil

		case protocol.MsgInfo:
			continue

		case protocol.MsgPAMRequired:
			if res.PAM {
				return fmt.Errorf("%w: director rejected PAM credentials for %q", ErrAuthentication, cred.PAMUsername)
			}
			if cred.PAMUsername == "" {
				return fmt.Errorf("%w: director requires PAM credentials", ErrAuthentication)
			}
			creds := protocol.FormatMessage(protocol.MsgPAMUserCredentials, cred.PAMUsername, cred.PAMPassword)
			if err := s.WritePacket([]byte(creds)); err != nil {
				return fmt.Errorf("sending PAM credentials: %w", err)
			}
			res.PAM = true

		default:
			return fmt.Errorf("%w: %s", ErrAuthentication, strings.TrimSpace(msg.Text()))
		}
	}
}

func expectAuthOK(s Stream, why string) error {
	line, err := readLine(s)
	if err != nil {
		return fmt.Errorf("reading auth reply: %w", err)
	}
	if strings.TrimRight(line, "\r\n\x00") != strings.TrimSuffix(protocol.AuthOK, "\n") {
		return fmt.Errorf("%w: %s", ErrAuthentication, why)
	}
	return nil
}

// readLine reads one data packet. Signals are not part of the login
// exchange, except a terminate which means the director hung up on us.
func readLine(s Stream) (string, error) {
	p, err := s.ReadPacket()
	if err != nil {
		return "", err
	}
	switch p.Kind {
	case protocol.KindData:
		return p.Text(), nil
	case protocol.KindSignal:
		if p.Signal == protocol.SignalTerminate {
			return "", fmt.Errorf("%w: director terminated the login", ErrAuthentication)
		}
		return "", fmt.Errorf("%w: unexpected %s during login", protocol.ErrProtocolFraming, p.Signal)
	default:
		return "", fmt.Errorf("%w: unexpected empty packet during login", protocol.ErrProtocolFraming)
	}
}
