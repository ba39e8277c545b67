package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/codewiresh/dcon/internal/decoder"
	"github.com/codewiresh/dcon/internal/protocol"
	"github.com/codewiresh/dcon/internal/session"
)

// Options controls how sessions are opened.
type Options struct {
	Session session.Options

	// Attempts is the number of dial attempts. Only connection failures
	// are retried; a rejected login is final.
	Attempts uint
	Delay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts == 0 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = 500 * time.Millisecond
	}
	return o
}

// Dial opens and authenticates a session, retrying while the director is
// unreachable.
func Dial(ctx context.Context, cfg session.ConnectionConfig, opts Options) (*session.Session, error) {
	opts = opts.withDefaults()

	var s *session.Session
	err := retry.Do(func() error {
		var err error
		s, err = session.Open(ctx, cfg, opts.Session)
		return err
	},
		retry.Context(ctx),
		retry.Attempts(opts.Attempts),
		retry.Delay(opts.Delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, session.ErrConnection)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Uint("attempt", n+1).Str("director", cfg.Address()).Msg("director unreachable, retrying")
		}))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run opens a session, sends a single command and disconnects. It is the
// building block for one-shot commands.
func Run(ctx context.Context, cfg session.ConnectionConfig, command string, opts Options) (*session.CommandResult, error) {
	s, err := Dial(ctx, cfg, opts)
	if err != nil {
		return nil, err
	}
	defer s.Disconnect()

	res, err := s.SendCommand(ctx, command)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Describe turns an error into a message for the person at the console,
// with a hint where one helps.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	var de *decoder.DirectorError
	switch {
	case errors.Is(err, session.ErrInvalidConfig):
		return err.Error()
	case errors.Is(err, session.ErrTLSRequired):
		return "TLS mismatch: " + err.Error() + "\n\nCheck use_tls and tls_required in the profile"
	case errors.Is(err, session.ErrTLS):
		return "TLS negotiation failed: " + err.Error() + "\n\nCheck the CA and certificate files"
	case errors.Is(err, session.ErrAuthentication):
		return "Invalid credentials: " + err.Error() + "\n\nCheck the console name and password"
	case errors.Is(err, session.ErrConnection):
		return "Could not reach director: " + err.Error()
	case errors.Is(err, session.ErrCommandTimeout):
		return "Director did not answer in time: " + err.Error() + "\n\nThe connection was closed, run the command again"
	case errors.Is(err, session.ErrSessionUnusable):
		return "Connection to director lost: " + err.Error() + "\n\nReconnect to continue"
	case errors.Is(err, session.ErrConnectionClosed):
		return "Director closed the connection: " + err.Error()
	case errors.Is(err, session.ErrProtocolFraming):
		return "Unexpected data from director: " + err.Error()
	case errors.Is(err, session.ErrResponseTooLarge):
		return "Result too large for the director to send: " + err.Error() + "\n\nNarrow the query or use limit= and offset="
	case errors.As(err, &de):
		return "Director: " + de.Message
	case errors.Is(err, session.ErrMissingKey), errors.Is(err, session.ErrJSONDecode):
		return "Unexpected response: " + err.Error()
	}
	return err.Error()
}

// CommandError returns the director's complaint about a command as an
// error, or nil when the command succeeded.
func CommandError(res *session.CommandResult) error {
	if res == nil || !res.IsError {
		return nil
	}
	msg := strings.TrimSpace(res.ErrorMessage)
	if msg == "" {
		msg = protocol.Verb(res.Command) + " failed"
	}
	return fmt.Errorf("%w: %s", session.ErrCommandFailed, msg)
}
