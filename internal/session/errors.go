package session

import (
	"errors"

	"github.com/codewiresh/dcon/internal/auth"
	"github.com/codewiresh/dcon/internal/connection"
	"github.com/codewiresh/dcon/internal/decoder"
	"github.com/codewiresh/dcon/internal/protocol"
)

var (
	ErrInvalidConfig    = errors.New("invalid connection config")
	ErrNotConnected     = errors.New("session not connected")
	ErrAlreadyConnected = errors.New("session already connected")
	ErrSessionUnusable  = errors.New("session unusable, open a new one")
	ErrCommandInFlight  = errors.New("a command is already in flight on this session")
	ErrCommandTimeout   = errors.New("command timed out")
	ErrInvalidAPILevel  = errors.New("invalid api level")
	ErrCommandFailed    = errors.New("director reported an error")
)

// Errors raised by the layers below, re-exported so callers only need this
// package to classify a failure.
var (
	ErrConnection       = connection.ErrConnection
	ErrTLS              = connection.ErrTLS
	ErrTLSRequired      = auth.ErrTLSRequired
	ErrAuthentication   = auth.ErrAuthentication
	ErrProtocolFraming  = protocol.ErrProtocolFraming
	ErrConnectionClosed = protocol.ErrConnectionClosed
	ErrResponseTooLarge = decoder.ErrResponseTooLarge
	ErrMissingKey       = decoder.ErrMissingKey
	ErrJSONDecode       = decoder.ErrJSONDecode
)
