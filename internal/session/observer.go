package session

import (
	"time"

	"github.com/codewiresh/dcon/internal/protocol"
)

// Observer receives session events. Implementations must not block.
type Observer interface {
	HandshakeDone(HandshakeEvent)
	CommandDone(CommandEvent)
}

// HandshakeEvent describes one login attempt.
type HandshakeEvent struct {
	Director string // address
	Duration time.Duration
	TLS      bool
	PAM      bool
	Err      error
}

// CommandEvent describes one command round trip.
type CommandEvent struct {
	Director string
	Command  string
	Verb     string
	APILevel protocol.APILevel
	Start    time.Time
	Duration time.Duration
	Bytes    int
	IsError  bool
	Message  string // director error text, or the transport error
	Err      error
}

// Observers fans events out to each non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var m multiObserver
	for _, o := range obs {
		if o != nil {
			m = append(m, o)
		}
	}
	return m
}

type multiObserver []Observer

func (m multiObserver) HandshakeDone(ev HandshakeEvent) {
	for _, o := range m {
		o.HandshakeDone(ev)
	}
}

func (m multiObserver) CommandDone(ev CommandEvent) {
	for _, o := range m {
		o.CommandDone(ev)
	}
}

type nopObserver struct{}

func (nopObserver) HandshakeDone(HandshakeEvent) {}
func (nopObserver) CommandDone(CommandEvent)     {}
