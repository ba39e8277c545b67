package connection

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/codewiresh/dcon/internal/protocol"
)

// DefaultConnectTimeout bounds DNS lookup, TCP connect and an immediate TLS
// handshake.
const DefaultConnectTimeout = 10 * time.Second

var (
	ErrConnection = errors.New("cannot connect to director")
	ErrTLS        = errors.New("tls negotiation failed")
)

// Options controls Dial.
type Options struct {
	Address        string        // host:port
	ConnectTimeout time.Duration // zero means DefaultConnectTimeout
	// TLS, when set, is negotiated before any protocol byte is exchanged.
	TLS *tls.Config
	// MaxPacketSize caps a single incoming payload. Zero means
	// protocol.MaxPayload.
	MaxPacketSize int
}

// Conn is a director connection speaking the console packet protocol.
// It is not safe for concurrent use; the protocol is strictly one request
// at a time.
type Conn struct {
	conn      net.Conn
	tls       bool
	maxPacket int

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to the director. It performs no retries.
func Dial(ctx context.Context, opts Options) (*Conn, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	dialer := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	raw, err := dialer.DialContext(ctx, "tcp", opts.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %w", ErrConnection, opts.Address, err)
	}

	c := New(raw, opts.MaxPacketSize)
	if opts.TLS != nil {
		hctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := c.StartTLS(hctx, opts.TLS); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// New wraps an established connection.
func New(conn net.Conn, maxPacket int) *Conn {
	if maxPacket <= 0 {
		maxPacket = protocol.MaxPayload
	}
	_, isTLS := conn.(*tls.Conn)
	return &Conn{conn: conn, tls: isTLS, maxPacket: maxPacket}
}

// StartTLS upgrades the connection in place.
func (c *Conn) StartTLS(ctx context.Context, cfg *tls.Config) error {
	if c.tls {
		return nil
	}
	tc := tls.Client(c.conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("%w: handshake with %s: %w", ErrTLS, c.conn.RemoteAddr(), err)
	}
	c.conn = tc
	c.tls = true
	return nil
}

// IsTLS reports whether the stream is encrypted.
func (c *Conn) IsTLS() bool { return c.tls }

// TLSState returns the negotiated TLS parameters, if any.
func (c *Conn) TLSState() (tls.ConnectionState, bool) {
	tc, ok := c.conn.(*tls.Conn)
	if !ok {
		return tls.ConnectionState{}, false
	}
	return tc.ConnectionState(), true
}

// RemoteAddr returns the director's address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// ReadPacket reads one packet.
func (c *Conn) ReadPacket() (*protocol.Packet, error) {
	return protocol.ReadPacketLimit(c.conn, c.maxPacket)
}

// WritePacket writes one data packet.
func (c *Conn) WritePacket(payload []byte) error {
	return protocol.WritePacket(c.conn, payload)
}

// WriteSignal writes a signal packet.
func (c *Conn) WriteSignal(sig protocol.Signal) error {
	return protocol.WriteSignal(c.conn, sig)
}

// SetDeadline sets the read and write deadline. A zero value clears it.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// Interrupt unblocks any read or write in progress by moving the deadline
// into the past.
func (c *Conn) Interrupt() { _ = c.conn.SetDeadline(time.Unix(1, 0)) }

// Close closes the connection. It is idempotent and ignores errors from a
// socket that is already gone.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			c.closeErr = err
		}
	})
	return c.closeErr
}

// IsTimeout reports whether err was caused by an expired deadline.
func IsTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
