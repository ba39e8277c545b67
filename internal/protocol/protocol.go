package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxPayload is the largest payload the director will put in a single
// packet. Anything bigger is refused on read by ReadPacket callers that use
// ReadPacketLimit with this value.
const MaxPayload = 1000000

// Framing errors. Every error returned by this file wraps one of them.
var (
	ErrProtocolFraming  = errors.New("protocol framing error")
	ErrConnectionClosed = errors.New("connection closed")
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrIO               = errors.New("i/o error")
)

// Kind classifies a packet by its length header.
type Kind int

const (
	// KindData carries a payload of exactly the declared length.
	KindData Kind = iota
	// KindEndOfMessage is a zero length header.
	KindEndOfMessage
	// KindSignal is a negative header naming a known Signal.
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindEndOfMessage:
		return "end-of-message"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Packet is one record of the console wire protocol.
// Wire format: [length:i32 BE][payload]
type Packet struct {
	Kind    Kind
	Signal  Signal // set when Kind == KindSignal
	Payload []byte // set when Kind == KindData
}

// Text returns the payload as a string.
func (p *Packet) Text() string { return string(p.Payload) }

// ReadPacket reads a single packet with no payload size limit other than the
// int32 header itself.
func ReadPacket(r io.Reader) (*Packet, error) {
	return ReadPacketLimit(r, math.MaxInt32)
}

// ReadPacketLimit reads a single packet. It reads exactly four header bytes
// and, for data packets, exactly the declared number of payload bytes.
func ReadPacketLimit(r io.Reader, max int) (*Packet, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, readError("reading packet header", err)
	}

	length := int32(binary.BigEndian.Uint32(header[:]))
	switch {
	case length == 0:
		return &Packet{Kind: KindEndOfMessage}, nil
	case length < 0:
		sig := Signal(length)
		if !sig.Known() {
			return nil, fmt.Errorf("%w: unknown signal %d", ErrProtocolFraming, length)
		}
		return &Packet{Kind: KindSignal, Signal: sig}, nil
	}

	if int64(length) > int64(max) {
		return nil, fmt.Errorf("%w: packet of %d bytes exceeds limit of %d", ErrProtocolFraming, length, max)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, readError("reading packet payload", err)
	}
	return &Packet{Kind: KindData, Payload: payload}, nil
}

// WritePacket writes the length header followed by the payload.
func WritePacket(w io.Writer, payload []byte) error {
	if len(payload) > math.MaxInt32 {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(payload)))
	copy(buf[4:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("%w: writing packet: %w", ErrIO, err)
	}
	return nil
}

// WriteString is WritePacket for text payloads.
func WriteString(w io.Writer, s string) error {
	return WritePacket(w, []byte(s))
}

// WriteSignal writes a header-only packet carrying sig.
func WriteSignal(w io.Writer, sig Signal) error {
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(int32(sig)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("%w: writing signal %s: %w", ErrIO, sig, err)
	}
	return nil
}

// readError maps short reads onto ErrConnectionClosed and keeps the cause
// so callers can still detect timeouts with errors.As.
func readError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, what, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, what, err)
}
