package connection

import "github.com/codewiresh/dcon/internal/protocol"

// PacketReader reads console packets from a transport.
type PacketReader interface {
	ReadPacket() (*protocol.Packet, error)
}

// PacketWriter writes console packets to a transport.
type PacketWriter interface {
	WritePacket(payload []byte) error
	WriteSignal(sig protocol.Signal) error
}
