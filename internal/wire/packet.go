// Package wire defines the packet framing this protocol layers over the
// engine transport, and a default JSON codec for it.
//
// Ownership boundary:
// - the packet type tag, namespace/id/data/options/query shape
// - encoding one packet to a sequence of transport frames and decoding
//   a stream of frames back into packets
//
// The codec contract is external per the spec this module implements —
// callers may swap in a different Encoder/Decoder pair — but a module
// that ships no default codec is not usable, so jsonCodec below is the
// one Manager uses unless a caller supplies their own.
package wire

import "fmt"

// PacketType tags the small closed set of packet kinds this protocol
// carries. Values match the wire encoding and must not be reordered.
type PacketType int

const (
	Connect PacketType = iota
	Disconnect
	Event
	Ack
	Error
	BinaryEvent
	BinaryAck
)

func (t PacketType) String() string {
	switch t {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Event:
		return "EVENT"
	case Ack:
		return "ACK"
	case Error:
		return "ERROR"
	case BinaryEvent:
		return "BINARY_EVENT"
	case BinaryAck:
		return "BINARY_ACK"
	default:
		return fmt.Sprintf("PacketType(%d)", int(t))
	}
}

// IsBinary reports whether t is one of the binary-attachment variants.
func (t PacketType) IsBinary() bool {
	return t == BinaryEvent || t == BinaryAck
}

// Options carries transport hints that ride alongside a packet without
// being part of its logical payload.
type Options struct {
	Compress bool
}

// Packet is one protocol message. ID is present iff the packet
// participates in request/response ack correlation. Query is only
// meaningful on an outbound CONNECT packet (see Manager.Packet).
type Packet struct {
	Type    PacketType
	Nsp     string
	Data    any
	ID      *int64
	Options Options
	Query   string
}

// Frame is one opaque unit written to or read from the engine transport.
// Binary frames carry a raw attachment; non-binary frames carry the
// codec's serialized packet envelope.
type Frame struct {
	Payload  []byte
	IsBinary bool
}

// Encoder serializes one packet into the sequence of frames that must be
// written to the engine transport, in order, to transmit it.
type Encoder interface {
	Encode(p *Packet) ([]Frame, error)
}

// Decoder reassembles packets from a stream of frames. Add must be
// called with frames in arrival order; OnDecoded fires once per fully
// reassembled packet, synchronously from within Add.
type Decoder interface {
	Add(f Frame) error
	OnDecoded(fn func(*Packet))
	Destroy()
}

// Codec pairs an Encoder with a factory for fresh Decoders — the Manager
// owns exactly one live Decoder at a time, replaces it on every Open and
// destroys its pending state on every cleanup, so no partial state
// survives a reconnect.
type Codec interface {
	Encoder() Encoder
	NewDecoder() Decoder
}
