// Package rcp implements the Reliable Connection Protocol: an ordered,
// reliable, bidirectional byte stream layered on UDP using a sliding-window
// send queue and a cumulative-plus-bitmap acknowledgment scheme.
package rcp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PacketType identifies the three frame kinds on the wire.
type PacketType byte

const (
	// TypeSYN carries 1..PAYLOAD bytes of stream data at a given sequence.
	TypeSYN PacketType = 0x01
	// TypeACK carries no data; it reports a cumulative base and a bitmap
	// of which of the next W sequences the sender of the ACK holds.
	TypeACK PacketType = 0x02
	// TypeFIN marks the end of a stream at a given sequence. It carries
	// no data.
	TypeFIN PacketType = 0x03
)

func (t PacketType) String() string {
	switch t {
	case TypeSYN:
		return "SYN"
	case TypeACK:
		return "ACK"
	case TypeFIN:
		return "FIN"
	default:
		return fmt.Sprintf("PacketType(0x%02x)", byte(t))
	}
}

// ErrMalformedPacket is returned by Decode when a frame cannot be parsed,
// or carries an invalid combination of type and length.
var ErrMalformedPacket = errors.New("rcp: malformed packet")

// Payload is the default maximum number of data bytes carried by one SYN
// packet. Peers must agree on this value; it is not negotiated on the wire.
const Payload = 256

// Window is the fixed width, in packets, of the send and receive sliding
// windows, and of the ACK bitmap.
const Window = 32

// Packet is the decoded form of one RCP wire frame.
//
// Sequence is the packet index for SYN/FIN, or the cumulative base for ACK.
// Acks is only meaningful when Type is TypeACK; Acks[i] is set iff the
// sender of the ACK holds the packet with sequence Sequence+i. Data is only
// meaningful when Type is TypeSYN.
type Packet struct {
	Type     PacketType
	Sequence uint32
	Acks     uint32
	Data     []byte
}

// Encode serializes p as type(1) || sequence(4, BE) || [acks(4, BE) for ACK]
// || [data for SYN].
func (p Packet) Encode() []byte {
	switch p.Type {
	case TypeACK:
		buf := make([]byte, 1+4+4)
		buf[0] = byte(p.Type)
		binary.BigEndian.PutUint32(buf[1:5], p.Sequence)
		binary.BigEndian.PutUint32(buf[5:9], p.Acks)
		return buf
	case TypeSYN:
		buf := make([]byte, 1+4+len(p.Data))
		buf[0] = byte(p.Type)
		binary.BigEndian.PutUint32(buf[1:5], p.Sequence)
		copy(buf[5:], p.Data)
		return buf
	default: // TypeFIN
		buf := make([]byte, 1+4)
		buf[0] = byte(p.Type)
		binary.BigEndian.PutUint32(buf[1:5], p.Sequence)
		return buf
	}
}

// Decode parses a wire frame into a Packet. It returns ErrMalformedPacket if
// the type byte is unrecognized, the frame is too short for its type, or a
// SYN's payload exceeds Payload bytes.
func Decode(b []byte) (Packet, error) {
	if len(b) < 1 {
		return Packet{}, fmt.Errorf("%w: empty frame", ErrMalformedPacket)
	}
	t := PacketType(b[0])
	if t != TypeSYN && t != TypeACK && t != TypeFIN {
		return Packet{}, fmt.Errorf("%w: unknown type 0x%02x", ErrMalformedPacket, b[0])
	}
	if len(b) < 5 {
		return Packet{}, fmt.Errorf("%w: short frame missing sequence", ErrMalformedPacket)
	}
	seq := binary.BigEndian.Uint32(b[1:5])
	rest := b[5:]

	switch t {
	case TypeSYN:
		if len(rest) == 0 {
			return Packet{}, fmt.Errorf("%w: SYN with no data", ErrMalformedPacket)
		}
		if len(rest) > Payload {
			return Packet{}, fmt.Errorf("%w: SYN payload %d exceeds %d", ErrMalformedPacket, len(rest), Payload)
		}
		data := make([]byte, len(rest))
		copy(data, rest)
		return Packet{Type: TypeSYN, Sequence: seq, Data: data}, nil
	case TypeACK:
		if len(rest) < 4 {
			return Packet{}, fmt.Errorf("%w: ACK missing bitmap", ErrMalformedPacket)
		}
		acks := binary.BigEndian.Uint32(rest[0:4])
		return Packet{Type: TypeACK, Sequence: seq, Acks: acks}, nil
	default: // TypeFIN
		if len(rest) != 0 {
			return Packet{}, fmt.Errorf("%w: FIN carries trailing bytes", ErrMalformedPacket)
		}
		return Packet{Type: TypeFIN, Sequence: seq}, nil
	}
}

// AckBit returns whether bit i (0 <= i < Window) is set in an ACK bitmap.
func AckBit(bitmap uint32, i int) bool {
	return bitmap&(1<<uint(i)) != 0
}

// SetAckBit returns bitmap with bit i set.
func SetAckBit(bitmap uint32, i int) uint32 {
	return bitmap | (1 << uint(i))
}
