package messages

import (
	"bytes"
	"fmt"
)

// wire limits
const (
	HeaderSize      = 2
	MaxPayloadSize  = 1478
	MaxDatagramSize = HeaderSize + MaxPayloadSize
)

// message types
const (
	HELLO uint8 = 1
	WRQ   uint8 = 2
	DATA  uint8 = 3
	ACK   uint8 = 4
	FIN   uint8 = 5
)

// TypeName returns a printable name for a message type.
func TypeName(t uint8) string {
	switch t {
	case HELLO:
		return "HELLO"
	case WRQ:
		return "WRQ"
	case DATA:
		return "DATA"
	case ACK:
		return "ACK"
	case FIN:
		return "FIN"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", t)
	}
}

// PDU is the single message unit of the protocol: a type byte, a sequence
// bit and a raw payload. The payload length is never carried in-band, it is
// whatever is left of the datagram after the header.
type PDU struct {
	Type    uint8
	Seq     uint8
	Payload []byte
}

func GetHELLO(credential string) *PDU {
	return &PDU{Type: HELLO, Seq: 0, Payload: []byte(credential)}
}

func GetWRQ(name string) *PDU {
	return &PDU{Type: WRQ, Seq: 1, Payload: []byte(name)}
}

func GetDATA(seq uint8, chunk []byte) *PDU {
	return &PDU{Type: DATA, Seq: seq, Payload: chunk}
}

func GetFIN(seq uint8) *PDU {
	return &PDU{Type: FIN, Seq: seq}
}

// GetACK builds an acknowledgment. A non-empty errText turns it into an
// error-bearing ACK.
func GetACK(seq uint8, errText string) *PDU {
	ack := &PDU{Type: ACK, Seq: seq}
	if errText != "" {
		ack.Payload = []byte(errText)
	}
	return ack
}

// IsError reports whether the PDU is an ACK carrying server error text.
func (p *PDU) IsError() bool {
	return p.Type == ACK && len(p.Payload) > 0
}

// Equal compares type, sequence bit and payload.
func (p *PDU) Equal(o *PDU) bool {
	return p.Type == o.Type && p.Seq == o.Seq && bytes.Equal(p.Payload, o.Payload)
}

func (p *PDU) String() string {
	return fmt.Sprintf("%s(seq=%d, len=%d)", TypeName(p.Type), p.Seq, len(p.Payload))
}

// Flip returns the other sequence bit.
func Flip(seq uint8) uint8 {
	return 1 - seq
}

// Marshal encodes the PDU into 2+len(payload) bytes.
func (p *PDU) Marshal() ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, &PayloadTooLargeError{Length: len(p.Payload)}
	}
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = p.Type
	buf[1] = p.Seq
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Parse decodes a received datagram. The returned payload is a copy and does
// not alias data.
func Parse(data []byte) (*PDU, error) {
	if len(data) < HeaderSize || len(data) > MaxDatagramSize {
		return nil, &WrongPacketLengthError{Length: len(data)}
	}
	t := data[0]
	if t < HELLO || t > FIN {
		return nil, &UnsupportedTypeError{Type: t}
	}
	if data[1] > 1 {
		return nil, &InvalidSequenceError{Seq: data[1]}
	}
	p := &PDU{Type: t, Seq: data[1]}
	if len(data) > HeaderSize {
		p.Payload = make([]byte, len(data)-HeaderSize)
		copy(p.Payload, data[HeaderSize:])
	}
	return p, nil
}
