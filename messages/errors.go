package messages

import "fmt"

// WrongPacketLengthError is returned for datagrams shorter than the header or
// longer than MaxDatagramSize.
type WrongPacketLengthError struct {
	Length int
}

func (e *WrongPacketLengthError) Error() string {
	return fmt.Sprintf("wrong packet length: %d bytes (allowed %d..%d)", e.Length, HeaderSize, MaxDatagramSize)
}

type UnsupportedTypeError struct {
	Type uint8
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("unsupported message type: %d", e.Type)
}

type InvalidSequenceError struct {
	Seq uint8
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("invalid sequence bit: %d", e.Seq)
}

// PayloadTooLargeError is returned when encoding a PDU whose payload does not
// fit in one datagram.
type PayloadTooLargeError struct {
	Length int
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("payload too large: %d bytes (max %d)", e.Length, MaxPayloadSize)
}
