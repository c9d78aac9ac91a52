package messages

import (
	"fmt"
	"net"
)

// SendTo writes the PDU as one datagram to addr. Used by the server, which
// shares a single unconnected socket between all sessions.
func (p *PDU) SendTo(conn net.PacketConn, addr net.Addr) error {
	buf, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}
	_, err = conn.WriteTo(buf, addr)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}

// Send writes the PDU on a connected socket (client side).
func (p *PDU) Send(conn net.Conn) error {
	buf, err := p.Marshal()
	if err != nil {
		return fmt.Errorf("error encoding message: %w", err)
	}
	_, err = conn.Write(buf)
	if err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	return nil
}
