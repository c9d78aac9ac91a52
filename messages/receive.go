package messages

import (
	"fmt"
	"net"
	"time"
)

// one extra byte so an oversize datagram shows up as too long instead of
// being cut to a valid-looking PDU
const readBufferSize = MaxDatagramSize + 1

// ServerReceive blocks until the next datagram arrives and returns it with the
// sender address.
func ServerReceive(conn net.PacketConn) (net.Addr, []byte, error) {
	buffer := make([]byte, readBufferSize)

	n, raddr, err := conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, fmt.Errorf("error receiving message: %w", err)
	}
	return raddr, buffer[:n], nil
}

// ClientReceive waits at most timeout for the next datagram on a connected
// socket.
func ClientReceive(conn net.Conn, timeout time.Duration) ([]byte, error) {
	buffer := make([]byte, readBufferSize)

	err := conn.SetReadDeadline(time.Now().Add(timeout))
	if err != nil {
		return nil, fmt.Errorf("creating the timeout deadline: %w", err)
	}

	n, err := conn.Read(buffer)
	if err != nil {
		// return error as it is to match for timeout error type
		return nil, err
	}
	return buffer[:n], nil
}
