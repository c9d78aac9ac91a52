package markov

import (
	"fmt"
	"net"

	"gitlab.lrz.de/redes-2025-g21/swup/messages"
)

// PacketConn drops outgoing datagrams according to its chain. Reads are
// passed through untouched; loss on the way in is simulated by the peer.
type PacketConn struct {
	net.PacketConn
	Chain *Chain
}

func (mc *PacketConn) WriteTo(p []byte, addr net.Addr) (n int, err error) {
	if mc.Chain.Drop() {
		return len(p), nil
	}
	return mc.PacketConn.WriteTo(p, addr)
}

// Conn is the connected-socket variant used by the client.
type Conn struct {
	net.Conn
	Chain *Chain
}

func (mc *Conn) Write(p []byte) (n int, err error) {
	if mc.Chain.Drop() {
		return len(p), nil
	}
	return mc.Conn.Write(p)
}

func CreateServerSocket(ip net.IP, port int, p float64, q float64) (*PacketConn, error) {
	chain, err := NewChain(p, q)
	if err != nil {
		return nil, err
	}
	conn, err := messages.CreateServerSocket(ip, port)
	if err != nil {
		return nil, fmt.Errorf("error creating server socket: %w", err)
	}
	return &PacketConn{PacketConn: conn, Chain: chain}, nil
}

func CreateClientSocket(ip net.IP, port int, p float64, q float64) (*Conn, error) {
	chain, err := NewChain(p, q)
	if err != nil {
		return nil, err
	}
	// this automatically takes local laddr
	conn, err := messages.CreateClientSocket(ip, port)
	if err != nil {
		return nil, fmt.Errorf("error creating client socket: %w", err)
	}
	return &Conn{Conn: conn, Chain: chain}, nil
}
