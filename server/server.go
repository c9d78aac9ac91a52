package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"gitlab.lrz.de/redes-2025-g21/swup/markov"
	"gitlab.lrz.de/redes-2025-g21/swup/messages"
	"gitlab.lrz.de/redes-2025-g21/swup/storage"
)

type Config struct {
	IP          net.IP
	Port        int
	Credential  string
	Storage     storage.Storage
	MaxSessions int
	IdleTimeout time.Duration

	// loss probabilities of the simulated link for replies
	MarkovP float64
	MarkovQ float64
}

type Server struct {
	Conn  net.PacketConn
	Table *Table

	log *zap.Logger
}

// The values should be sanity checked before putting into this function.
func Init(conf Config, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if conf.Storage == nil {
		return nil, fmt.Errorf("no storage configured")
	}
	if conf.Credential == "" {
		return nil, fmt.Errorf("empty credential")
	}
	if conf.MaxSessions <= 0 {
		return nil, fmt.Errorf("max sessions must be positive, got %d", conf.MaxSessions)
	}
	conn, err := markov.CreateServerSocket(conf.IP, conf.Port, conf.MarkovP, conf.MarkovQ)
	if err != nil {
		return nil, fmt.Errorf("error while creating the socket: %w", err)
	}

	s := new(Server)
	s.Conn = conn
	s.log = log
	s.Table = NewTable(conf.Credential, conf.Storage, conf.MaxSessions, conf.IdleTimeout, log)
	return s, nil
}

func (s *Server) Addr() net.Addr {
	return s.Conn.LocalAddr()
}

// Serve processes datagrams one at a time until ctx is cancelled or the
// socket is closed. It must be the only goroutine touching s.Table.
func (s *Server) Serve(ctx context.Context) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			// unblock the pending read
			s.Conn.Close()
		case <-stop:
		}
	}()

	s.log.Info("listening", zap.Stringer("addr", s.Addr()),
		zap.Int("max_sessions", s.Table.Capacity))
	for {
		addr, data, err := messages.ServerReceive(s.Conn)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("error while receiving from UDP socket: %w", err)
		}
		s.handleDatagram(addr, data)
	}
}

func (s *Server) handleDatagram(addr net.Addr, data []byte) {
	msg, err := messages.Parse(data)
	if err != nil {
		// malformed datagrams never get an answer
		s.log.Debug("invalid datagram dropped", zap.Stringer("remote", addr), zap.Error(err))
		return
	}
	reply := s.Table.Handle(addr, msg)
	if reply == nil {
		return
	}
	if err := reply.SendTo(s.Conn, addr); err != nil {
		s.log.Warn("error while sending reply", zap.Stringer("remote", addr), zap.Error(err))
	}
}

// Close releases all sessions and the socket. Call it after Serve returned.
func (s *Server) Close() error {
	s.Table.Close()
	err := s.Conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
