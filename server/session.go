package server

import (
	"fmt"
	"time"

	"gitlab.lrz.de/redes-2025-g21/swup/storage"
)

type State int

const (
	// Idle is the state of a freshly allocated session, before its HELLO
	// has been processed.
	Idle State = iota
	Authenticated
	Transferring
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Authenticated:
		return "AUTHENTICATED"
	case Transferring:
		return "TRANSFERRING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// error texts carried in ACK payloads
const (
	errCredential = "invalid credential"
	errSequence   = "unexpected sequence bit"
	errName       = "invalid file name"
	errCreate     = "cannot create file"
)

// file name length limits in bytes, inclusive
const (
	minNameLength = 4
	maxNameLength = 10
)

// Session is the server side state of one remote endpoint.
type Session struct {
	Key   string
	State State
	// Expected is the sequence bit of the next DATA to accept. Only
	// meaningful while Transferring.
	Expected uint8
	File     string

	sink     storage.Sink
	lastSeen time.Time
}

// closeSink releases the sink handle. Safe to call more than once; the
// handle itself is closed only the first time.
func (s *Session) closeSink() error {
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.sink = nil
	return err
}
