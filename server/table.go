package server

import (
	"bytes"
	"net"
	"time"

	"go.uber.org/zap"

	"gitlab.lrz.de/redes-2025-g21/swup/messages"
	"gitlab.lrz.de/redes-2025-g21/swup/storage"
)

// Table owns every live session. It is driven by a single goroutine and
// does no locking.
type Table struct {
	Credential  string
	Storage     storage.Storage
	Capacity    int
	IdleTimeout time.Duration

	log      *zap.Logger
	now      func() time.Time
	sessions map[string]*Session
}

func NewTable(credential string, st storage.Storage, capacity int, idleTimeout time.Duration, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		Credential:  credential,
		Storage:     st,
		Capacity:    capacity,
		IdleTimeout: idleTimeout,
		log:         log,
		now:         time.Now,
		sessions:    make(map[string]*Session, capacity),
	}
}

// Len returns the number of live sessions.
func (t *Table) Len() int {
	return len(t.sessions)
}

// Lookup returns a copy of the session for addr.
func (t *Table) Lookup(addr net.Addr) (Session, bool) {
	s, ok := t.sessions[addr.String()]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// Handle applies at most one state transition for msg received from addr and
// returns the reply to send back, or nil when the datagram is to be ignored.
func (t *Table) Handle(addr net.Addr, msg *messages.PDU) *messages.PDU {
	now := t.now()
	t.reclaimIdle(now)

	key := addr.String()
	log := t.log.With(zap.String("remote", key), zap.Stringer("msg", msg))

	s, ok := t.sessions[key]
	if !ok {
		// only a HELLO may open a session
		if msg.Type != messages.HELLO {
			log.Debug("ignoring message from unknown endpoint")
			return nil
		}
		if len(t.sessions) >= t.Capacity {
			log.Warn("session table full, dropping HELLO", zap.Int("capacity", t.Capacity))
			return nil
		}
		s = &Session{Key: key, State: Idle}
		t.sessions[key] = s
		log.Debug("session allocated", zap.Int("sessions", len(t.sessions)))
	}
	s.lastSeen = now

	reply, release := t.step(s, msg, log.With(zap.Stringer("state", s.State)))
	if release {
		t.release(s)
	}
	return reply
}

// step is the transition function. The returned flag asks Handle to drop
// the session from the table.
func (t *Table) step(s *Session, msg *messages.PDU, log *zap.Logger) (*messages.PDU, bool) {
	switch {
	case s.State == Idle && msg.Type == messages.HELLO:
		return t.hello(s, msg, log)
	case s.State == Authenticated && msg.Type == messages.WRQ:
		return t.wrq(s, msg, log), false
	case s.State == Transferring && msg.Type == messages.DATA:
		return t.data(s, msg, log), false
	case s.State == Transferring && msg.Type == messages.FIN:
		return t.fin(s, msg, log), true
	default:
		log.Debug("message not valid in current state, ignored")
		return nil, false
	}
}

func (t *Table) hello(s *Session, msg *messages.PDU, log *zap.Logger) (*messages.PDU, bool) {
	// prefix match: anything starting with the credential is accepted
	if !bytes.HasPrefix(msg.Payload, []byte(t.Credential)) {
		log.Info("credential rejected", zap.Int("length", len(msg.Payload)))
		return messages.GetACK(0, errCredential), true
	}
	s.State = Authenticated
	log.Info("client authenticated")
	return messages.GetACK(0, ""), false
}

// wrq never changes the state on failure; the client may try again.
func (t *Table) wrq(s *Session, msg *messages.PDU, log *zap.Logger) *messages.PDU {
	if msg.Seq != 1 {
		log.Debug("WRQ with wrong sequence bit")
		return messages.GetACK(1, errSequence)
	}
	if len(msg.Payload) < minNameLength || len(msg.Payload) > maxNameLength {
		log.Info("file name rejected", zap.Int("length", len(msg.Payload)))
		return messages.GetACK(1, errName)
	}
	name := string(msg.Payload)
	sink, err := t.Storage.Create(name)
	if err != nil {
		log.Error("error while opening sink", zap.String("file", name), zap.Error(err))
		return messages.GetACK(1, errCreate)
	}
	s.sink = sink
	s.File = name
	s.State = Transferring
	s.Expected = 0
	log.Info("transfer started", zap.String("file", name))
	return messages.GetACK(1, "")
}

func (t *Table) data(s *Session, msg *messages.PDU, log *zap.Logger) *messages.PDU {
	if msg.Seq != s.Expected {
		// duplicate of the chunk acknowledged last: repeat that ACK
		log.Debug("duplicate DATA", zap.Uint8("expected", s.Expected))
		return messages.GetACK(messages.Flip(s.Expected), "")
	}
	if _, err := s.sink.Write(msg.Payload); err != nil {
		// no ACK: the client retransmits and we try again
		log.Error("error while writing to sink", zap.String("file", s.File), zap.Error(err))
		return nil
	}
	ack := messages.GetACK(s.Expected, "")
	s.Expected = messages.Flip(s.Expected)
	return ack
}

func (t *Table) fin(s *Session, msg *messages.PDU, log *zap.Logger) *messages.PDU {
	if err := s.closeSink(); err != nil {
		log.Error("error while closing sink", zap.String("file", s.File), zap.Error(err))
	}
	log.Info("transfer finished", zap.String("file", s.File))
	return messages.GetACK(msg.Seq, "")
}

func (t *Table) release(s *Session) {
	if err := s.closeSink(); err != nil {
		t.log.Error("error while closing sink", zap.String("remote", s.Key), zap.String("file", s.File), zap.Error(err))
	}
	delete(t.sessions, s.Key)
	t.log.Debug("session released", zap.String("remote", s.Key), zap.Int("sessions", len(t.sessions)))
}

func (t *Table) reclaimIdle(now time.Time) {
	if t.IdleTimeout <= 0 {
		return
	}
	for _, s := range t.sessions {
		if now.Sub(s.lastSeen) > t.IdleTimeout {
			t.log.Info("reclaiming idle session", zap.String("remote", s.Key),
				zap.Stringer("state", s.State), zap.Duration("idle", now.Sub(s.lastSeen)))
			t.release(s)
		}
	}
}

// Close releases every session, closing open sinks.
func (t *Table) Close() {
	for _, s := range t.sessions {
		t.release(s)
	}
}
