package client

import (
	"time"

	"gitlab.lrz.de/redes-2025-g21/swup/messages"
)

type verdict int

const (
	// no usable reply: retransmit
	verdictRetry verdict = iota
	verdictAcked
	// the server answered with error text, retrying cannot help
	verdictRejected
)

// exchange is the retry policy of one send-and-await step, kept apart from
// the socket: the PDU to (re)send, how many attempts were made and when the
// current one times out.
type exchange struct {
	pdu *messages.PDU
	// strict exchanges treat an ACK with payload as a rejection (HELLO, WRQ)
	strict      bool
	maxAttempts int
	timeout     time.Duration

	attempts int
	deadline time.Time
}

func newExchange(pdu *messages.PDU, strict bool, maxAttempts int, timeout time.Duration) *exchange {
	return &exchange{pdu: pdu, strict: strict, maxAttempts: maxAttempts, timeout: timeout}
}

// begin starts the next attempt at now. It returns false once the budget is
// used up.
func (e *exchange) begin(now time.Time) bool {
	if e.attempts >= e.maxAttempts {
		return false
	}
	e.attempts++
	e.deadline = now.Add(e.timeout)
	return true
}

// wait returns how long the current attempt may still wait for a reply.
func (e *exchange) wait(now time.Time) time.Duration {
	d := e.deadline.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// judge classifies a reply; nil stands for a timeout or an unreadable datagram.
func (e *exchange) judge(reply *messages.PDU) verdict {
	if reply == nil || reply.Type != messages.ACK || reply.Seq != e.pdu.Seq {
		return verdictRetry
	}
	if e.strict && len(reply.Payload) > 0 {
		return verdictRejected
	}
	return verdictAcked
}

func (e *exchange) retransmissions() int {
	if e.attempts == 0 {
		return 0
	}
	return e.attempts - 1
}
