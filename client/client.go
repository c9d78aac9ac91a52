package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"go.uber.org/zap"

	"gitlab.lrz.de/redes-2025-g21/swup/markov"
	"gitlab.lrz.de/redes-2025-g21/swup/messages"
)

type Config struct {
	Port    int
	Retries int
	Timeout time.Duration

	MarkovP float64
	MarkovQ float64
}

var DefaultConfig = Config{
	Port:    messages.DefaultPort,
	Retries: 5,
	Timeout: 2 * time.Second,
}

var (
	// ErrRejected wraps the error text of an ACK that refused HELLO or WRQ.
	ErrRejected = errors.New("rejected by server")
	// ErrRetriesExhausted means no matching ACK arrived within the retry budget.
	ErrRetriesExhausted = errors.New("no acknowledgment from server")
)

// Result describes a finished upload.
type Result struct {
	Chunks          int
	Bytes           int64
	Retransmissions int
	// FinAcked is false when the closing FIN went unacknowledged. The data
	// was delivered anyway.
	FinAcked bool
}

// Upload sends the file at localPath to the server at host and stores it
// there as remoteName. A failed phase aborts the upload; whatever the server
// already wrote stays there.
func Upload(host net.IP, credential string, localPath string, remoteName string, conf *Config, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	// open the source first so a bad path never leaves a session on the server
	src, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open source %s: %w", localPath, err)
	}
	defer src.Close()

	conn, err := markov.CreateClientSocket(host, conf.Port, conf.MarkovP, conf.MarkovQ)
	if err != nil {
		return nil, fmt.Errorf("create client socket: %w", err)
	}
	defer conn.Close()

	return upload(conn, src, credential, remoteName, conf, log.With(zap.Stringer("server", conn.RemoteAddr())))
}

type driver struct {
	conn net.Conn
	conf *Config
	log  *zap.Logger
	res  *Result
}

func upload(conn net.Conn, src io.Reader, credential string, remoteName string, conf *Config, log *zap.Logger) (*Result, error) {
	if len(credential) > messages.MaxPayloadSize {
		return nil, fmt.Errorf("credential longer than %d bytes", messages.MaxPayloadSize)
	}
	if len(remoteName) > messages.MaxPayloadSize {
		return nil, fmt.Errorf("remote name longer than %d bytes", messages.MaxPayloadSize)
	}
	d := &driver{conn: conn, conf: conf, log: log, res: &Result{}}

	log.Info("sending HELLO")
	if err := d.run("HELLO", messages.GetHELLO(credential), true); err != nil {
		return d.res, err
	}

	log.Info("sending WRQ", zap.String("file", remoteName))
	if err := d.run("WRQ", messages.GetWRQ(remoteName), true); err != nil {
		return d.res, err
	}

	seq := uint8(0)
	buf := make([]byte, messages.MaxPayloadSize)
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			d.log.Debug("sending DATA", zap.Uint8("seq", seq), zap.Int("bytes", n))
			if err := d.run("DATA", messages.GetDATA(seq, buf[:n]), false); err != nil {
				return d.res, err
			}
			d.res.Chunks++
			d.res.Bytes += int64(n)
			seq = messages.Flip(seq)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return d.res, fmt.Errorf("read source: %w", rerr)
		}
	}

	log.Info("sending FIN", zap.Uint8("seq", seq))
	if err := d.run("FIN", messages.GetFIN(seq), false); err != nil {
		// best effort, every chunk has been acknowledged already
		log.Warn("FIN not acknowledged", zap.Error(err))
	} else {
		d.res.FinAcked = true
	}
	log.Info("transfer completed", zap.Int("chunks", d.res.Chunks),
		zap.Int64("bytes", d.res.Bytes), zap.Int("retransmissions", d.res.Retransmissions))
	return d.res, nil
}

// run sends pdu until it is acknowledged, rejected or the retry budget is
// exhausted.
func (d *driver) run(phase string, pdu *messages.PDU, strict bool) error {
	ex := newExchange(pdu, strict, d.conf.Retries, d.conf.Timeout)
	defer func() { d.res.Retransmissions += ex.retransmissions() }()

	for ex.begin(time.Now()) {
		if ex.attempts > 1 {
			d.log.Debug("retransmitting", zap.String("phase", phase), zap.Int("attempt", ex.attempts))
		}
		if err := pdu.Send(d.conn); err != nil {
			d.log.Warn("send failed", zap.String("phase", phase), zap.Error(err))
			continue
		}
		reply := d.await(phase, ex)
		switch ex.judge(reply) {
		case verdictAcked:
			return nil
		case verdictRejected:
			return fmt.Errorf("%s: %w: %q", phase, ErrRejected, reply.Payload)
		}
	}
	return fmt.Errorf("%s: %w after %d attempts", phase, ErrRetriesExhausted, ex.attempts)
}

// await returns the next reply or nil on timeout and unreadable datagrams.
func (d *driver) await(phase string, ex *exchange) *messages.PDU {
	data, err := messages.ClientReceive(d.conn, ex.wait(time.Now()))
	if err != nil {
		if os.IsTimeout(err) {
			d.log.Info("timeout, retrying", zap.String("phase", phase), zap.Int("attempt", ex.attempts))
		} else {
			d.log.Warn("receive failed", zap.String("phase", phase), zap.Error(err))
		}
		return nil
	}
	reply, err := messages.Parse(data)
	if err != nil {
		d.log.Debug("invalid reply dropped", zap.String("phase", phase), zap.Error(err))
		return nil
	}
	if reply.Type == messages.ACK && reply.Seq != ex.pdu.Seq {
		d.log.Debug("ACK with wrong sequence bit", zap.String("phase", phase), zap.Uint8("seq", reply.Seq))
	}
	return reply
}
