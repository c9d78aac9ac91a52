package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.lrz.de/redes-2025-g21/swup/messages"
	"gitlab.lrz.de/redes-2025-g21/swup/server"
	"gitlab.lrz.de/redes-2025-g21/swup/storage"
)

const credential = "g21-0e29"

var localhost = net.ParseIP("127.0.0.1")

// fakeServer answers every received PDU with whatever respond returns
// (nil: stay silent) and records what it saw.
type fakeServer struct {
	conn    *net.UDPConn
	respond func(n int, msg *messages.PDU) *messages.PDU

	mu       sync.Mutex
	received []*messages.PDU
}

func newFakeServer(t *testing.T, respond func(n int, msg *messages.PDU) *messages.PDU) *fakeServer {
	conn, err := messages.CreateServerSocket(localhost, 0)
	if err != nil {
		t.Fatalf("Creating fake server failed: %v", err)
	}
	fs := &fakeServer{conn: conn, respond: respond}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			addr, data, err := messages.ServerReceive(conn)
			if err != nil {
				return
			}
			msg, err := messages.Parse(data)
			if err != nil {
				continue
			}
			fs.mu.Lock()
			fs.received = append(fs.received, msg)
			n := len(fs.received)
			fs.mu.Unlock()
			if reply := fs.respond(n, msg); reply != nil {
				reply.SendTo(conn, addr)
			}
		}
	}()
	t.Cleanup(func() {
		conn.Close()
		<-done
	})
	return fs
}

func (fs *fakeServer) port() int {
	return fs.conn.LocalAddr().(*net.UDPAddr).Port
}

func (fs *fakeServer) seen() []*messages.PDU {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]*messages.PDU(nil), fs.received...)
}

// ackAll acknowledges everything with the sequence bit it carries
func ackAll(_ int, msg *messages.PDU) *messages.PDU {
	return messages.GetACK(msg.Seq, "")
}

func testConfig(port int) *Config {
	return &Config{Port: port, Retries: 5, Timeout: 100 * time.Millisecond}
}

func writeSource(t *testing.T, size int) (string, []byte) {
	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path, data
}

func TestChunkingAndSequence(t *testing.T) {
	fs := newFakeServer(t, ackAll)
	path, data := writeSource(t, 3000)

	res, err := Upload(localhost, credential, path, "report.bin", testConfig(fs.port()), nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, int64(3000), res.Bytes)
	assert.True(t, res.FinAcked)
	assert.Equal(t, 0, res.Retransmissions)

	msgs := fs.seen()
	require.Len(t, msgs, 6)
	assert.True(t, msgs[0].Equal(messages.GetHELLO(credential)))
	assert.True(t, msgs[1].Equal(messages.GetWRQ("report.bin")))

	sizes := []int{1478, 1478, 44}
	seqs := []uint8{0, 1, 0}
	var joined []byte
	for i := 0; i < 3; i++ {
		d := msgs[2+i]
		assert.Equal(t, messages.DATA, d.Type)
		assert.Equal(t, seqs[i], d.Seq)
		assert.Len(t, d.Payload, sizes[i])
		joined = append(joined, d.Payload...)
	}
	assert.Equal(t, data, joined)
	assert.True(t, msgs[5].Equal(messages.GetFIN(1)))
}

func TestExactMultipleOfChunkSize(t *testing.T) {
	fs := newFakeServer(t, ackAll)
	path, _ := writeSource(t, 2*messages.MaxPayloadSize)

	res, err := Upload(localhost, credential, path, "even.bin", testConfig(fs.port()), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	msgs := fs.seen()
	require.Len(t, msgs, 5)
	assert.True(t, msgs[4].Equal(messages.GetFIN(0)), "no empty trailing chunk")
}

func TestEmptySource(t *testing.T) {
	fs := newFakeServer(t, ackAll)
	path, _ := writeSource(t, 0)

	res, err := Upload(localhost, credential, path, "empty.bin", testConfig(fs.port()), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Chunks)
	msgs := fs.seen()
	require.Len(t, msgs, 3)
	assert.True(t, msgs[2].Equal(messages.GetFIN(0)))
}

func TestCredentialRejected(t *testing.T) {
	fs := newFakeServer(t, func(_ int, msg *messages.PDU) *messages.PDU {
		return messages.GetACK(msg.Seq, "invalid credential")
	})
	path, _ := writeSource(t, 10)

	_, err := Upload(localhost, "TEST", path, "small.txt", testConfig(fs.port()), nil)
	assert.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid credential")
	assert.Len(t, fs.seen(), 1, "a rejection is never retried")
}

func TestNameRejected(t *testing.T) {
	fs := newFakeServer(t, func(_ int, msg *messages.PDU) *messages.PDU {
		if msg.Type == messages.WRQ {
			return messages.GetACK(1, "invalid file name")
		}
		return messages.GetACK(msg.Seq, "")
	})
	path, _ := writeSource(t, 10)

	_, err := Upload(localhost, credential, path, "abc", testConfig(fs.port()), nil)
	assert.ErrorIs(t, err, ErrRejected)
	msgs := fs.seen()
	require.Len(t, msgs, 2)
	assert.Equal(t, messages.WRQ, msgs[1].Type)
}

func TestRetryExhaustion(t *testing.T) {
	fs := newFakeServer(t, func(int, *messages.PDU) *messages.PDU { return nil })
	path, _ := writeSource(t, 10)

	start := time.Now()
	_, err := Upload(localhost, credential, path, "small.txt", testConfig(fs.port()), nil)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond)

	// give the last datagram a moment to be recorded
	time.Sleep(50 * time.Millisecond)
	msgs := fs.seen()
	require.Len(t, msgs, 5)
	for _, m := range msgs {
		assert.Equal(t, messages.HELLO, m.Type, "must not proceed past HELLO")
	}
}

func TestDroppedFirstDataAck(t *testing.T) {
	dropped := false
	fs := newFakeServer(t, func(_ int, msg *messages.PDU) *messages.PDU {
		if msg.Type == messages.DATA && !dropped {
			dropped = true
			return nil
		}
		return messages.GetACK(msg.Seq, "")
	})
	path, data := writeSource(t, 2000)

	res, err := Upload(localhost, credential, path, "drop.bin", testConfig(fs.port()), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retransmissions)

	msgs := fs.seen()
	require.Len(t, msgs, 6)
	assert.True(t, msgs[2].Equal(msgs[3]), "retransmission must be identical")
	assert.Equal(t, data, append(append([]byte{}, msgs[3].Payload...), msgs[4].Payload...))
}

func TestWrongSeqAckOnce(t *testing.T) {
	wrong := false
	fs := newFakeServer(t, func(_ int, msg *messages.PDU) *messages.PDU {
		if msg.Type == messages.DATA && !wrong {
			wrong = true
			return messages.GetACK(messages.Flip(msg.Seq), "")
		}
		return messages.GetACK(msg.Seq, "")
	})
	path, _ := writeSource(t, 100)

	res, err := Upload(localhost, credential, path, "wrong.bin", testConfig(fs.port()), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Retransmissions)
	assert.Len(t, fs.seen(), 5)
}

func TestFinBestEffort(t *testing.T) {
	fs := newFakeServer(t, func(_ int, msg *messages.PDU) *messages.PDU {
		if msg.Type == messages.FIN {
			return nil
		}
		return messages.GetACK(msg.Seq, "")
	})
	path, _ := writeSource(t, 100)

	res, err := Upload(localhost, credential, path, "fin.bin", testConfig(fs.port()), nil)
	require.NoError(t, err, "an unacknowledged FIN does not fail the upload")
	assert.False(t, res.FinAcked)
	assert.Equal(t, 1, res.Chunks)
}

func TestSourceMissing(t *testing.T) {
	fs := newFakeServer(t, ackAll)

	_, err := Upload(localhost, credential, filepath.Join(t.TempDir(), "missing"), "miss.bin", testConfig(fs.port()), nil)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, fs.seen(), "nothing may be sent for a missing source")
}

func TestOversizeCredential(t *testing.T) {
	fs := newFakeServer(t, ackAll)
	path, _ := writeSource(t, 10)

	_, err := Upload(localhost, string(bytes.Repeat([]byte("c"), messages.MaxPayloadSize+1)), path, "big.bin", testConfig(fs.port()), nil)
	assert.Error(t, err)
	assert.Empty(t, fs.seen())
}

// runServer starts the real server on a loopback port.
func runServer(t *testing.T, st storage.Storage, p, q float64) int {
	s, err := server.Init(server.Config{
		IP:          localhost,
		Credential:  credential,
		Storage:     st,
		MaxSessions: 10,
		MarkovP:     p,
		MarkovQ:     q,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		s.Close()
	})
	return s.Addr().(*net.UDPAddr).Port
}

func TestEndToEnd(t *testing.T) {
	mem := storage.NewMemory()
	port := runServer(t, mem, 0, 0)
	path, data := writeSource(t, 3000)

	res, err := Upload(localhost, credential, path, "report.bin", testConfig(port), nil)
	require.NoError(t, err)
	assert.True(t, res.FinAcked)

	got, ok := mem.Content("report.bin")
	require.True(t, ok)
	assert.Equal(t, data, got)
	assert.Equal(t, 1, mem.Closes("report.bin"))
}

func TestEndToEndShortName(t *testing.T) {
	mem := storage.NewMemory()
	port := runServer(t, mem, 0, 0)
	path, _ := writeSource(t, 100)

	_, err := Upload(localhost, credential, path, "abc", testConfig(port), nil)
	assert.ErrorIs(t, err, ErrRejected)
	_, created := mem.Content("abc")
	assert.False(t, created)
}

func TestEndToEndFiles(t *testing.T) {
	dir := t.TempDir()
	fsys, err := storage.NewFileStorage(dir)
	require.NoError(t, err)
	port := runServer(t, fsys, 0, 0)

	var wg sync.WaitGroup
	sources := make([][]byte, 4)
	errs := make([]error, 4)
	for i := range sources {
		path, data := writeSource(t, 2*messages.MaxPayloadSize+123*(i+1))
		sources[i] = data
		wg.Add(1)
		go func(i int, path string) {
			defer wg.Done()
			_, errs[i] = Upload(localhost, credential, path, "part"+string(rune('a'+i))+".bin", testConfig(port), nil)
		}(i, path)
	}
	wg.Wait()

	for i, data := range sources {
		require.NoError(t, errs[i])
		got, err := os.ReadFile(filepath.Join(dir, "part"+string(rune('a'+i))+".bin"))
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

// Loss on the client's outgoing datagrams is always recovered by
// retransmission; duplicates are suppressed on the server side.
func TestEndToEndLossyLink(t *testing.T) {
	mem := storage.NewMemory()
	port := runServer(t, mem, 0, 0)
	path, data := writeSource(t, 20*messages.MaxPayloadSize)

	conf := testConfig(port)
	conf.Retries = 50
	conf.Timeout = 50 * time.Millisecond
	conf.MarkovP = 0.3
	conf.MarkovQ = 0.3
	res, err := Upload(localhost, credential, path, "lossy.bin", conf, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, res.Chunks)
	got, _ := mem.Content("lossy.bin")
	assert.Equal(t, data, got)
}
