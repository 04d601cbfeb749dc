package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// newTestSink returns a sink on a loopback port chosen by the kernel, with
// its log captured in the returned buffer
func newTestSink(t *testing.T, cfg Config) (*Sink, net.Listener, *bytes.Buffer) {
	t.Helper()

	cfg.ListenAddress = "127.0.0.1"
	cfg.Port = 0
	s := New(cfg)

	logBuf := &bytes.Buffer{}
	s.logger = slog.New(slog.NewTextHandler(logBuf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ln, err := s.Listen(context.Background())
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	return s, ln, logBuf
}

// send dials addr, writes n bytes and closes the connection
func send(addr string, n int) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	chunk := bytes.Repeat([]byte{shared.FillerByte}, 64*1024)
	for n > 0 {
		c := chunk
		if n < len(c) {
			c = c[:n]
		}
		w, err := conn.Write(c)
		if err != nil {
			return err
		}
		n -= w
	}
	return nil
}

func serveAsync(ctx context.Context, s *Sink, ln net.Listener) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- s.Serve(ctx, ln)
	}()
	return done
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 10025 {
		t.Errorf("Port = %d, want 10025", cfg.Port)
	}
	if cfg.BufferSize != 1<<20 {
		t.Errorf("BufferSize = %d, want %d", cfg.BufferSize, 1<<20)
	}
	if !cfg.ForceBlocking {
		t.Error("ForceBlocking should default to true")
	}
	if cfg.Once {
		t.Error("Once should default to false")
	}
	if cfg.Addr() != ":10025" {
		t.Errorf("Addr() = %q, want \":10025\"", cfg.Addr())
	}
}

func TestNew_ResolvePeers(t *testing.T) {
	if s := New(DefaultConfig()); s.peers != nil {
		t.Error("peer resolution should be off by default")
	}

	cfg := DefaultConfig()
	cfg.ResolvePeers = true
	s := New(cfg)
	if s.peers == nil {
		t.Fatal("ResolvePeers should create a PTR cache")
	}
	if got := s.peerName(&net.UnixAddr{Name: "/tmp/sink.sock", Net: "unix"}); got != "" {
		t.Errorf("peerName() for a non host:port address = %q, want empty", got)
	}
}

func TestSink_ServeOnce(t *testing.T) {
	const payload = 5 * 1000 * 1000

	s, ln, logBuf := newTestSink(t, Config{Once: true, ForceBlocking: true, BufferSize: 1 << 20})
	done := serveAsync(context.Background(), s, ln)

	if err := send(ln.Addr().String(), payload); err != nil {
		t.Fatalf("send() error = %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after the peer closed")
	}

	logs := logBuf.String()
	if got := strings.Count(logs, `msg="Accepted connection"`); got != 1 {
		t.Errorf("accepted log lines = %d, want 1\n%s", got, logs)
	}
	if got := strings.Count(logs, `msg="Connection drained"`); got != 1 {
		t.Errorf("drained log lines = %d, want 1\n%s", got, logs)
	}

	sessions := s.Sessions().Recent()
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Bytes != payload {
		t.Errorf("session bytes = %d, want %d", sessions[0].Bytes, payload)
	}
	if sessions[0].Error != "" {
		t.Errorf("session error = %q, want none", sessions[0].Error)
	}
	if s.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", s.ActiveConnections())
	}
	if got := testutil.ToFloat64(s.metrics.bytesDrained); got != payload {
		t.Errorf("bytes_drained_total = %v, want %d", got, payload)
	}

	// The listener is gone with the single connection
	if _, err := net.DialTimeout("tcp", ln.Addr().String(), time.Second); err == nil {
		t.Error("Dial() succeeded after single-connection sink finished")
	}
}

func TestSink_ServeManyClients(t *testing.T) {
	const (
		clients = 4
		payload = 1 << 20
	)

	s, ln, _ := newTestSink(t, Config{ForceBlocking: true, BufferSize: 32 * 1024, MaxConnections: 2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := serveAsync(ctx, s, ln)

	var wg sync.WaitGroup
	errs := make(chan error, clients)
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- send(ln.Addr().String(), payload)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("send() error = %v", err)
		}
	}

	waitFor(t, "all sessions", func() bool { return len(s.Sessions().Recent()) == clients })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}

	if got := testutil.ToFloat64(s.metrics.connectionsTotal); got != clients {
		t.Errorf("connections_total = %v, want %d", got, clients)
	}
	if got := testutil.ToFloat64(s.metrics.bytesDrained); got != clients*payload {
		t.Errorf("bytes_drained_total = %v, want %d", got, clients*payload)
	}
	for _, sess := range s.Sessions().Recent() {
		if sess.Bytes != payload {
			t.Errorf("session %d bytes = %d, want %d", sess.ID, sess.Bytes, payload)
		}
	}
}

func TestSink_CancelWithIdleConnection(t *testing.T) {
	s, ln, _ := newTestSink(t, Config{ForceBlocking: true, BufferSize: 4096})
	ctx, cancel := context.WithCancel(context.Background())
	done := serveAsync(ctx, s, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, "connection to be tracked", func() bool { return s.ActiveConnections() == 1 })

	// The drain is parked in a blocking read and must still be released
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return with an idle client attached")
	}

	if s.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections() = %d, want 0", s.ActiveConnections())
	}
}

func TestSink_ListenBindError(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer busy.Close()

	port := busy.Addr().(*net.TCPAddr).Port
	s := New(Config{ListenAddress: "127.0.0.1", Port: uint16(port)})

	_, err = s.Listen(context.Background())
	if err == nil {
		t.Fatal("Listen() on a busy port succeeded")
	}
	if !errors.Is(err, shared.ErrBind) {
		t.Errorf("Listen() error = %v, want ErrBind", err)
	}
	var se *shared.SetupError
	if !errors.As(err, &se) {
		t.Fatalf("Listen() error type = %T, want *SetupError", err)
	}
	if se.Addr != busy.Addr().String() {
		t.Errorf("SetupError.Addr = %q, want %q", se.Addr, busy.Addr().String())
	}
}

// fakeListener hands out a fixed list of connections, then fails
type fakeListener struct {
	mu     sync.Mutex
	conns  []net.Conn
	err    error
	closed bool
}

func (l *fakeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	}
	if len(l.conns) == 0 {
		return nil, l.err
	}
	c := l.conns[0]
	l.conns = l.conns[1:]
	return c, nil
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10025}
}

// fakeConn serves scripted reads and has no descriptor
type fakeConn struct {
	reader *scriptedReader
	closed atomic.Int32
}

func (c *fakeConn) Read(p []byte) (int, error)  { return c.reader.Read(p) }
func (c *fakeConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *fakeConn) Close() error                { c.closed.Add(1); return nil }

func (c *fakeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 10025}
}

func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 40000}
}

func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func TestSink_ServeOnce_AcceptError(t *testing.T) {
	s := New(Config{Once: true})
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ln := &fakeListener{err: syscall.EMFILE}

	err := s.Serve(context.Background(), ln)
	if !errors.Is(err, shared.ErrAccept) {
		t.Fatalf("Serve() error = %v, want ErrAccept", err)
	}
	if !errors.Is(err, syscall.EMFILE) {
		t.Errorf("Serve() error = %v, want cause EMFILE", err)
	}
}

func TestSink_Serve_AcceptError(t *testing.T) {
	conn := &fakeConn{reader: &scriptedReader{results: []readResult{{100, nil}, {0, io.EOF}}}}
	s := New(Config{ForceBlocking: true})
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	ln := &fakeListener{conns: []net.Conn{conn}, err: syscall.EMFILE}

	err := s.Serve(context.Background(), ln)
	if !errors.Is(err, shared.ErrAccept) {
		t.Fatalf("Serve() error = %v, want ErrAccept", err)
	}

	// The connection accepted before the failure was still drained
	sessions := s.Sessions().Recent()
	if len(sessions) != 1 || sessions[0].Bytes != 100 {
		t.Errorf("sessions = %+v, want one session with 100 bytes", sessions)
	}
}

func TestSink_ServeOnce_TransferError(t *testing.T) {
	conn := &fakeConn{reader: &scriptedReader{results: []readResult{
		{512, nil},
		{0, syscall.EINTR},
		{256, nil},
		{0, syscall.ECONNRESET},
	}}}
	s := New(Config{Once: true, ForceBlocking: true, BufferSize: 1024})
	logBuf := &bytes.Buffer{}
	s.logger = slog.New(slog.NewTextHandler(logBuf, nil))
	ln := &fakeListener{conns: []net.Conn{conn}}

	err := s.Serve(context.Background(), ln)

	var te *shared.TransferError
	if !errors.As(err, &te) {
		t.Fatalf("Serve() error = %v, want *TransferError", err)
	}
	if te.Sent != 768 {
		t.Errorf("TransferError.Sent = %d, want 768", te.Sent)
	}
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Errorf("Serve() error = %v, want cause ECONNRESET", err)
	}
	if got := conn.closed.Load(); got != 1 {
		t.Errorf("Close() calls = %d, want 1", got)
	}
	if !strings.Contains(logBuf.String(), `msg="Connection aborted"`) {
		t.Errorf("missing abort log line:\n%s", logBuf.String())
	}
	if got := testutil.ToFloat64(s.metrics.drainErrors); got != 1 {
		t.Errorf("drain_errors_total = %v, want 1", got)
	}

	sessions := s.Sessions().Recent()
	if len(sessions) != 1 || sessions[0].Error == "" {
		t.Errorf("sessions = %+v, want one failed session", sessions)
	}
	for _, size := range conn.reader.bufSizes {
		if size != 1024 {
			t.Errorf("Read() buffer = %d, want 1024", size)
		}
	}
}

func TestSink_Run(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer busy.Close()

	s := New(Config{ListenAddress: "127.0.0.1", Port: uint16(busy.Addr().(*net.TCPAddr).Port), Once: true})
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := s.Run(context.Background()); !shared.IsSetupError(err) {
		t.Errorf("Run() error = %v, want a setup error", err)
	}
}
