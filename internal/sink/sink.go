package sink

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tkjaer/tcpdrain/internal/shared"
	"github.com/tkjaer/tcpdrain/pkg/ptr"
	"github.com/tkjaer/tcpdrain/pkg/sockopt"
)

const (
	DefaultPort           = 10025
	DefaultBufferSize     = 1 << 20 // 1 MiB
	DefaultMaxConnections = 64
	DefaultSessionTTL     = 10 * time.Minute

	peerLookupTimeout = 2 * time.Second
)

// Config holds the sink settings
type Config struct {
	ListenAddress  string // empty means all interfaces
	Port           uint16
	BufferSize     int
	MaxConnections int  // concurrent drains, <= 0 is unlimited
	Once           bool // accept a single connection, drain it and return
	ForceBlocking  bool
	SessionTTL     time.Duration
	ResolvePeers   bool // record the PTR name of each peer in its session
}

// DefaultConfig returns the reference settings
func DefaultConfig() Config {
	return Config{
		Port:           DefaultPort,
		BufferSize:     DefaultBufferSize,
		MaxConnections: DefaultMaxConnections,
		ForceBlocking:  true,
		SessionTTL:     DefaultSessionTTL,
	}
}

// Addr returns the host:port the sink listens on
func (c Config) Addr() string {
	return net.JoinHostPort(c.ListenAddress, strconv.Itoa(int(c.Port)))
}

// Sink accepts TCP connections and discards everything it reads from them
type Sink struct {
	config   Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	sessions *SessionLog
	peers    *ptr.PtrManager // nil unless ResolvePeers is set

	nextID atomic.Uint64

	mu      sync.Mutex
	active  map[uint64]net.Conn
	closing bool
}

// New creates a sink with its own metrics registry and session log
func New(cfg Config) *Sink {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	registry := prometheus.NewRegistry()
	s := &Sink{
		config:   cfg,
		logger:   slog.Default(),
		registry: registry,
		metrics:  newMetricsWithRegistry(registry),
		sessions: NewSessionLog(cfg.SessionTTL),
		active:   make(map[uint64]net.Conn),
	}
	if cfg.ResolvePeers {
		s.peers = ptr.NewPtrManager(cfg.SessionTTL)
	}
	return s
}

// Sessions returns the log of finished sessions
func (s *Sink) Sessions() *SessionLog {
	return s.sessions
}

// Run listens on the configured address and serves until ctx is done
// (or, with Once, until the first connection is drained)
func (s *Sink) Run(ctx context.Context) error {
	ln, err := s.Listen(ctx)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Listen binds the configured address. Failures are not retried.
func (s *Sink) Listen(ctx context.Context) (net.Listener, error) {
	addr := s.config.Addr()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		kind := shared.ErrListen
		if sockopt.IsBindError(err) {
			kind = shared.ErrBind
		}
		return nil, &shared.SetupError{Kind: kind, Addr: addr, Err: err}
	}
	s.logger.Info("Listening", "address", ln.Addr().String(), "buffer_size", s.config.BufferSize, "once", s.config.Once)
	return ln, nil
}

// Serve accepts connections on ln and drains each of them. It takes
// ownership of ln. Cancelling ctx stops accepting, shuts down all active
// connections and returns nil once every drain has finished.
func (s *Sink) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()

	s.mu.Lock()
	s.closing = false
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.sessions.Start()
	defer s.sessions.Stop()
	if s.peers != nil {
		go s.peers.Start()
		defer s.peers.Stop()
	}

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
			s.shutdownActive()
		case <-stopped:
		}
	}()

	if s.config.Once {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return &shared.SetupError{Kind: shared.ErrAccept, Addr: ln.Addr().String(), Err: err}
		}
		// Single connection design: stop listening before draining
		ln.Close()
		_, err = s.handle(conn)
		return err
	}

	var g errgroup.Group
	if s.config.MaxConnections > 0 {
		g.SetLimit(s.config.MaxConnections)
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("Listener closed, waiting for active drains")
				g.Wait()
				return nil
			}
			cancel()
			g.Wait()
			return &shared.SetupError{Kind: shared.ErrAccept, Addr: ln.Addr().String(), Err: err}
		}
		g.Go(func() error {
			// Errors are already logged and recorded in the session
			s.handle(conn)
			return nil
		})
	}
}

// handle drains a single connection and records the session
func (s *Sink) handle(conn net.Conn) (shared.Session, error) {
	session := shared.Session{
		ID:         s.nextID.Add(1),
		RemoteAddr: conn.RemoteAddr().String(),
		Started:    time.Now(),
	}
	logger := s.logger.With("session", session.ID, "remote", session.RemoteAddr)
	logger.Info("Accepted connection")

	s.track(session.ID, conn)
	s.metrics.connectionOpened()

	defer func() {
		if err := sockopt.Release(conn); err != nil {
			logger.Debug("Failed to release connection", "error", err)
		}
		s.untrack(session.ID)
		s.metrics.connectionClosed()
	}()

	if s.config.ForceBlocking {
		s.ensureBlocking(logger, conn)
	}

	buf := make([]byte, s.config.BufferSize)
	n, err := drain(conn, buf, s.metrics.bytesRead)

	session.Ended = time.Now()
	session.Bytes = n
	s.metrics.drainFinished(session.Duration(), err)

	if err != nil {
		err = &shared.TransferError{BufferSize: len(buf), Sent: n, Err: err}
		session.Error = err.Error()
		logger.Error("Connection aborted", "bytes", n, "duration", session.Duration(), "error", err)
	} else {
		logger.Info("Connection drained", "bytes", n, "duration", session.Duration())
	}
	if s.peers != nil {
		session.PeerName = s.peerName(conn.RemoteAddr())
	}
	s.sessions.Add(session)

	return session, err
}

// peerName looks up the PTR record of a peer, bounded by peerLookupTimeout
func (s *Sink) peerName(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(context.Background(), peerLookupTimeout)
	defer cancel()
	name, _ := s.peers.LookupPTR(ctx, host)
	return name
}

// ensureBlocking puts the connection into blocking mode once, whatever the
// platform default is. A connection that cannot be switched is still drained.
func (s *Sink) ensureBlocking(logger *slog.Logger, conn net.Conn) {
	wasNonblocking, err := sockopt.SetBlocking(conn)
	switch {
	case errors.Is(err, sockopt.ErrUnsupported):
		logger.Debug("Connection has no descriptor, keeping runtime mode")
	case err != nil:
		logger.Warn("Failed to switch connection to blocking mode", "error", err)
	case wasNonblocking:
		logger.Debug("Switched connection to blocking mode")
	}
}

func (s *Sink) track(id uint64, conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[id] = conn
	if s.closing {
		// Accepted while shutting down, drain whatever is already queued
		sockopt.Shutdown(conn)
	}
}

func (s *Sink) untrack(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// ActiveConnections returns the number of connections being drained
func (s *Sink) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// shutdownActive wakes every reader. Close would wait on a blocking read.
func (s *Sink) shutdownActive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
	for id, conn := range s.active {
		if err := sockopt.Shutdown(conn); err != nil {
			if errors.Is(err, sockopt.ErrUnsupported) {
				conn.Close()
				continue
			}
			s.logger.Debug("Failed to shut down connection", "session", id, "error", err)
		}
	}
}
