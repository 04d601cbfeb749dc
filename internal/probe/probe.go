package probe

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/tkjaer/tcpdrain/internal/shared"
	"github.com/tkjaer/tcpdrain/pkg/sockopt"
)

const (
	DefaultTotalBytes     int64 = 1 << 30 // 1 GiB
	DefaultConnectTimeout       = 10 * time.Second
)

// DefaultSizes returns the reference buffer sizes, 16384 down to 1
func DefaultSizes() []int {
	sizes := make([]int, 0, 15)
	for size := 16384; size >= 1; size /= 2 {
		sizes = append(sizes, size)
	}
	return sizes
}

// Config holds the probe settings
type Config struct {
	Host           string
	Port           uint16
	Sizes          []int // Run in this order, never sorted
	TotalBytes     int64
	ConnectTimeout time.Duration // 0 means no timeout
	SendBuffer     int           // SO_SNDBUF, 0 keeps the kernel default
}

// Destination returns host:port
func (c Config) Destination() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

func (c Config) validate() error {
	switch {
	case c.Host == "":
		return errors.New("destination host is required")
	case c.Port == 0:
		return errors.New("destination port must be between 1 and 65535")
	case c.TotalBytes <= 0:
		return errors.New("total bytes must be positive")
	case len(c.Sizes) == 0:
		return errors.New("at least one buffer size is required")
	case c.SendBuffer < 0:
		return errors.New("send buffer must not be negative")
	}
	for _, size := range c.Sizes {
		if size <= 0 {
			return errors.New("buffer sizes must be positive")
		}
	}
	return nil
}

// Reporter receives experiment progress as it happens
type Reporter interface {
	ExperimentStarted(size int)
	ExperimentCompleted(run *shared.ExperimentRun)
	ExperimentFailed(run *shared.ExperimentRun, err error)
}

// Probe measures how long it takes to push a fixed volume through a TCP
// connection for each configured write size
type Probe struct {
	config   Config
	reporter Reporter
	logger   *slog.Logger

	lookupFunc func(ctx context.Context, host string) ([]string, error)
	dialFunc   func(ctx context.Context, network, address string) (net.Conn, error)
}

// NewProbe validates cfg and returns a probe reporting to r
func NewProbe(cfg Config, r Reporter) (*Probe, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Sizes = append([]int(nil), cfg.Sizes...)

	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Probe{
		config:     cfg,
		reporter:   r,
		logger:     slog.Default(),
		lookupFunc: net.DefaultResolver.LookupHost,
		dialFunc:   dialer.DialContext,
	}, nil
}

// Run executes one experiment per buffer size, strictly in order. A size
// whose transfer fails is reported and skipped. Resolution and connection
// failures end the whole run with a *shared.SetupError, as the target is
// then unreachable for every remaining size. Runs completed before that are
// returned either way.
func (p *Probe) Run(ctx context.Context) ([]shared.ExperimentRun, error) {
	runs := make([]shared.ExperimentRun, 0, len(p.config.Sizes))

	for _, size := range p.config.Sizes {
		if err := ctx.Err(); err != nil {
			return runs, err
		}

		run, err := p.runExperiment(ctx, size)
		if err != nil {
			var te *shared.TransferError
			if !errors.As(err, &te) {
				return runs, err
			}
			p.logger.Error("Experiment aborted", "buffer_size", size, "sent", te.Sent, "error", te.Err)
			p.reporter.ExperimentFailed(run, err)
			runs = append(runs, *run)
			continue
		}

		p.reporter.ExperimentCompleted(run)
		runs = append(runs, *run)
	}

	return runs, nil
}

// runExperiment opens a fresh connection, sends TotalBytes in writes of at
// most size bytes and closes the connection before returning
func (p *Probe) runExperiment(ctx context.Context, size int) (*shared.ExperimentRun, error) {
	p.reporter.ExperimentStarted(size)

	conn, addr, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sockopt.Release(conn); err != nil {
			p.logger.Debug("Failed to release connection", "error", err)
		}
	}()

	if p.config.SendBuffer > 0 {
		if err := sockopt.SetSendBuffer(conn, p.config.SendBuffer); err != nil {
			p.logger.Warn("Failed to set send buffer", "bytes", p.config.SendBuffer, "error", err)
		}
	}

	buf := bytes.Repeat([]byte{shared.FillerByte}, size)

	run := &shared.ExperimentRun{
		BufferSize:  size,
		TotalBytes:  p.config.TotalBytes,
		Destination: addr,
		Timestamp:   time.Now(),
	}

	start := time.Now()
	sent, err := writeTotal(conn, buf, p.config.TotalBytes)
	run.Elapsed = time.Since(start)
	run.SentBytes = sent

	if err != nil {
		run.Error = err.Error()
		return run, &shared.TransferError{BufferSize: size, Sent: sent, Err: err}
	}

	p.logger.Debug("Experiment complete", "buffer_size", size, "elapsed", run.Elapsed, "throughput", run.Throughput())
	return run, nil
}

// connect resolves the destination host and dials the first address
func (p *Probe) connect(ctx context.Context) (net.Conn, string, error) {
	addrs, err := p.lookupFunc(ctx, p.config.Host)
	if err == nil && len(addrs) == 0 {
		err = errors.New("no addresses found")
	}
	if err != nil {
		return nil, "", &shared.SetupError{Kind: shared.ErrResolve, Addr: p.config.Host, Err: err}
	}

	addr := net.JoinHostPort(addrs[0], strconv.Itoa(int(p.config.Port)))
	p.logger.Debug("Opening connection", "destination", p.config.Destination(), "address", addr)

	conn, err := p.dialFunc(ctx, "tcp", addr)
	if err != nil {
		return nil, "", &shared.SetupError{Kind: shared.ErrConnect, Addr: addr, Err: err}
	}
	return conn, addr, nil
}

// writeTotal writes exactly total bytes to w, reusing buf for every write and
// truncating the last one. Interrupted and would-block writes are retried.
// It returns the number of bytes actually written.
func writeTotal(w io.Writer, buf []byte, total int64) (int64, error) {
	var sent int64
	for sent < total {
		chunk := buf
		if remaining := total - sent; remaining < int64(len(chunk)) {
			chunk = chunk[:remaining]
		}

		n, err := w.Write(chunk)
		sent += int64(n)
		if err != nil {
			if sockopt.IsTransient(err) {
				continue
			}
			return sent, err
		}
	}
	return sent, nil
}
