package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tkjaer/tcpdrain/internal/probe"
	"github.com/tkjaer/tcpdrain/internal/sink"
	"github.com/tkjaer/tcpdrain/internal/version"
)

// LogOptions are the diagnostic logging flags shared by both tools
type LogOptions struct {
	File   string // log file path, empty means stderr only
	Level  string // log level: debug, info, warn, error
	Format string // log format: auto, text, json
}

func (o *LogOptions) register() {
	flag.StringVarP(&o.File, "log", "l", "", "Also append diagnostic logs to this file")
	flag.StringVar(&o.Level, "log-level", "info", "Log level: debug, info, warn, error")
	flag.StringVar(&o.Format, "log-format", "auto", "Log format: auto, text or json (auto picks text on a terminal)")
}

func (o LogOptions) validate() error {
	switch o.Format {
	case "auto", "text", "json":
		return nil
	}
	return errors.New("log format must be auto, text or json")
}

type ProbeArgs struct {
	Host string
	Port uint

	// Experiment
	Sizes          []int
	TotalBytes     int64
	ConnectTimeout time.Duration
	SendBuffer     int

	// Output
	Json        bool   // output json to stdout instead of the text report
	JsonFile    string // output json to file alongside the text report
	MetricsFile string // prometheus textfile written at exit

	Log LogOptions
}

// ProbeConfig converts the arguments into the probe settings
func (a ProbeArgs) ProbeConfig() probe.Config {
	return probe.Config{
		Host:           a.Host,
		Port:           uint16(a.Port),
		Sizes:          a.Sizes,
		TotalBytes:     a.TotalBytes,
		ConnectTimeout: a.ConnectTimeout,
		SendBuffer:     a.SendBuffer,
	}
}

func ParseProbeArgs() (ProbeArgs, error) {
	var args ProbeArgs
	var showVersion bool

	// Set custom usage message
	flag.Usage = func() {
		println("tcpprobe - TCP write size throughput probe")
		println()
		println("Sends a fixed volume to a tcpsink once per buffer size and reports")
		println("how long each transfer took.")
		println()
		println("Usage:")
		println("  tcpprobe [OPTIONS] <destination host> <destination port>")
		println()
		println("Examples:")
		println("  tcpprobe sink.example 10025                       # Default sizes, 1 GiB each")
		println("  tcpprobe -b 104857600 -s 65536,4096 host 10025   # 100 MiB with two sizes")
		println("  tcpprobe -J host 10025                            # JSON lines to stdout")
		println()
		println("Options:")
		flag.PrintDefaults()
		println()
		println("Documentation: https://github.com/tkjaer/tcpdrain")
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.Int64VarP(&args.TotalBytes, "total-bytes", "b", probe.DefaultTotalBytes, "Bytes to send per buffer size")
	flag.IntSliceVarP(&args.Sizes, "sizes", "s", probe.DefaultSizes(), "Buffer sizes to test, in order")
	flag.DurationVarP(&args.ConnectTimeout, "connect-timeout", "t", probe.DefaultConnectTimeout, "Connect timeout (0 = none)")
	flag.IntVar(&args.SendBuffer, "send-buffer", 0, "Socket send buffer in bytes (0 = kernel default)")
	flag.BoolVarP(&args.Json, "json", "J", false, "Write JSON output to stdout (replaces the text report)")
	flag.StringVarP(&args.JsonFile, "json-file", "j", "", "Write JSON output to file (keeps the text report)")
	flag.StringVarP(&args.MetricsFile, "metrics-file", "m", "", "Write Prometheus textfile metrics to this file")
	args.Log.register()
	flag.Parse()

	// Handle version flag
	if showVersion {
		fmt.Println(version.FullVersion("tcpprobe"))
		os.Exit(0)
	}

	if flag.NArg() != 2 {
		return args, errors.New("expected <destination host> <destination port>")
	}
	args.Host = flag.Arg(0)

	port, err := strconv.ParseUint(flag.Arg(1), 10, 16)
	if err != nil || port == 0 {
		return args, errors.New("destination port must be between 1 and 65535")
	}
	args.Port = uint(port)

	switch {
	case args.Host == "":
		return args, errors.New("destination host is required")
	case args.TotalBytes <= 0:
		return args, errors.New("total bytes must be positive")
	case len(args.Sizes) == 0:
		return args, errors.New("at least one buffer size is required")
	case args.SendBuffer < 0:
		return args, errors.New("send buffer must not be negative")
	case args.Json && args.JsonFile != "":
		return args, errors.New("cannot use both --json and --json-file")
	}
	for _, size := range args.Sizes {
		if size <= 0 {
			return args, errors.New("buffer sizes must be positive")
		}
	}

	return args, args.Log.validate()
}

type SinkArgs struct {
	Address        string
	Port           uint
	BufferSize     int
	MaxConnections int
	Once           bool
	Blocking       bool
	SessionTTL     time.Duration
	MetricsAddress string // status and metrics listener, empty disables it
	ResolvePeers   bool

	Log LogOptions
}

// SinkConfig converts the arguments into the sink settings
func (a SinkArgs) SinkConfig() sink.Config {
	return sink.Config{
		ListenAddress:  a.Address,
		Port:           uint16(a.Port),
		BufferSize:     a.BufferSize,
		MaxConnections: a.MaxConnections,
		Once:           a.Once,
		ForceBlocking:  a.Blocking,
		SessionTTL:     a.SessionTTL,
		ResolvePeers:   a.ResolvePeers,
	}
}

func ParseSinkArgs() (SinkArgs, error) {
	var args SinkArgs
	var showVersion bool

	flag.Usage = func() {
		println("tcpsink - TCP blackhole")
		println()
		println("Accepts TCP connections and reads everything sent on them until the")
		println("peer closes. Nothing is ever written back.")
		println()
		println("Usage:")
		println("  tcpsink [OPTIONS]")
		println()
		println("Examples:")
		println("  tcpsink                          # Listen on port 10025")
		println("  tcpsink --once                   # Drain a single connection, then exit")
		println("  tcpsink -M 127.0.0.1:9110        # Expose /metrics and /sessions")
		println()
		println("Options:")
		flag.PrintDefaults()
		println()
		println("Documentation: https://github.com/tkjaer/tcpdrain")
	}

	flag.BoolVarP(&showVersion, "version", "v", false, "Show version information")
	flag.StringVarP(&args.Address, "address", "a", "", "Listen address (empty = all interfaces)")
	flag.UintVarP(&args.Port, "port", "p", sink.DefaultPort, "Listen port")
	flag.IntVarP(&args.BufferSize, "buffer-size", "B", sink.DefaultBufferSize, "Read buffer size per connection")
	flag.IntVarP(&args.MaxConnections, "max-connections", "c", sink.DefaultMaxConnections, "Concurrent connections drained (0 = unlimited)")
	flag.BoolVarP(&args.Once, "once", "1", false, "Accept a single connection, drain it and exit")
	flag.BoolVar(&args.Blocking, "blocking", true, "Force accepted sockets into blocking mode")
	flag.DurationVar(&args.SessionTTL, "session-ttl", sink.DefaultSessionTTL, "How long finished sessions are kept for /sessions")
	flag.BoolVarP(&args.ResolvePeers, "resolve-peers", "r", false, "Record the PTR name of each peer in its session")
	flag.StringVarP(&args.MetricsAddress, "metrics-address", "M", "", "Serve /metrics, /sessions and /health on this address")
	args.Log.register()
	flag.Parse()

	if showVersion {
		fmt.Println(version.FullVersion("tcpsink"))
		os.Exit(0)
	}

	switch {
	case flag.NArg() != 0:
		return args, errors.New("unexpected positional arguments")
	case args.Port == 0 || args.Port > 65535:
		return args, errors.New("port must be between 1 and 65535")
	case args.BufferSize <= 0:
		return args, errors.New("buffer size must be positive")
	case args.MaxConnections < 0:
		return args, errors.New("max connections must not be negative")
	case args.SessionTTL <= 0:
		return args, errors.New("session TTL must be positive")
	}

	return args, args.Log.validate()
}
