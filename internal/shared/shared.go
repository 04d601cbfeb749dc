package shared

import (
	"time"
)

// FillerByte is written repeatedly into every probe buffer
const FillerByte = 'a'

// ExperimentRun holds the outcome of one buffer size against the sink
type ExperimentRun struct {
	BufferSize  int           `json:"buffer_size"`     // Write size in bytes
	TotalBytes  int64         `json:"total_bytes"`     // Volume the run was asked to send
	SentBytes   int64         `json:"sent_bytes"`      // Volume actually handed to the kernel
	Elapsed     time.Duration `json:"elapsed_ns"`      // First write to last write
	Destination string        `json:"destination"`     // host:port that was dialed
	Error       string        `json:"error,omitempty"` // Set when the run was aborted
	Timestamp   time.Time     `json:"timestamp"`
}

// Failed reports whether the run was aborted before sending everything
func (r *ExperimentRun) Failed() bool {
	return r.Error != ""
}

// Throughput returns the achieved rate in bytes per second
func (r *ExperimentRun) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.SentBytes) / r.Elapsed.Seconds()
}

// Session describes a single drained connection on the sink
type Session struct {
	ID         uint64    `json:"id"`
	RemoteAddr string    `json:"remote_addr"`
	PeerName   string    `json:"peer_name,omitempty"` // PTR name when peer resolution is enabled
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the session was open
func (s Session) Duration() time.Duration {
	if s.Ended.IsZero() {
		return 0
	}
	return s.Ended.Sub(s.Started)
}
