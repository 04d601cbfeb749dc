package output

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// PromOutput collects experiment results as Prometheus metrics and writes
// them in textfile collector format when closed
type PromOutput struct {
	filename string
	registry *prometheus.Registry

	transferSeconds *prometheus.GaugeVec
	throughput      *prometheus.GaugeVec
	transferErrors  *prometheus.CounterVec
	lastRun         prometheus.Gauge
}

func NewPromOutput(filename string, destination string) *PromOutput {
	registry := prometheus.NewRegistry()
	labels := prometheus.Labels{"destination": destination}

	p := &PromOutput{
		filename: filename,
		registry: registry,
		transferSeconds: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "tcpprobe_transfer_seconds",
			Help:        "Time needed to send the configured volume with a given buffer size",
			ConstLabels: labels,
		}, []string{"buffer_size"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "tcpprobe_throughput_bytes_per_second",
			Help:        "Achieved send rate with a given buffer size",
			ConstLabels: labels,
		}, []string{"buffer_size"}),
		transferErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "tcpprobe_transfer_errors_total",
			Help:        "Experiments aborted by a write error",
			ConstLabels: labels,
		}, []string{"buffer_size"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "tcpprobe_last_run_timestamp_seconds",
			Help:        "Unix time of the last finished experiment",
			ConstLabels: labels,
		}),
	}

	registry.MustRegister(p.transferSeconds, p.throughput, p.transferErrors, p.lastRun)
	return p
}

func (p *PromOutput) ExperimentStarted(size int) {
	// Nothing to record until the run finishes
}

func (p *PromOutput) ExperimentCompleted(run *shared.ExperimentRun) {
	size := strconv.Itoa(run.BufferSize)
	p.transferSeconds.WithLabelValues(size).Set(run.Elapsed.Seconds())
	p.throughput.WithLabelValues(size).Set(run.Throughput())
	p.lastRun.Set(float64(run.Timestamp.Add(run.Elapsed).Unix()))
}

func (p *PromOutput) ExperimentFailed(run *shared.ExperimentRun, err error) {
	p.transferErrors.WithLabelValues(strconv.Itoa(run.BufferSize)).Inc()
	p.lastRun.Set(float64(run.Timestamp.Add(run.Elapsed).Unix()))
}

// Close writes the collected metrics to the textfile
func (p *PromOutput) Close() error {
	return prometheus.WriteToTextfile(p.filename, p.registry)
}
