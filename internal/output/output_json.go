package output

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// JSONOutput writes one JSON object per finished experiment to a file or stdout
type JSONOutput struct {
	mu       sync.Mutex
	file     *os.File
	enc      *json.Encoder
	toStdout bool
}

func NewJSONOutput(filename string) (*JSONOutput, error) {
	if filename == "" {
		// Output to stdout
		return &JSONOutput{
			file:     os.Stdout,
			enc:      json.NewEncoder(os.Stdout),
			toStdout: true,
		}, nil
	}
	f, err := os.Create(filename)
	if err != nil {
		return nil, err
	}
	return &JSONOutput{
		file:     f,
		enc:      json.NewEncoder(f),
		toStdout: false,
	}, nil
}

func (j *JSONOutput) ExperimentStarted(size int) {
	// No-op for JSON, only finished runs are written
}

func (j *JSONOutput) ExperimentCompleted(run *shared.ExperimentRun) {
	j.write(run)
}

func (j *JSONOutput) ExperimentFailed(run *shared.ExperimentRun, err error) {
	failed := *run
	if failed.Error == "" && err != nil {
		failed.Error = err.Error()
	}
	j.write(&failed)
}

func (j *JSONOutput) write(run *shared.ExperimentRun) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(run)
}

func (j *JSONOutput) Close() error {
	if j.toStdout {
		return nil
	}
	return j.file.Close()
}
