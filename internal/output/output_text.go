package output

import (
	"fmt"
	"io"
	"sync"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// TextOutput prints the line based experiment report. The format is relied
// upon by scripts that parse it, so keep it stable.
type TextOutput struct {
	mu sync.Mutex
	w  io.Writer
}

func NewTextOutput(w io.Writer) *TextOutput {
	return &TextOutput{w: w}
}

func (t *TextOutput) ExperimentStarted(size int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "#Running experiment with a buffer size of %d bytes\n", size)
}

func (t *TextOutput) ExperimentCompleted(run *shared.ExperimentRun) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintf(t.w, "Time for transfer data: %d\n", run.Elapsed.Microseconds())
}

func (t *TextOutput) ExperimentFailed(run *shared.ExperimentRun, err error) {
	// Failures are logged, the report only carries timings
}

func (t *TextOutput) Close() error {
	return nil
}
