package output

import (
	"errors"

	"github.com/tkjaer/tcpdrain/internal/shared"
)

// Output interface for different output types
type Output interface {
	ExperimentStarted(size int)
	ExperimentCompleted(run *shared.ExperimentRun)
	ExperimentFailed(run *shared.ExperimentRun, err error)
	Close() error
}

// OutputManager manages multiple outputs
type OutputManager struct {
	outputs []Output
}

func (om *OutputManager) Register(o Output) {
	om.outputs = append(om.outputs, o)
}

func (om *OutputManager) ExperimentStarted(size int) {
	for _, o := range om.outputs {
		o.ExperimentStarted(size)
	}
}

func (om *OutputManager) ExperimentCompleted(run *shared.ExperimentRun) {
	for _, o := range om.outputs {
		o.ExperimentCompleted(run)
	}
}

func (om *OutputManager) ExperimentFailed(run *shared.ExperimentRun, err error) {
	for _, o := range om.outputs {
		o.ExperimentFailed(run, err)
	}
}

// Close closes every output and returns their combined errors
func (om *OutputManager) Close() error {
	var errs []error
	for _, o := range om.outputs {
		if err := o.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
