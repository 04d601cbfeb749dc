package shared

import (
	"errors"
	"fmt"
)

// Setup failure kinds. They terminate the component that hit them.
var (
	ErrBind    = errors.New("bind failed")
	ErrListen  = errors.New("listen failed")
	ErrAccept  = errors.New("accept failed")
	ErrResolve = errors.New("unable to resolve")
	ErrConnect = errors.New("unable to connect")
)

// SetupError is returned when a socket could not be established
type SetupError struct {
	Kind error  // One of the Err* kinds above
	Addr string // Address or host involved
	Err  error  // Underlying cause, may be nil
}

func (e *SetupError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v %s", e.Kind, e.Addr)
	}
	return fmt.Sprintf("%v %s: %v", e.Kind, e.Addr, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is
func (e *SetupError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// TransferError is a non-retryable I/O failure in the middle of a stream
type TransferError struct {
	BufferSize int
	Sent       int64
	Err        error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed after %d bytes (buffer size %d): %v", e.Sent, e.BufferSize, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// IsSetupError reports whether err is fatal for the whole run
func IsSetupError(err error) bool {
	var se *SetupError
	return errors.As(err, &se)
}
