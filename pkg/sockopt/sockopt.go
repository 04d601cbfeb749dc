package sockopt

import (
	"errors"
	"net"
	"syscall"
)

// ErrUnsupported is returned for connections that do not expose a descriptor
var ErrUnsupported = errors.New("connection does not expose a raw socket")

// rawConn returns the raw descriptor access of c, if it has one
func rawConn(c net.Conn) (syscall.RawConn, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, ErrUnsupported
	}
	return sc.SyscallConn()
}

// control runs fn against the descriptor of c and returns the first error,
// whether it came from reaching the descriptor or from fn itself
func control(c net.Conn, fn func(fd int) error) error {
	rc, err := rawConn(c)
	if err != nil {
		return err
	}
	var opErr error
	err = rc.Control(func(fd uintptr) {
		opErr = fn(int(fd))
	})
	if err != nil {
		return err
	}
	return opErr
}

// Release shuts c down in both directions and closes it.
// Errors from an already released connection are ignored.
func Release(c net.Conn) error {
	if c == nil {
		return nil
	}
	if err := Shutdown(c); err != nil && !errors.Is(err, ErrUnsupported) {
		c.Close()
		return err
	}
	if err := c.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}
