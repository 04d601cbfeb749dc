//go:build !unix

package sockopt

import (
	"errors"
	"net"
	"syscall"
)

// SetBlocking is not available outside unix; connections keep the runtime's mode
func SetBlocking(c net.Conn) (bool, error) {
	return false, ErrUnsupported
}

// IsBlocking is not available outside unix
func IsBlocking(c net.Conn) (bool, error) {
	return false, ErrUnsupported
}

// Shutdown closes both halves of a TCP connection
func Shutdown(c net.Conn) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return ErrUnsupported
	}
	if err := tc.CloseRead(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	if err := tc.CloseWrite(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// SetSendBuffer sets the operating system send buffer of a TCP connection
func SetSendBuffer(c net.Conn, bytes int) error {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return ErrUnsupported
	}
	return tc.SetWriteBuffer(bytes)
}

// SendBuffer is not available outside unix
func SendBuffer(c net.Conn) (int, error) {
	return 0, ErrUnsupported
}

// IsTransient always reports false; the runtime retries these internally
func IsTransient(err error) bool {
	return false
}

// IsBindError reports whether a listen failure came from the address itself
func IsBindError(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EACCES)
}
