//go:build unix

package sockopt

import (
	"errors"
	"net"

	"golang.org/x/sys/unix"
)

// SetBlocking clears O_NONBLOCK on the descriptor behind c.
// It reports whether the descriptor was non-blocking before the call.
//
// Deadlines stop working on a blocking descriptor, and a pending Read can only
// be interrupted with Shutdown. Close waits for such a Read to return.
func SetBlocking(c net.Conn) (bool, error) {
	var wasNonblocking bool
	err := control(c, func(fd int) error {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return err
		}
		wasNonblocking = flags&unix.O_NONBLOCK != 0
		if !wasNonblocking {
			return nil
		}
		return unix.SetNonblock(fd, false)
	})
	return wasNonblocking, err
}

// IsBlocking reports whether the descriptor behind c is in blocking mode
func IsBlocking(c net.Conn) (bool, error) {
	var blocking bool
	err := control(c, func(fd int) error {
		flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0)
		if err != nil {
			return err
		}
		blocking = flags&unix.O_NONBLOCK == 0
		return nil
	})
	return blocking, err
}

// Shutdown shuts down both directions of c. A connection that is already
// closed or no longer connected is not an error.
func Shutdown(c net.Conn) error {
	err := control(c, func(fd int) error {
		return unix.Shutdown(fd, unix.SHUT_RDWR)
	})
	if isInvalid(err) {
		return nil
	}
	return err
}

// SetSendBuffer sets SO_SNDBUF on the descriptor behind c
func SetSendBuffer(c net.Conn, bytes int) error {
	return control(c, func(fd int) error {
		return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bytes)
	})
}

// SendBuffer returns the current SO_SNDBUF of the descriptor behind c
func SendBuffer(c net.Conn) (int, error) {
	var size int
	err := control(c, func(fd int) error {
		var err error
		size, err = unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF)
		return err
	})
	return size, err
}

// IsTransient reports whether the I/O call that returned err should simply be
// issued again: an interrupted system call or a would-block result.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsBindError reports whether a listen failure came from the address itself:
// already in use, not permitted or not local
func IsBindError(err error) bool {
	return errors.Is(err, unix.EADDRINUSE) ||
		errors.Is(err, unix.EACCES) ||
		errors.Is(err, unix.EADDRNOTAVAIL)
}

func isInvalid(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		errors.Is(err, unix.ENOTCONN) ||
		errors.Is(err, unix.EBADF) ||
		errors.Is(err, unix.EINVAL)
}
