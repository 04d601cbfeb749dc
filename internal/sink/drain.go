package sink

import (
	"errors"
	"io"

	"github.com/tkjaer/tcpdrain/pkg/sockopt"
)

// drain reads r into buf until the peer closes the stream, discarding the
// data. Memory use is bounded by buf regardless of how long the stream is.
// Interrupted and would-block reads are retried, any other error stops the
// loop. onRead, if set, is called with the size of every non-empty read.
func drain(r io.Reader, buf []byte, onRead func(int)) (int64, error) {
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if onRead != nil {
				onRead(n)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return total, nil
		case sockopt.IsTransient(err):
			continue
		default:
			return total, err
		}
	}
}
