package scservo

import (
	"io"
	"time"
)

// Transport is the byte-I/O capability the bus is built on (spec §4.1): a
// named endpoint that can be opened, have its baud rate set, flushed, read
// from non-blockingly, and written to. Implementations live under
// scservo/transport; this interface is the only thing the core depends on.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long the next Read may block. Read is
	// expected to return whatever is currently available (possibly zero
	// bytes) once the timeout elapses, not to error.
	SetReadTimeout(timeout time.Duration) error

	// SetBaudRate reconfigures the line rate. Implementations should
	// support a custom-rate path for non-standard bauds (e.g. 1,000,000).
	SetBaudRate(baud int) error

	// Flush discards any buffered input and output.
	Flush() error
}
