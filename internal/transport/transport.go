// Package transport implements the byte-level link between a pump session
// and its device: a real serial port, or the loopback simulator used to
// exercise the gateway without hardware.
package transport

// Transport is the capability set a pump session drives: write bytes, block
// for a terminated response, close the link, and cancel an in-flight read so
// Close can return promptly. Modeled as a small interface (Design Notes §9)
// rather than an inheritance hierarchy, mirroring the teacher's split
// between `serial.Port` (github.com/tarm/serial) and its own device wrapper.
type Transport interface {
	// Write sends raw bytes to the device.
	Write(p []byte) error
	// ReadUntil blocks until terminator is read or the transport's own
	// timeout elapses, in which case it returns an empty slice.
	ReadUntil(terminator byte) ([]byte, error)
	// Close releases the underlying link.
	Close() error
	// CancelRead causes a concurrently blocked ReadUntil to return promptly.
	CancelRead()
}
