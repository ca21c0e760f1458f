package transport

import (
	"sync"
	"sync/atomic"
	"time"

	goserial "github.com/tarm/serial"
)

// pollInterval is the sleep between zero-byte poll iterations, the same
// 10ms pace as the teacher's readUntil helper (serial/com.go).
const pollInterval = 10 * time.Millisecond

// Serial is a Transport backed by a real serial port, adapted from the
// teacher's NewLeo485 (leo485.go) / openBars (internal/server/device.go):
// the same serial.Config shape (8N1, no parity) and the same poll-with-
// timeout read loop as the teacher's readUntil helper, generalized from a
// fixed CRLF terminator to an arbitrary terminator byte.
type Serial struct {
	port    *goserial.Port
	timeout time.Duration

	mu        sync.Mutex
	cancelled int32
}

// OpenSerial opens name at baud. timeout bounds both the underlying port's
// per-Read wait and ReadUntil's overall deadline (teacher's readUntil:
// `deadline := time.Now().Add(timeout)`), so a silent port returns an empty
// slice instead of spinning forever.
func OpenSerial(name string, baud int, timeout time.Duration) (*Serial, error) {
	cfg := &goserial.Config{
		Name:        name,
		Baud:        baud,
		Parity:      goserial.ParityNone,
		Size:        8,
		StopBits:    goserial.Stop1,
		ReadTimeout: timeout,
	}
	port, err := goserial.OpenPort(cfg)
	if err != nil {
		return nil, err
	}
	return &Serial{port: port, timeout: timeout}, nil
}

// Write implements Transport.
func (s *Serial) Write(p []byte) error {
	_, err := s.port.Write(p)
	return err
}

// ReadUntil implements Transport: it polls Read into a growing buffer until
// terminator is seen, CancelRead is called, or the overall deadline (derived
// from the configured timeout) passes. On the deadline it returns an empty
// slice, discarding any partial bytes, per the Transport contract; on
// CancelRead or a read error it returns the bytes read so far. A zero-byte, no-error read
// (the port's own ReadTimeout having elapsed with nothing received) sleeps
// pollInterval before the next poll instead of spinning.
func (s *Serial) ReadUntil(terminator byte) ([]byte, error) {
	atomic.StoreInt32(&s.cancelled, 0)
	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	deadline := time.Now().Add(s.timeout)
	for {
		if atomic.LoadInt32(&s.cancelled) != 0 {
			return buf, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		n, err := s.port.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			if idx := indexByte(buf, terminator); idx >= 0 {
				return buf[:idx+1], nil
			}
			continue
		}
		if err != nil {
			return buf, nil
		}
		time.Sleep(pollInterval)
	}
}

// CancelRead implements Transport: the next ReadUntil poll iteration
// observes the flag and returns promptly.
func (s *Serial) CancelRead() {
	atomic.StoreInt32(&s.cancelled, 1)
}

// Close implements Transport.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CancelRead()
	return s.port.Close()
}

func indexByte(buf []byte, b byte) int {
	for i, v := range buf {
		if v == b {
			return i
		}
	}
	return -1
}
