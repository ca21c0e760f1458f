// Package session implements the per-pump protocol engine (spec.md C7): a
// work queue ordered by submission time, a send/receive state machine with
// retry-on-timeout and connection-loss detection, and a response queue
// drained by the gateway. One Session is one conversation with one pump;
// it serializes requests so at most one is in flight at a time, guaranteeing
// FIFO response order (I5).
//
// Grounded on original_source/PumpHandler.py's _run/send_message/
// _read_response, adapted to the teacher's goroutine-and-channel idiom
// (internal/server/device.go's openBars/readUntil poll loop) in place of
// Python's busy-wait `while True` thread body.
package session

import (
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/basinmed/pumpgateway/internal/protocol"
	"github.com/basinmed/pumpgateway/internal/stats"
	"github.com/basinmed/pumpgateway/internal/transport"
)

// escByte is the single-byte abort command (spec.md §3 I1, §4.7).
const escByte = 0x1B

// silenceThreshold is the wall-clock elapsed-with-no-response bound that
// separates a recoverable NoResponseError from a retry (spec.md §4.7).
const silenceThreshold = 3 * time.Second

// State names spec.md §4.7's state machine, exposed for the monitor and for
// tests asserting on transitions.
type State int

const (
	StateIdle State = iota
	StateSending
	StateAwaiting
	StateRetrying
	StateVerifying
	StateDead
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateAwaiting:
		return "awaiting"
	case StateRetrying:
		return "retrying"
	case StateVerifying:
		return "verifying"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithClock overrides the wall-clock source the silence-timeout measurement
// uses. Tests inject a fake clock so S4/S5 do not need to sleep for real.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithStats attaches a latency tracker; every completed Verifying
// transition records one round-trip sample into it.
func WithStats(t *stats.Tracker) Option {
	return func(s *Session) { s.stats = t }
}

// WithOnTransition registers a hook invoked on every state transition, for
// the live status dashboard (internal/monitor).
func WithOnTransition(fn func(State)) Option {
	return func(s *Session) { s.onTransition = fn }
}

// Session is one pump's protocol engine: identity, transport handle, CRC
// configuration, compiled grammar, the two queues, and the kill flag
// (spec.md §3 "Pump session state").
type Session struct {
	Port string

	transport transport.Transport
	calc      *protocol.Calculator
	grammar   *protocol.Grammar
	term      byte
	logger    *log.Logger

	sendQ *sendQueue
	respQ *responseQueue

	killed       int32
	now          func() time.Time
	stats        *stats.Tracker
	onTransition func(State)

	done chan struct{}
}

// New builds a Session for port over tp, with the given CRC calculator
// (nil disables CRC), compiled grammar, and terminator byte. The worker
// goroutine is started immediately; callers drive it via Push/GetResponse
// and stop it via Close.
func New(port string, tp transport.Transport, calc *protocol.Calculator, grammar *protocol.Grammar, term byte, logger *log.Logger, opts ...Option) *Session {
	s := &Session{
		Port:      port,
		transport: tp,
		calc:      calc,
		grammar:   grammar,
		term:      term,
		logger:    logger,
		sendQ:     newSendQueue(),
		respQ:     newResponseQueue(),
		now:       time.Now,
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.run()
	return s
}

// Push appends command_text with its submission time to the send queue
// (spec.md §4.7 `push`). A push to a killed session is a silent no-op (I4).
func (s *Session) Push(commandText string, submittedAt time.Time) {
	s.sendQ.push(queuedMessage{command: commandText, submitted: submittedAt})
}

// GetResponse blocks for the next response (FIFO). ok is false only once
// the session is killed and its response queue has been fully drained.
func (s *Session) GetResponse() (string, bool) {
	return s.respQ.pop()
}

// Killed reports whether the kill flag has been set (I4).
func (s *Session) Killed() bool {
	return atomic.LoadInt32(&s.killed) != 0
}

// Close stops the worker and releases the transport. It is idempotent.
func (s *Session) Close() {
	if !s.kill() {
		return
	}
	s.transport.Close()
}

// kill sets the kill flag and unblocks both queues; it returns false if the
// flag was already set.
func (s *Session) kill() bool {
	if !atomic.CompareAndSwapInt32(&s.killed, 0, 1) {
		return false
	}
	s.sendQ.close()
	s.respQ.close()
	close(s.done)
	return true
}

func (s *Session) transition(st State) {
	if s.onTransition != nil {
		s.onTransition(st)
	}
}

// run is the dedicated worker: Idle -> Sending -> Awaiting/Retrying ->
// Verifying -> Idle, per spec.md §4.7's table. It exits as soon as the
// session is killed; messages still queued at that point are not processed
// (I4).
func (s *Session) run() {
	for {
		s.transition(StateIdle)
		msg, ok := s.sendQ.pop()
		if !ok {
			return
		}
		s.handle(msg)
		if s.Killed() {
			return
		}
	}
}

// handle drives one queued message through Sending/Awaiting/Retrying/
// Verifying and enqueues exactly one response (I3), unless the session was
// already killed (I4).
func (s *Session) handle(msg queuedMessage) {
	s.transition(StateSending)

	if isEscape(msg.command) {
		if err := s.transport.Write([]byte{escByte}); err != nil {
			s.logger.Printf("write escape: %v", err)
		}
		s.respQ.push("Escape character sent. Aborting all current actions.")
		return
	}

	if err := s.grammar.Validate(msg.command); err != nil {
		s.respQ.push("ERROR: " + err.Error())
		return
	}

	framed := protocol.BuildFrame(msg.command, s.calc, s.term)
	if err := s.transport.Write(framed); err != nil {
		s.respQ.push("ERROR: " + err.Error())
		s.kill()
		return
	}

	start := s.now()
	response, err := s.awaitResponse(framed)
	if err != nil {
		s.respQ.push("ERROR: " + err.Error())
		if _, lost := err.(*protocol.ConnectionLostError); lost {
			s.kill()
		}
		return
	}

	s.transition(StateVerifying)
	s.verify(response, s.now().Sub(start))
}

// awaitResponse implements the Awaiting/Retrying rows of spec.md §4.7's
// table: a first read that times out silently (elapsed >= 3s, empty) is
// retried once by resending framed; a second silent timeout is
// ConnectionLost (unrecoverable). An empty read before the 3s threshold is
// NoResponseError (recoverable, no retry) -- mirroring
// original_source/PumpHandler.py's _read_response.
func (s *Session) awaitResponse(framed []byte) ([]byte, error) {
	s.transition(StateAwaiting)
	resp, elapsed := s.timedRead()
	if len(resp) > 0 {
		return resp, nil
	}
	if elapsed < silenceThreshold {
		return nil, &protocol.NoResponseError{}
	}

	s.transition(StateRetrying)
	if err := s.transport.Write(framed); err != nil {
		return nil, err
	}
	resp2, elapsed2 := s.timedRead()
	if len(resp2) > 0 {
		return resp2, nil
	}
	if elapsed2 >= silenceThreshold {
		return nil, &protocol.ConnectionLostError{}
	}
	return nil, &protocol.NoResponseError{}
}

func (s *Session) timedRead() ([]byte, time.Duration) {
	start := s.now()
	resp, err := s.transport.ReadUntil(s.term)
	if err != nil {
		s.logger.Printf("read: %v", err)
	}
	return resp, s.now().Sub(start)
}

// verify implements the Verifying row: a bare ESC reply acknowledges the
// abort; otherwise the frame is parsed and its CRC checked (ChecksumError
// surfaces as an ERROR: but does not kill the session), and the bang-
// stripped payload is the ACK body.
func (s *Session) verify(response []byte, latency time.Duration) {
	if s.stats != nil {
		s.stats.Record(latency)
	}
	if len(response) == 1 && response[0] == escByte {
		s.respQ.push("ACK: ESCAPE COMMAND RECEIVED")
		return
	}
	payloadWithBang, err := protocol.ParseFrame(response, s.calc, s.term)
	if err != nil {
		s.respQ.push("ERROR: " + err.Error())
		return
	}
	s.respQ.push("ACK: " + strings.TrimPrefix(payloadWithBang, "!"))
}

func isEscape(command string) bool {
	return len(command) == 1 && command[0] == escByte
}
