// Package gateway implements spec.md C8: a registry mapping port identifier
// to pump session, and the three externally-presented operations
// (start/pump/close) that create, drive, and tear down sessions.
//
// Grounded on the teacher's internal/server/store.go (map + sync.RWMutex
// registry keyed by an opaque ID) generalized to a registry keyed by the
// caller-supplied port identifier, and on original_source/Server.py's
// handle_start_command/handle_pump_command/handle_close_command.
package gateway

import (
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/basinmed/pumpgateway/internal/config"
	"github.com/basinmed/pumpgateway/internal/ports"
	"github.com/basinmed/pumpgateway/internal/protocol"
	"github.com/basinmed/pumpgateway/internal/session"
	"github.com/basinmed/pumpgateway/internal/stats"
	"github.com/basinmed/pumpgateway/internal/transport"
)

// Dialer opens a Transport for a newly-started pump. Production wiring
// passes a func that calls transport.OpenSerial; tests and loopback mode
// pass a func that builds a transport.Loopback.
type Dialer func(port string) (transport.Transport, error)

// Gateway owns the port->session registry and applies server_config's
// max_pumps capacity limit (spec.md §4.8).
type Gateway struct {
	mu       sync.Mutex
	sessions map[string]*session.Session
	last     map[string]Snapshot // most recently published state per port

	pump     config.PumpConfig
	maxPumps int
	dial     Dialer
	logOut   *log.Logger

	onSnapshot func(Snapshot)
}

// Snapshot describes one session for the live status dashboard.
type Snapshot struct {
	Port  string
	State string
	Stats stats.Snapshot
}

// Option configures a Gateway at construction time.
type Option func(*Gateway)

// WithOnSnapshot registers a hook invoked with a session's latest state
// every time that session transitions, for internal/monitor.
func WithOnSnapshot(fn func(Snapshot)) Option {
	return func(g *Gateway) { g.onSnapshot = fn }
}

// New builds a Gateway. pump carries the shared command/argument table and
// CRC parameters every started session compiles/opens with; maxPumps
// enforces spec.md's capacity limit; dial opens the transport for a
// newly-started port (real serial, or a loopback constructor).
func New(pump config.PumpConfig, maxPumps int, dial Dialer, logOut *log.Logger, opts ...Option) *Gateway {
	g := &Gateway{
		sessions: make(map[string]*session.Session),
		last:     make(map[string]Snapshot),
		pump:     pump,
		maxPumps: maxPumps,
		dial:     dial,
		logOut:   logOut,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Start implements the `start PORT` operation: it opens a transport for
// port, compiles the shared grammar, and registers a new Session. It
// returns an error if port is already started or the registry is at
// capacity (spec.md §4.8).
func (g *Gateway) Start(port string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.sessions[port]; exists {
		return fmt.Errorf("pump is already initialized at this port")
	}
	if g.maxPumps > 0 && len(g.sessions) >= g.maxPumps {
		return fmt.Errorf("max number of pumps are connected")
	}

	grammar, err := protocol.Compile(g.pump.CommandTemplates(), g.pump.ArgumentTable())
	if err != nil {
		return err
	}
	tp, err := g.dial(port)
	if err != nil {
		return err
	}

	var calc *protocol.Calculator
	if g.pump.CRCConfig != nil {
		calc = protocol.NewCalculator(g.pump.CRCConfig.ToProtocol())
	}

	tracker := stats.NewTracker()
	logger := log.New(g.logOut.Writer(), fmt.Sprintf("pumpgateway[%s] ", port), log.LstdFlags)
	sess := session.New(port, tp, calc, grammar, protocol.DefaultTerminator, logger,
		session.WithStats(tracker),
		session.WithOnTransition(func(st session.State) {
			g.publish(port, st, tracker)
		}),
	)
	g.sessions[port] = sess
	g.last[port] = Snapshot{Port: port, State: session.StateIdle.String()}
	return nil
}

// Pump implements the `pump PORT COMMAND` operation: it forwards command to
// the session at port and returns exactly one response (spec.md §4.8). If
// the session reports killed after responding, it is evicted from the
// registry.
func (g *Gateway) Pump(port, command string, submittedAt time.Time) (string, error) {
	sess, ok := g.lookup(port)
	if !ok {
		return "", fmt.Errorf("no pump started at this port")
	}

	sess.Push(command, submittedAt)
	resp, ok := sess.GetResponse()
	if !ok {
		// The session was killed and drained concurrently with this call.
		g.evict(port, sess)
		return "", fmt.Errorf("pump at port %s is no longer available", port)
	}
	if sess.Killed() {
		g.evict(port, sess)
	}
	return resp, nil
}

// Close implements the `close PORT` operation: it closes and evicts the
// session at port. ok is false when no session was registered at port.
func (g *Gateway) Close(port string) bool {
	g.mu.Lock()
	sess, ok := g.sessions[port]
	if ok {
		delete(g.sessions, port)
		delete(g.last, port)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	sess.Close()
	return true
}

// Snapshot returns a point-in-time view of every registered session, for
// the monitor's GET /api/sessions. Each entry reflects the last state
// transition actually published for that port (awaiting/retrying/sending/
// verifying/idle), not a collapsed idle-or-dead view -- except a killed
// session is always reported dead, since a session's kill flag is set
// without a corresponding state transition (see session.Session.kill).
func (g *Gateway) Snapshot() []Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Snapshot, 0, len(g.sessions))
	for port, sess := range g.sessions {
		snap, ok := g.last[port]
		if !ok {
			snap = Snapshot{Port: port, State: session.StateIdle.String()}
		}
		if sess.Killed() {
			snap.State = session.StateDead.String()
		}
		out = append(out, snap)
	}
	return out
}

func (g *Gateway) lookup(port string) (*session.Session, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sess, ok := g.sessions[port]
	return sess, ok
}

func (g *Gateway) evict(port string, sess *session.Session) {
	g.mu.Lock()
	if cur, ok := g.sessions[port]; ok && cur == sess {
		delete(g.sessions, port)
		delete(g.last, port)
	}
	g.mu.Unlock()
}

func (g *Gateway) publish(port string, st session.State, tracker *stats.Tracker) {
	snap := Snapshot{Port: port, State: st.String(), Stats: tracker.Snapshot()}
	g.mu.Lock()
	if _, ok := g.sessions[port]; ok {
		g.last[port] = snap
	}
	g.mu.Unlock()
	if g.onSnapshot != nil {
		g.onSnapshot(snap)
	}
}

// SeededLoopbackDialer returns a Dialer that opens a fresh transport.Loopback
// per port, each with its own *rand.Rand seeded off src. Every started
// session owns its loopback exclusively (spec.md §5: "no cross-session
// locking; sessions are independent"), so src itself is only ever touched
// under seedMu to draw the next per-port seed -- *rand.Rand is not safe for
// concurrent use, and handing the same instance to every session's worker
// goroutine would be a data race the moment two pumps are running at once.
func SeededLoopbackDialer(pump config.PumpConfig, src *rand.Rand) Dialer {
	var seedMu sync.Mutex
	return func(port string) (transport.Transport, error) {
		grammar, err := protocol.Compile(pump.CommandTemplates(), pump.ArgumentTable())
		if err != nil {
			return nil, err
		}
		var calc *protocol.Calculator
		if pump.CRCConfig != nil {
			calc = protocol.NewCalculator(pump.CRCConfig.ToProtocol())
		}
		seedMu.Lock()
		seed := src.Int63()
		seedMu.Unlock()
		portRnd := rand.New(rand.NewSource(seed))
		return transport.NewLoopback(grammar, calc, protocol.DefaultTerminator, portRnd, nil), nil
	}
}

// SerialDialer returns a Dialer that opens a real serial port per
// pump.SerialPortConfig (spec.md §6 non-loopback wiring). It rejects a port
// name absent from internal/ports.List() up front, per SPEC_FULL.md's
// serial-port-enumeration addition, rather than opening a handle that will
// never respond -- a distinction original_source/main.py's bare
// `serial.Serial(...)` construction does not make. When ports.List() finds
// no ports at all, the name is not checked and the port is opened directly.
func SerialDialer(pump config.PumpConfig) Dialer {
	return func(port string) (transport.Transport, error) {
		known := ports.List()
		if len(known) > 0 && !contains(known, port) {
			return nil, fmt.Errorf("port not found: %s (known ports: %v)", port, known)
		}
		return transport.OpenSerial(port, pump.SerialPortConfig.Baud, pump.SerialPortConfig.ReadTimeoutDuration())
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
