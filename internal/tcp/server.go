// Package tcp is the external client-facing surface spec.md §1 calls an
// out-of-scope collaborator ("TCP listener / line framing on the client
// side") but which the full repo needs to be runnable end to end.
//
// Grounded on original_source/Server.py: accept loop, delimiter-buffered
// line framing (`receive`), and the three command regexes (spec.md §6),
// widened per spec.md §5 ("a worker pool that services inbound TCP
// commands so that multiple clients/pumps may be served concurrently")
// from the original's single-connection `socket.accept()` to a
// goroutine-per-connection net.Listener plus a bounded worker pool
// (pool.go) executing parsed commands against the gateway.
package tcp

import (
	"bufio"
	"io"
	"log"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/basinmed/pumpgateway/internal/gateway"
)

var (
	startCommand = regexp.MustCompile(`^start ((?:/[a-z]+/[A-Za-z0-9]+)|COM\d+)$`)
	pumpCommand  = regexp.MustCompile(`^pump ((?:/[a-z]+/[A-Za-z0-9]+)|COM\d+) (\S+)$`)
	closeCommand = regexp.MustCompile(`^close ((?:/[a-z]+/[A-Za-z0-9]+)|COM\d+)$`)
)

// welcomeLines is sent, one line at a time, once per accepted connection,
// mirroring original_source/Server.py's run() greeting.
var welcomeLines = []string{
	"Ready to work.",
	"To start at port: start PORT (e.g. /dev/ttyUSB0 or COM1)",
	"To send command: pump PORT COMMAND",
	"To close pump: close PORT",
}

// Server is the line-delimited TCP front end over a Gateway.
type Server struct {
	gw        *gateway.Gateway
	delimiter byte
	pool      *pool
	logger    *log.Logger
	listener  net.Listener
}

// New builds a Server. delimiter is server_config.command_delimiter's first
// byte (spec.md default '!'); poolSize should be server_config.max_pumps.
func New(gw *gateway.Gateway, delimiter byte, poolSize int, logger *log.Logger) *Server {
	return &Server{
		gw:        gw,
		delimiter: delimiter,
		pool:      newPool(poolSize),
		logger:    logger,
	}
}

// Serve accepts connections on ln until it is closed or Stop is called.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln
	for {
		conn, err := ln.Accept()
		if err != nil {
			if isClosed(err) {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Stop closes the listener (Serve returns) and stops the worker pool's
// workers; jobs still waiting in the pool's queue may not run.
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.pool.stop()
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	for _, line := range welcomeLines {
		s.send(conn, line)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := s.receive(reader)
		if err != nil {
			if err != io.EOF {
				s.logger.Printf("connection from %s: %v", conn.RemoteAddr(), err)
			}
			return
		}
		s.dispatch(conn, line)
	}
}

// receive accumulates bytes until the configured delimiter is seen,
// mirroring Server.py's receive buffer/partition loop.
func (s *Server) receive(r *bufio.Reader) (string, error) {
	line, err := r.ReadString(s.delimiter)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(strings.TrimRight(line, "\r\n"), string(s.delimiter)), nil
}

// dispatch matches line against the three command patterns and hands the
// work to the bounded pool so a slow pump cannot stall other connections'
// unrelated requests. A non-matching line replies "Unvalid message"
// verbatim -- original_source/Server.py's deliberate spelling, preserved
// here as client-visible wire text rather than silently corrected.
func (s *Server) dispatch(conn net.Conn, line string) {
	switch {
	case startCommand.MatchString(line):
		m := startCommand.FindStringSubmatch(line)
		port := m[1]
		s.pool.submit(func() { s.handleStart(conn, port) })
	case pumpCommand.MatchString(line):
		m := pumpCommand.FindStringSubmatch(line)
		port, command := m[1], m[2]
		submittedAt := time.Now()
		s.pool.submit(func() { s.handlePump(conn, port, command, submittedAt) })
	case closeCommand.MatchString(line):
		m := closeCommand.FindStringSubmatch(line)
		port := m[1]
		s.pool.submit(func() { s.handleClose(conn, port) })
	default:
		s.send(conn, "Unvalid message")
	}
}

func (s *Server) handleStart(conn net.Conn, port string) {
	if err := s.gw.Start(port); err != nil {
		s.send(conn, err.Error())
		return
	}
	s.send(conn, "Pump handler started for port "+port)
}

func (s *Server) handlePump(conn net.Conn, port, command string, submittedAt time.Time) {
	resp, err := s.gw.Pump(port, command, submittedAt)
	if err != nil {
		s.send(conn, "No pump started at this port")
		return
	}
	s.send(conn, resp)
}

func (s *Server) handleClose(conn net.Conn, port string) {
	if s.gw.Close(port) {
		s.send(conn, "Pump at port "+port+" is closed")
		return
	}
	s.send(conn, "No pump initialized at port "+port)
}

func (s *Server) send(conn net.Conn, message string) {
	if _, err := conn.Write([]byte(message + "\n")); err != nil {
		s.logger.Printf("write to %s: %v", conn.RemoteAddr(), err)
	}
}

func isClosed(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
