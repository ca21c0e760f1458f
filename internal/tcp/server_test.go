package tcp

import (
	"bufio"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/basinmed/pumpgateway/internal/config"
	"github.com/basinmed/pumpgateway/internal/gateway"
	"github.com/basinmed/pumpgateway/internal/protocol"
	"github.com/basinmed/pumpgateway/internal/transport"
)

func newTestServer(t *testing.T) (*Server, net.Conn) {
	t.Helper()
	pump := config.PumpConfig{CommandSet: []config.CommandSpec{{Template: "ALARM", Response: "ALARM"}}}
	dial := func(port string) (transport.Transport, error) {
		grammar, _ := protocol.Compile(pump.CommandTemplates(), pump.ArgumentTable())
		return transport.NewLoopback(grammar, nil, protocol.DefaultTerminator, &constRand{}, func(time.Duration) {}), nil
	}
	gw := gateway.New(pump, 2, dial, log.New(io.Discard, "", 0))
	srv := New(gw, '!', 2, log.New(io.Discard, "", 0))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.Serve(ln)
	t.Cleanup(srv.Stop)

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return srv, conn
}

// constRand always selects the loopback's default (stored-response) read
// outcome, so command/response round trips in these tests are deterministic.
type constRand struct{}

func (constRand) Intn(n int) int   { return n - 1 }
func (constRand) Float64() float64 { return 0.5 }

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("readLine: %v", err)
	}
	return line
}

func TestTCPStartPumpClose(t *testing.T) {
	_, conn := newTestServer(t)
	r := bufio.NewReader(conn)
	readLine(t, r) // welcome banner line 1
	for i := 0; i < 3; i++ {
		readLine(t, r) // remaining banner lines
	}

	conn.Write([]byte("start COM1!"))
	if got := readLine(t, r); got != "Pump handler started for port COM1\n" {
		t.Fatalf("start reply = %q", got)
	}

	conn.Write([]byte("pump COM1 ALARM!"))
	if got := readLine(t, r); got != "ACK: ALARM\n" {
		t.Fatalf("pump reply = %q", got)
	}

	conn.Write([]byte("close COM1!"))
	if got := readLine(t, r); got != "Pump at port COM1 is closed\n" {
		t.Fatalf("close reply = %q", got)
	}
}

func TestTCPUnknownLine(t *testing.T) {
	_, conn := newTestServer(t)
	r := bufio.NewReader(conn)
	for i := 0; i < 4; i++ {
		readLine(t, r)
	}
	conn.Write([]byte("garbage!"))
	if got := readLine(t, r); got != "Unvalid message\n" {
		t.Fatalf("got %q, want Unvalid message", got)
	}
}

func TestTCPPumpWithoutStart(t *testing.T) {
	_, conn := newTestServer(t)
	r := bufio.NewReader(conn)
	for i := 0; i < 4; i++ {
		readLine(t, r)
	}
	conn.Write([]byte("pump COM9 ALARM!"))
	if got := readLine(t, r); got != "No pump started at this port\n" {
		t.Fatalf("got %q", got)
	}
}
