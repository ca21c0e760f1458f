package transport

import (
	"strings"
	"testing"
	"time"

	"github.com/basinmed/pumpgateway/internal/protocol"
)

// fixedRandomizer drives Randomizer deterministically for tests: Intn
// always returns the configured outcome and wraps around a short list.
type fixedRandomizer struct {
	ints   []int
	idx    int
	floats []float64
	fidx   int
}

func (f *fixedRandomizer) Intn(n int) int {
	if len(f.ints) == 0 {
		return 0
	}
	v := f.ints[f.idx%len(f.ints)]
	f.idx++
	if v >= n {
		v = n - 1
	}
	return v
}

func (f *fixedRandomizer) Float64() float64 {
	if len(f.floats) == 0 {
		return 0
	}
	v := f.floats[f.fidx%len(f.floats)]
	f.fidx++
	return v
}

func noSleep(time.Duration) {}

var crcCfg = protocol.CRCConfig{Width: 16, Polynomial: 0x1021, InitValue: 0xFFFF}

func TestLoopbackEcho(t *testing.T) {
	grammar, err := protocol.Compile([]protocol.CommandTemplate{{Template: "ALARM", Response: "ALARM"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	calc := protocol.NewCalculator(crcCfg)
	lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{50}}, noSleep)

	req := protocol.BuildFrame("ALARM", calc, protocol.DefaultTerminator)
	if err := lb.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	resp, err := lb.ReadUntil(protocol.DefaultTerminator)
	if err != nil {
		t.Fatalf("ReadUntil: %v", err)
	}
	if string(resp) != string(req) {
		t.Fatalf("echo response %q != request %q", resp, req)
	}
}

func TestLoopbackSynthesizesAndRemembersBindings(t *testing.T) {
	grammar, err := protocol.Compile(
		[]protocol.CommandTemplate{{Template: "DRUG_LIB^<QUANTITY>", Response: "ACK^<QUANTITY>^<FILLED>"}},
		map[string]protocol.ArgumentSpec{
			"<QUANTITY>": {Spec: "int(2)"},
			"<FILLED>":   {Spec: "int(1)"},
		},
	)
	if err != nil {
		t.Fatal(err)
	}
	calc := protocol.NewCalculator(crcCfg)
	lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{50, 3}}, noSleep)

	req := protocol.BuildFrame("DRUG_LIB^42", calc, protocol.DefaultTerminator)
	if err := lb.Write(req); err != nil {
		t.Fatalf("Write: %v", err)
	}
	resp, err := lb.ReadUntil(protocol.DefaultTerminator)
	if err != nil {
		t.Fatal(err)
	}
	payload, err := protocol.ParseFrame(resp, calc, protocol.DefaultTerminator)
	if err != nil {
		t.Fatalf("ParseFrame(response): %v", err)
	}
	if !strings.Contains(payload, "ACK^42^") {
		t.Fatalf("expected the bound QUANTITY=42 to be reused in the response, got %q", payload)
	}
}

func TestLoopbackChecksumMismatch(t *testing.T) {
	grammar, err := protocol.Compile([]protocol.CommandTemplate{{Template: "ALARM", Response: "ALARM"}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	calc := protocol.NewCalculator(crcCfg)
	lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{50}}, noSleep)

	req := protocol.BuildFrame("ALARM", calc, protocol.DefaultTerminator)
	req[0] ^= 0x01
	if err := lb.Write(req); err == nil {
		t.Fatal("expected a ChecksumError on a corrupted request")
	} else if _, ok := err.(*protocol.ChecksumError); !ok {
		t.Fatalf("got %T, want *protocol.ChecksumError", err)
	}
}

func TestLoopbackReadOutcomeLottery(t *testing.T) {
	grammar, _ := protocol.Compile([]protocol.CommandTemplate{{Template: "ALARM", Response: "ALARM"}}, nil)
	calc := protocol.NewCalculator(crcCfg)

	t.Run("outcome 1 returns empty", func(t *testing.T) {
		lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{0}}, noSleep)
		resp, err := lb.ReadUntil(protocol.DefaultTerminator)
		if err != nil || len(resp) != 0 {
			t.Fatalf("got %q, %v; want empty, nil", resp, err)
		}
	})

	t.Run("outcome 2 returns ESC", func(t *testing.T) {
		lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{1}}, noSleep)
		resp, err := lb.ReadUntil(protocol.DefaultTerminator)
		if err != nil || len(resp) != 1 || resp[0] != 0x1B {
			t.Fatalf("got %q, %v; want single ESC byte", resp, err)
		}
	})

	t.Run("outcome 3 forces a timeout", func(t *testing.T) {
		var slept time.Duration
		lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{2}}, func(d time.Duration) { slept = d })
		resp, err := lb.ReadUntil(protocol.DefaultTerminator)
		if err != nil || len(resp) != 0 {
			t.Fatalf("got %q, %v; want empty", resp, err)
		}
		if slept < 3*time.Second {
			t.Fatalf("slept %v, want >= 3s to force the session's silence threshold", slept)
		}
	})
}

func TestLoopbackResponseResetsAfterRead(t *testing.T) {
	grammar, _ := protocol.Compile([]protocol.CommandTemplate{{Template: "ALARM", Response: "ALARM"}}, nil)
	calc := protocol.NewCalculator(crcCfg)
	lb := NewLoopback(grammar, calc, protocol.DefaultTerminator, &fixedRandomizer{ints: []int{50}}, noSleep)

	req := protocol.BuildFrame("ALARM", calc, protocol.DefaultTerminator)
	_ = lb.Write(req)
	first, _ := lb.ReadUntil(protocol.DefaultTerminator)
	second, _ := lb.ReadUntil(protocol.DefaultTerminator)
	if string(first) == string(second) {
		t.Fatal("the stored response must reset to the bare terminator after being read once")
	}
	if len(second) != 1 || second[0] != protocol.DefaultTerminator {
		t.Fatalf("second read = %v, want bare terminator", second)
	}
}
