package transport

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/basinmed/pumpgateway/internal/protocol"
)

// Randomizer is the injectable random source Loopback uses for both the
// read_until outcome lottery and synthesized response field values. Per
// Design Notes §9 ("global randomness... is a hidden dependency; expose it
// as an injectable source so tests are deterministic"), *math/rand.Rand
// satisfies this interface structurally.
type Randomizer interface {
	Intn(n int) int
	Float64() float64
}

// Loopback simulates a pump by pattern-matching a received command against
// the configured command table and synthesizing a plausible response,
// directly adapted from original_source/Loopback.py.
type Loopback struct {
	grammar     *protocol.Grammar
	calc        *protocol.Calculator
	terminator  byte
	rnd         Randomizer
	sleep       func(time.Duration)
	defaultResp []byte

	response []byte
	bound    map[string]string
}

// NewLoopback builds a Loopback transport over grammar's compiled command
// table. calc is nil when CRC is disabled for this pump. rnd drives both
// the read outcome lottery and field synthesis; sleep is the delay
// primitive (time.Sleep in production, overridable in tests so the 3.1s
// timeout-simulation branch doesn't make every test slow).
func NewLoopback(grammar *protocol.Grammar, calc *protocol.Calculator, terminator byte, rnd Randomizer, sleep func(time.Duration)) *Loopback {
	if sleep == nil {
		sleep = time.Sleep
	}
	l := &Loopback{
		grammar:    grammar,
		calc:       calc,
		terminator: terminator,
		rnd:        rnd,
		sleep:      sleep,
		bound:      make(map[string]string),
	}
	l.defaultResp = []byte{terminator}
	l.response = l.defaultResp
	return l
}

// Write implements Transport: decode the frame, verify its CRC if enabled,
// then locate a matching template and compute the next ReadUntil response.
func (l *Loopback) Write(p []byte) error {
	payloadWithBang, err := protocol.ParseFrame(p, l.calc, l.terminator)
	if err != nil {
		return err
	}
	command := strings.TrimPrefix(payloadWithBang, "!")
	parts := strings.Split(command, "^")
	head := parts[0]
	params := parts[1:]

	var matched *protocol.CompiledTemplateView
	for _, t := range l.grammar.Templates() {
		if t.Head == head && len(t.Args) == len(params) {
			v := t
			matched = &v
			break
		}
	}
	if matched == nil {
		// No configured template recognizes this command; nothing sensible
		// to synthesize. Echo the bare terminator back, as if the device
		// ignored an unrecognized frame.
		l.response = l.defaultResp
		return nil
	}

	for i, name := range matched.Args {
		l.bound[name] = params[i]
	}

	if matched.Response == matched.Template {
		l.response = append([]byte(nil), p...)
		return nil
	}

	l.response = protocol.BuildFrame(l.instantiate(matched.Response), l.calc, l.terminator)
	return nil
}

// instantiate fills each <NAME> placeholder in responseTemplate: a
// previously bound value for that name is reused, else a random value is
// synthesized from the argument's configured `values` spec.
func (l *Loopback) instantiate(responseTemplate string) string {
	parts := strings.Split(responseTemplate, "^")
	out := make([]string, len(parts))
	out[0] = parts[0]
	for i, placeholder := range parts[1:] {
		value, ok := l.bound[placeholder]
		if !ok {
			if spec, ok := l.grammar.Argument(placeholder); ok {
				value = l.randomValue(spec)
			}
		}
		out[i+1] = value
	}
	return strings.Join(out, "^")
}

// randomValue synthesizes a plausible value for spec, per spec.md §4.6.
func (l *Loopback) randomValue(spec protocol.ArgumentSpec) string {
	switch {
	case spec.Values != nil:
		return spec.Values[l.rnd.Intn(len(spec.Values))]
	case strings.HasPrefix(spec.Spec, "float"):
		v := 1.0 + l.rnd.Float64()*9.0
		s := strconv.FormatFloat(v, 'f', -1, 64)
		if len(s) > 6 {
			s = s[:6]
		}
		return s
	case strings.HasPrefix(spec.Spec, "int"):
		maxDigits := parenArg(spec.Spec)
		n := 1
		for i := 0; i < maxDigits; i++ {
			n *= 10
		}
		return strconv.Itoa(1 + l.rnd.Intn(n))
	case strings.HasPrefix(spec.Spec, "str"):
		maxLen := parenArg(spec.Spec)
		length := 1 + l.rnd.Intn(maxLen)
		return randomAlnum(l.rnd, length)
	case strings.HasPrefix(spec.Spec, "DateAndTimeStamp"):
		month := 1 + l.rnd.Intn(12)
		day := 1 + l.rnd.Intn(28)
		hour := l.rnd.Intn(24)
		minute := l.rnd.Intn(60)
		second := l.rnd.Intn(60)
		return fmt.Sprintf("2024-%02d-%02dT%02d:%02d:%02d", month, day, hour, minute, second)
	case strings.HasPrefix(spec.Spec, "DateStamp"):
		month := 1 + l.rnd.Intn(12)
		day := 1 + l.rnd.Intn(28)
		return fmt.Sprintf("2024-%02d-%02d", month, day)
	case strings.HasPrefix(spec.Spec, "DurationStamp"):
		hour := l.rnd.Intn(24)
		minute := l.rnd.Intn(60)
		second := l.rnd.Intn(60)
		return fmt.Sprintf("%02d:%02d:%02d", hour, minute, second)
	default:
		return ""
	}
}

// parenArg extracts the integer N out of a "kind(N)" or "kind(N,...)" spec
// string, e.g. "int(4)" -> 4, "str(16),OFF" -> 16.
func parenArg(spec string) int {
	open := strings.IndexByte(spec, '(')
	if open < 0 {
		return 0
	}
	rest := spec[open+1:]
	end := strings.IndexAny(rest, ",)")
	if end < 0 {
		return 0
	}
	n, _ := strconv.Atoi(rest[:end])
	return n
}

const alnumAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func randomAlnum(rnd Randomizer, length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = alnumAlphabet[rnd.Intn(len(alnumAlphabet))]
	}
	return string(b)
}

// ReadUntil implements Transport's read_until lottery (spec.md §4.6): a
// uniform 1..50 draw selects empty/ESC/forced-timeout/the stored response.
// After each call the stored response resets to the bare terminator.
func (l *Loopback) ReadUntil(terminator byte) ([]byte, error) {
	defer func() { l.response = l.defaultResp }()

	switch l.rnd.Intn(50) + 1 {
	case 1:
		return nil, nil
	case 2:
		return []byte{0x1B}, nil
	case 3:
		l.sleep(3100 * time.Millisecond)
		return nil, nil
	default:
		l.sleep(time.Duration(200+l.rnd.Intn(300)) * time.Millisecond)
		return l.response, nil
	}
}

// CancelRead is a no-op, matching original_source/Loopback.py's
// cancel_read; the longest a pending ReadUntil can block is the 3.1s
// forced-timeout branch, which the session's own 3s silence threshold
// already accounts for.
func (l *Loopback) CancelRead() {}

// Close is a no-op, matching original_source/Loopback.py's close.
func (l *Loopback) Close() error { return nil }
