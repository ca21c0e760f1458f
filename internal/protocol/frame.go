package protocol

import "strings"

// DefaultTerminator is the terminator byte appended after the hex-encoded
// envelope when a pump config does not override it.
const DefaultTerminator byte = 0x0D

// BuildFrame renders payload as the wire envelope `!PAYLOAD|FCS<TERM>`,
// hex-encodes it, and appends the raw terminator byte. calc is nil when CRC
// is disabled for this pump, in which case FCS is the empty string.
func BuildFrame(payload string, calc *Calculator, terminator byte) []byte {
	fcs := ""
	if calc != nil {
		fcs = FormatFCS(calc.Checksum([]byte(payload)))
	}
	envelope := "!" + payload + "|" + fcs
	out := []byte(EncodeHex(envelope))
	out = append(out, terminator)
	return out
}

// ParseFrame strips the trailing terminator byte, hex-decodes the remainder,
// and splits it on the first '|' into the bang-prefixed payload and its FCS.
// When calc is non-nil, the computed CRC of the payload (without the
// leading '!') must equal the carried FCS or ParseFrame returns a
// *ChecksumError; a frame with no '|' carries no FCS and is rejected the
// same way.
func ParseFrame(raw []byte, calc *Calculator, terminator byte) (payloadWithBang string, err error) {
	if len(raw) > 0 && raw[len(raw)-1] == terminator {
		raw = raw[:len(raw)-1]
	}
	decoded := DecodeHex(string(raw))
	idx := strings.IndexByte(decoded, '|')
	if idx < 0 {
		if calc != nil {
			payload := strings.TrimPrefix(decoded, "!")
			return decoded, &ChecksumError{
				Response: decoded,
				Expected: FormatFCS(calc.Checksum([]byte(payload))),
				Received: "",
			}
		}
		return decoded, nil
	}
	payloadWithBang = decoded[:idx]
	fcs := decoded[idx+1:]
	if calc != nil {
		payload := strings.TrimPrefix(payloadWithBang, "!")
		expected := FormatFCS(calc.Checksum([]byte(payload)))
		if expected != fcs {
			return payloadWithBang, &ChecksumError{
				Response: decoded,
				Expected: expected,
				Received: fcs,
			}
		}
	}
	return payloadWithBang, nil
}
