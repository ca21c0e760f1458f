package protocol

import "fmt"

// CRCConfig parameterizes the CRC engine the way config.json's crc_config
// block does: width, polynomial, initial register value, final XOR, and
// whether input bytes / the final register are bit-reversed. This
// generalizes the teacher's single hard-coded CRC-16/CCITT in com.go's
// crc16() to an arbitrary configured width and polynomial.
type CRCConfig struct {
	Width         uint
	Polynomial    uint64
	InitValue     uint64
	FinalXORValue uint64
	ReverseInput  bool
	ReverseOutput bool
}

// Calculator computes a CRCConfig-parameterized checksum over a byte
// sequence using the standard bit-serial shift-register algorithm.
type Calculator struct {
	cfg    CRCConfig
	mask   uint64
	topBit uint64
}

// NewCalculator builds a Calculator for cfg. Per Design Notes §9 ("grammar
// compilation... at session-start rather than per-message"), a pump session
// builds its Calculator once at start time rather than re-deriving the mask
// and top-bit on every message.
func NewCalculator(cfg CRCConfig) *Calculator {
	mask := ^uint64(0)
	if cfg.Width < 64 {
		mask = (uint64(1) << cfg.Width) - 1
	}
	return &Calculator{
		cfg:    cfg,
		mask:   mask,
		topBit: uint64(1) << (cfg.Width - 1),
	}
}

// Checksum computes the CRC of data under this calculator's configuration.
func (c *Calculator) Checksum(data []byte) uint64 {
	reg := c.cfg.InitValue & c.mask
	for _, in := range data {
		if c.cfg.ReverseInput {
			in = reverseBits8(in)
		}
		reg = c.stepByte(reg, in)
	}
	if c.cfg.ReverseOutput {
		reg = reverseBitsN(reg, c.cfg.Width)
	}
	return (reg ^ c.cfg.FinalXORValue) & c.mask
}

// stepByte shifts in reg the 8 bits of in, most significant bit first,
// applying the polynomial whenever the top bit of the register is set.
func (c *Calculator) stepByte(reg uint64, in byte) uint64 {
	if c.cfg.Width >= 8 {
		reg ^= uint64(in) << (c.cfg.Width - 8)
	} else {
		reg ^= uint64(in) >> (8 - c.cfg.Width)
	}
	for b := 0; b < 8; b++ {
		if reg&c.topBit != 0 {
			reg = ((reg << 1) ^ c.cfg.Polynomial) & c.mask
		} else {
			reg = (reg << 1) & c.mask
		}
	}
	return reg
}

// FormatFCS renders a checksum as 4 lowercase hex digits, zero-padded -- the
// wire format spec.md fixes explicitly (resolving the "FCS formatting
// asymmetry" open question in favor of hex, since that is what the
// loopback parser in Loopback.py's _checksum_check expects).
func FormatFCS(v uint64) string {
	return fmt.Sprintf("%04x", v&0xFFFF)
}

func reverseBits8(b byte) byte {
	var r byte
	for i := 0; i < 8; i++ {
		r = r<<1 | (b & 1)
		b >>= 1
	}
	return r
}

func reverseBitsN(v uint64, width uint) uint64 {
	var r uint64
	for i := uint(0); i < width; i++ {
		r = r<<1 | (v & 1)
		v >>= 1
	}
	return r
}
