// Package config loads the JSON configuration consumed at startup: server
// listen settings, serial parameters, optional CRC parameters, and the
// command/argument tables the grammar compiler turns into validators.
//
// Loading config files is an external collaborator per spec.md §1, not part
// of the protocol core, but every runnable instance of this service needs
// one -- modeled the way models/models.go mirrors config.json in the
// teacher repo.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/basinmed/pumpgateway/internal/protocol"
)

// Config is the top-level JSON document.
type Config struct {
	Server ServerConfig `json:"server_config"`
	Pump   PumpConfig   `json:"pump_config"`
}

// ServerConfig configures the TCP client listener and pump capacity.
type ServerConfig struct {
	CommandDelimiter string `json:"command_delimiter"`
	ServerIP         string `json:"server_ip"`
	Port             int    `json:"port"`
	MaxPumps         int    `json:"max_pumps"`
	Loopback         bool   `json:"loopback"`
}

// PumpConfig configures every pump session started by the gateway: the
// serial parameters for a real transport, the optional CRC parameters, and
// the command/argument tables the grammar compiler consumes.
type PumpConfig struct {
	SerialPortConfig SerialPortConfig      `json:"serial_port_config"`
	CRCConfig        *CRCConfig            `json:"crc_config"`
	CommandSet       []CommandSpec         `json:"command_set"`
	Arguments        map[string]ArgumentSpec `json:"arguments"`
}

// SerialPortConfig configures a real (non-loopback) serial transport.
type SerialPortConfig struct {
	Baud        int    `json:"baud"`
	ReadTimeout string `json:"read_timeout"`
}

// defaultReadTimeout is the teacher's NewLeo485/openBars poll-read default.
const defaultReadTimeout = 300 * time.Millisecond

// ReadTimeoutDuration parses ReadTimeout, defaulting to defaultReadTimeout
// when unset or unparsable.
func (s SerialPortConfig) ReadTimeoutDuration() time.Duration {
	if s.ReadTimeout == "" {
		return defaultReadTimeout
	}
	d, err := time.ParseDuration(s.ReadTimeout)
	if err != nil {
		return defaultReadTimeout
	}
	return d
}

// CRCConfig mirrors the `crc` library's Configuration dataclass the
// original Python PumpHandler passes crc_config into directly.
type CRCConfig struct {
	Width         uint   `json:"width"`
	Polynomial    uint64 `json:"polynomial"`
	InitValue     uint64 `json:"init_value"`
	FinalXORValue uint64 `json:"final_xor_value"`
	ReverseInput  bool   `json:"reverse_input"`
	ReverseOutput bool   `json:"reverse_output"`
}

// ToProtocol converts to the protocol package's CRCConfig.
func (c *CRCConfig) ToProtocol() protocol.CRCConfig {
	if c == nil {
		return protocol.CRCConfig{}
	}
	return protocol.CRCConfig{
		Width:         c.Width,
		Polynomial:    c.Polynomial,
		InitValue:     c.InitValue,
		FinalXORValue: c.FinalXORValue,
		ReverseInput:  c.ReverseInput,
		ReverseOutput: c.ReverseOutput,
	}
}

// CommandSpec is one entry of command_set, in declaration order. See
// SPEC_FULL.md for why this is an array rather than a JSON object.
type CommandSpec struct {
	Template string `json:"template"`
	Response string `json:"response"`
}

// ArgumentSpec is one entry of the arguments table. `values` is either a
// JSON array of literal choices or a spec string like "int(4)".
type ArgumentSpec struct {
	Values []string
	Spec   string
}

// UnmarshalJSON accepts `{"values": "int(4)"}` or `{"values": ["A","B"]}`.
func (a *ArgumentSpec) UnmarshalJSON(data []byte) error {
	var wire struct {
		Values json.RawMessage `json:"values"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var asList []string
	if err := json.Unmarshal(wire.Values, &asList); err == nil {
		a.Values = asList
		return nil
	}
	var asString string
	if err := json.Unmarshal(wire.Values, &asString); err != nil {
		return fmt.Errorf("arguments.values must be a string or a list of strings: %w", err)
	}
	a.Spec = asString
	return nil
}

// ToProtocol converts to the protocol package's ArgumentSpec.
func (a ArgumentSpec) ToProtocol() protocol.ArgumentSpec {
	return protocol.ArgumentSpec{Values: a.Values, Spec: a.Spec}
}

// CommandTemplates converts PumpConfig.CommandSet to protocol.CommandTemplate
// in declaration order.
func (p PumpConfig) CommandTemplates() []protocol.CommandTemplate {
	out := make([]protocol.CommandTemplate, len(p.CommandSet))
	for i, c := range p.CommandSet {
		out[i] = protocol.CommandTemplate{Template: c.Template, Response: c.Response}
	}
	return out
}

// ArgumentTable converts PumpConfig.Arguments to the protocol package's map.
func (p PumpConfig) ArgumentTable() map[string]protocol.ArgumentSpec {
	out := make(map[string]protocol.ArgumentSpec, len(p.Arguments))
	for k, v := range p.Arguments {
		out[k] = v.ToProtocol()
	}
	return out
}

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if cfg.Server.CommandDelimiter == "" {
		cfg.Server.CommandDelimiter = "!"
	}
	return &cfg, nil
}
