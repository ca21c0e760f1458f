package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleConfig = `{
  "server_config": {
    "command_delimiter": "!",
    "server_ip": "0.0.0.0",
    "port": 9000,
    "max_pumps": 4,
    "loopback": true
  },
  "pump_config": {
    "serial_port_config": {"baud": 9600, "read_timeout": "300ms"},
    "crc_config": {
      "width": 16, "polynomial": 4129, "init_value": 65535,
      "final_xor_value": 0, "reverse_input": false, "reverse_output": false
    },
    "command_set": [
      {"template": "ALARM", "response": "ALARM"},
      {"template": "DRUG_LIB^<QUANTITY>", "response": "ACK^<QUANTITY>"}
    ],
    "arguments": {
      "<QUANTITY>": {"values": "int(2)"},
      "<MODE>": {"values": ["RUN", "STOP"]}
    }
  }
}`

func TestLoadParsesSchema(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.MaxPumps != 4 || !cfg.Server.Loopback {
		t.Fatalf("server config not parsed correctly: %+v", cfg.Server)
	}
	if cfg.Pump.CRCConfig == nil || cfg.Pump.CRCConfig.Polynomial != 4129 {
		t.Fatalf("crc config not parsed correctly: %+v", cfg.Pump.CRCConfig)
	}
	if len(cfg.Pump.CommandSet) != 2 || cfg.Pump.CommandSet[0].Template != "ALARM" {
		t.Fatalf("command set order not preserved: %+v", cfg.Pump.CommandSet)
	}
	quantity := cfg.Pump.Arguments["<QUANTITY>"]
	if quantity.Spec != "int(2)" {
		t.Fatalf("string values spec not parsed: %+v", quantity)
	}
	mode := cfg.Pump.Arguments["<MODE>"]
	if len(mode.Values) != 2 || mode.Values[0] != "RUN" {
		t.Fatalf("list values spec not parsed: %+v", mode)
	}
}

func TestLoadDefaultsCommandDelimiter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server_config":{},"pump_config":{}}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.CommandDelimiter != "!" {
		t.Fatalf("CommandDelimiter = %q, want default %q", cfg.Server.CommandDelimiter, "!")
	}
}

func TestSerialPortConfigReadTimeoutDefault(t *testing.T) {
	var s SerialPortConfig
	if got, want := s.ReadTimeoutDuration(), defaultReadTimeout; got != want {
		t.Fatalf("default ReadTimeoutDuration = %v, want %v", got, want)
	}
}
