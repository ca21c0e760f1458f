// Package protocol implements the wire codec and command grammar shared by
// every pump session: hex framing, parameterized CRC, and the argument-table
// driven validator compiler.
package protocol

import "fmt"

// ConfigError reports a malformed command template or an argument name that
// is not described in the arguments table.
type ConfigError struct {
	Detail string
}

func (e *ConfigError) Error() string { return e.Detail }

// ArgumentError reports a `values` spec the compiler does not recognize.
type ArgumentError struct {
	Detail string
}

func (e *ArgumentError) Error() string { return e.Detail }

// CommandError reports a command_text that matches no configured template.
type CommandError struct {
	Command string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("Provided command pattern does not exist in config.json. Command: %s", e.Command)
}

// ChecksumError reports a CRC mismatch between a response's payload and its
// carried FCS.
type ChecksumError struct {
	Response string
	Expected string
	Received string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("Checksum does not match expectation.\nResponse: %s\nExpected: %s\nReceived: %s",
		e.Response, e.Expected, e.Received)
}

// NoResponseError reports an empty read that occurred before the 3s silence
// threshold; recoverable, the session is not killed.
type NoResponseError struct{}

func (e *NoResponseError) Error() string { return "No response from pump. Try again" }

// ConnectionLostError reports two successive silent reads of >= 3s each;
// unrecoverable, the session that returns this is killed by its caller.
type ConnectionLostError struct{}

func (e *ConnectionLostError) Error() string { return "Device disconnected" }
