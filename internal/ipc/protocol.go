// Package ipc carries control commands between the vaani CLI and the
// running session daemon over a unix socket. One connection is one
// newline-delimited JSON request/response exchange.
package ipc

// Command identifies one control operation on the dictation session.
type Command string

const (
	CommandStatus Command = "status"
	CommandStart  Command = "start"
	CommandStop   Command = "stop"
	CommandCancel Command = "cancel"
	CommandToggle Command = "toggle"
)

// Known reports whether the command is part of the control vocabulary.
// The server rejects unknown commands before they reach the session.
func (c Command) Known() bool {
	switch c {
	case CommandStatus, CommandStart, CommandStop, CommandCancel, CommandToggle:
		return true
	default:
		return false
	}
}

// Request is one client command.
type Request struct {
	Command Command `json:"command"`
}

// Response reports the outcome plus the lifecycle state after the
// command ran, so clients can print it without a second roundtrip.
type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
