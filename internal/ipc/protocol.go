// Package ipc carries press/release/status commands between the CLI and the
// listening daemon over a unix socket, one JSON line each way.
package ipc

// Commands understood by the daemon.
const (
	CommandStatus  = "status"
	CommandPress   = "press"
	CommandRelease = "release"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK      bool   `json:"ok"`
	State   string `json:"state,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
