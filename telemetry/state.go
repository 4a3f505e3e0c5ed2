package telemetry

import "fmt"

// ConnectionState of a transport.
// Degraded means connection is open but no frames received lately, not yet declared dead.
type ConnectionState uint32

const (
	ConnConnecting ConnectionState = iota
	ConnOpen
	ConnDegraded
	ConnClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnConnecting:
		return "connecting"
	case ConnOpen:
		return "open"
	case ConnDegraded:
		return "degraded"
	case ConnClosed:
		return "closed"
	}
	return fmt.Sprintf("ConnectionState(%d)", uint32(s))
}

// Mode is the active transport of a session.
type Mode uint32

const (
	ModePush Mode = iota
	ModePull
)

func (m Mode) String() string {
	switch m {
	case ModePush:
		return "push"
	case ModePull:
		return "pull"
	}
	return fmt.Sprintf("Mode(%d)", uint32(m))
}
