package coordinator

import "fmt"

type State uint32

const (
	StateAttemptingPush State = iota
	StatePushActive
	StatePollingFallback
	StateSessionEnded
)

func (s State) String() string {
	switch s {
	case StateAttemptingPush:
		return "attempting-push"
	case StatePushActive:
		return "push-active"
	case StatePollingFallback:
		return "polling-fallback"
	case StateSessionEnded:
		return "session-ended"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}
