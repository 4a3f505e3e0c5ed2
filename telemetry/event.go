package telemetry

import "fmt"

// EventKind tags transport event stream.
// Lifecycle and data share one ordered stream so consumer sees
// Opened before first sample and Closed after last one.
type EventKind uint8

const (
	EventInvalid EventKind = iota
	EventOpened
	EventSample
	EventErrored
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventSample:
		return "sample"
	case EventErrored:
		return "errored"
	case EventClosed:
		return "closed"
	}
	return "invalid"
}

type Event struct {
	Kind   EventKind
	Sample Sample // Kind=EventSample
	Err    error  // Kind=EventErrored
}

func EventOpen() Event           { return Event{Kind: EventOpened} }
func EventData(s Sample) Event   { return Event{Kind: EventSample, Sample: s} }
func EventError(err error) Event { return Event{Kind: EventErrored, Err: err} }
func EventClose() Event          { return Event{Kind: EventClosed} }

func (e Event) String() string {
	switch e.Kind {
	case EventSample:
		return fmt.Sprintf("Event(sample %s)", e.Sample.String())
	case EventErrored:
		return fmt.Sprintf("Event(errored err=%v)", e.Err)
	}
	return fmt.Sprintf("Event(%s)", e.Kind.String())
}
