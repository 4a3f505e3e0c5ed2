package telemetry

import (
	"sync"

	"github.com/juju/errors"
)

const DefaultQueueSize = 4096

var ErrQueueClosed = errors.New("ingestion queue closed")

// Sink accepts transport events. Implemented by Queue.
type Sink interface {
	Put(Event) error
}

// Queue is hand-off between one producer (transport receive loop)
// and one consumer (coordinator loop).
// Events are delivered exactly once in Put order.
// Put blocks only while queue is full; Drain never blocks.
type Queue struct {
	ch     chan Event
	stopCh chan struct{}
	once   sync.Once
}

var _ Sink = &Queue{}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{
		ch:     make(chan Event, size),
		stopCh: make(chan struct{}),
	}
}

func (q *Queue) Put(e Event) error {
	select {
	case <-q.stopCh:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- e:
		return nil
	case <-q.stopCh:
		return ErrQueueClosed
	}
}

// Drain appends to buf events available at the moment of call and returns it.
// Events put concurrently with Drain are left for the next call.
func (q *Queue) Drain(buf []Event) []Event {
	n := len(q.ch)
	for i := 0; i < n; i++ {
		select {
		case e := <-q.ch:
			buf = append(buf, e)
		default:
			return buf
		}
	}
	return buf
}

func (q *Queue) Len() int { return len(q.ch) }
func (q *Queue) Cap() int { return cap(q.ch) }

// Close unblocks and rejects producers. Already queued events may still be drained.
func (q *Queue) Close() {
	q.once.Do(func() { close(q.stopCh) })
}
