package telemetry

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueDrainEmpty(t *testing.T) {
	t.Parallel()
	q := NewQueue(4)
	buf := q.Drain(nil)
	assert.Len(t, buf, 0)
	require.NoError(t, q.Put(EventOpen()))
	require.NoError(t, q.Put(EventData(Sample{Channel: 1, Voltage: 2.1})))
	buf = q.Drain(buf[:0])
	require.Len(t, buf, 2)
	assert.Equal(t, EventOpened, buf[0].Kind)
	assert.Equal(t, 2.1, buf[1].Sample.Voltage)
	assert.Len(t, q.Drain(nil), 0)
}

func TestQueueClose(t *testing.T) {
	t.Parallel()
	q := NewQueue(1)
	require.NoError(t, q.Put(EventOpen()))
	blocked := make(chan error)
	go func() { blocked <- q.Put(EventClose()) }()
	select {
	case err := <-blocked:
		t.Fatalf("Put on full queue returned early err=%v", err)
	case <-time.After(50 * time.Millisecond):
	}
	q.Close()
	select {
	case err := <-blocked:
		assert.Equal(t, ErrQueueClosed, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not unblock producer")
	}
	assert.Equal(t, ErrQueueClosed, q.Put(EventOpen()))
	assert.Len(t, q.Drain(nil), 1, "queued before close still drained")
	q.Close()
}

// Property: concurrent producer and non-blocking consumer,
// no loss, no duplication, FIFO per channel.
func TestQueueStress(t *testing.T) {
	t.Parallel()
	const channels = 4
	const N = 20000
	q := NewQueue(64)
	wg := sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < N; i++ {
			s := Sample{Channel: i % channels, Timestamp: time.Duration(i)}
			if err := q.Put(EventData(s)); err != nil {
				t.Error(err)
				return
			}
		}
		_ = q.Put(EventClose())
	}()

	got := make([]Sample, 0, N)
	buf := make([]Event, 0, 64)
	closed := false
	emptyTakes := 0
	deadline := time.Now().Add(10 * time.Second)
	for !closed && time.Now().Before(deadline) {
		buf = q.Drain(buf[:0])
		if len(buf) == 0 {
			emptyTakes++
			time.Sleep(10 * time.Microsecond)
			continue
		}
		for _, e := range buf {
			switch e.Kind {
			case EventSample:
				got = append(got, e.Sample)
			case EventClosed:
				closed = true
			}
		}
	}
	wg.Wait()
	require.True(t, closed, "consumer did not see close")
	require.Len(t, got, N)
	last := make(map[int]time.Duration)
	seen := make(map[time.Duration]struct{}, N)
	for _, s := range got {
		if prev, ok := last[s.Channel]; ok {
			assert.True(t, s.Timestamp > prev, "channel=%d order broken", s.Channel)
		}
		last[s.Channel] = s.Timestamp
		if _, dup := seen[s.Timestamp]; dup {
			t.Errorf("duplicate sample %s", s)
		}
		seen[s.Timestamp] = struct{}{}
	}
	t.Logf("empty takes=%d", emptyTakes)
}
