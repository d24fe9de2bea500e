package netplay

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedulerRunsTasksIndependently(t *testing.T) {
	var fast, slow atomic.Int32

	var s Scheduler
	s.Start(
		Task{Name: "fast", Interval: 5 * time.Millisecond, Run: func() { fast.Add(1) }},
		Task{Name: "slow", Interval: time.Hour, Run: func() { slow.Add(1) }},
		Task{Name: "disabled", Interval: 0, Run: func() { t.Error("zero interval task ran") }},
	)
	defer s.Stop()

	assert.True(t, s.Running())
	assert.Eventually(t, func() bool { return fast.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Zero(t, slow.Load())
}

func TestSchedulerStartTwiceKeepsOneSet(t *testing.T) {
	var runs atomic.Int32

	var s Scheduler
	task := Task{Name: "probe", Interval: 10 * time.Millisecond, Run: func() { runs.Add(1) }}
	s.Start(task)
	s.Start(task, task)

	time.Sleep(55 * time.Millisecond)
	s.Stop()

	assert.LessOrEqual(t, runs.Load(), int32(6))
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	var runs atomic.Int32

	var s Scheduler
	s.Stop()
	assert.False(t, s.Running())

	s.Start(Task{Interval: time.Millisecond, Run: func() { runs.Add(1) }})
	s.Stop()
	s.Stop()
	assert.False(t, s.Running())

	time.Sleep(10 * time.Millisecond)
	after := runs.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestSchedulerRestart(t *testing.T) {
	var runs atomic.Int32

	var s Scheduler
	task := Task{Interval: 2 * time.Millisecond, Run: func() { runs.Add(1) }}

	s.Start(task)
	s.Stop()
	s.Start(task)
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() > 0 }, time.Second, time.Millisecond)
}

func TestEventQueueOrder(t *testing.T) {
	q := newEventQueue()
	defer q.stop()

	var got []int
	for i := 0; i < 100; i++ {
		q.post(func() { got = append(got, i) })
	}
	q.flush()

	assert.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestEventQueuePostFromEvent(t *testing.T) {
	q := newEventQueue()
	defer q.stop()

	var got []string
	q.post(func() {
		got = append(got, "outer")
		q.post(func() { got = append(got, "inner") })
		got = append(got, "outer-done")
	})
	q.flush()
	q.flush()

	assert.Equal(t, []string{"outer", "outer-done", "inner"}, got)
}

func TestEventQueueStop(t *testing.T) {
	q := newEventQueue()

	q.stop()
	q.stop()

	ran := false
	q.post(func() { ran = true })
	q.flush()

	assert.False(t, ran)
}
