/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import "sync"

// eventQueue runs posted funcs one at a time, in post order, on a single
// goroutine. Posting never blocks, so transport callbacks fired from
// inside an event cannot deadlock the queue.
type eventQueue struct {
	mu      sync.Mutex
	pending []func()
	notify  chan struct{}
	done    chan struct{}
	stopped bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *eventQueue) post(fn func()) {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *eventQueue) run() {
	for {
		select {
		case <-q.done:
			return
		case <-q.notify:
		}

		for {
			q.mu.Lock()
			if len(q.pending) == 0 || q.stopped {
				q.mu.Unlock()
				break
			}
			fn := q.pending[0]
			q.pending[0] = nil
			q.pending = q.pending[1:]
			q.mu.Unlock()

			fn()
		}
	}
}

// flush waits until every func posted before it has run.
func (q *eventQueue) flush() {
	ran := make(chan struct{})
	q.post(func() { close(ran) })

	select {
	case <-ran:
	case <-q.done:
	}
}

// stop discards queued events. Safe to call more than once.
func (q *eventQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return
	}
	q.stopped = true
	q.pending = nil
	close(q.done)
}
