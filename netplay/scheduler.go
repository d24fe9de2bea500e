/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package netplay

import (
	"sync"
	"time"
)

// Task is a function run every Interval.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func()
}

// Scheduler runs independent fixed-interval tasks until stopped.
type Scheduler struct {
	mu   sync.Mutex
	stop chan struct{}
}

// Start launches one ticker per task. Calling Start while running does
// nothing.
func (s *Scheduler) Start(tasks ...Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	for _, task := range tasks {
		if task.Interval <= 0 || task.Run == nil {
			continue
		}
		go tick(task, s.stop)
	}
}

func tick(task Task, stop <-chan struct{}) {
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			task.Run()
		}
	}
}

// Stop cancels every task. Safe to call from any state, any number of times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stop != nil
}
