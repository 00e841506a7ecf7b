package services

import (
	"sync"
	"time"
)

// TimerHandle identifies a scheduled callback. The zero handle is never issued.
type TimerHandle uint64

// Scheduler runs callbacks after a delay. Cancel must be idempotent and accept
// handles that already fired.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) TimerHandle
	Cancel(h TimerHandle)
}

// timeScheduler implements Scheduler on time.AfterFunc.
type timeScheduler struct {
	mu     sync.Mutex
	next   TimerHandle
	timers map[TimerHandle]*time.Timer
}

// NewScheduler creates a Scheduler backed by runtime timers.
func NewScheduler() Scheduler {
	return &timeScheduler{timers: make(map[TimerHandle]*time.Timer)}
}

func (s *timeScheduler) Schedule(delay time.Duration, fn func()) TimerHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.timers[h] = time.AfterFunc(delay, func() {
		s.mu.Lock()
		_, live := s.timers[h]
		delete(s.timers, h)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return h
}

func (s *timeScheduler) Cancel(h TimerHandle) {
	if h == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[h]; ok {
		t.Stop()
		delete(s.timers, h)
	}
}

// Pending returns the number of armed timers.
func (s *timeScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
