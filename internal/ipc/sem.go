package ipc

import (
	"sync"

	"kernel/internal/defs"
	"kernel/internal/proc"
)

// Sem is {count, wait_queue} per spec.md §4.5. Up never increments count
// while waiters exist — it hands the unit straight to the head waiter,
// so count + len(waiters blocked on Down) always equals the net of all
// Up/Down calls.
type Sem struct {
	mu      sync.Mutex
	sched   *proc.Sched
	count   int
	waiters []defs.Pid_t
}

// NewSem returns a semaphore initialized to count.
func NewSem(sched *proc.Sched, count int) *Sem {
	return &Sem{sched: sched, count: count}
}

// Down decrements the semaphore for pid, blocking it with reason Sem if
// the count would go negative.
func (s *Sem) Down(pid defs.Pid_t) defs.Err_t {
	s.mu.Lock()
	if s.count > 0 {
		s.count--
		s.mu.Unlock()
		return 0
	}
	s.waiters = append(s.waiters, pid)
	s.mu.Unlock()
	return s.sched.Block(pid, proc.ReasonSem)
}

// Up increments the semaphore, or — if a process is already waiting —
// unblocks the head waiter without incrementing.
func (s *Sem) Up() defs.Err_t {
	s.mu.Lock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		s.mu.Unlock()
		return s.sched.Unblock(next)
	}
	s.count++
	s.mu.Unlock()
	return 0
}

// Count returns the current count and number of blocked waiters, for
// verifying spec.md §4.5's conservation invariant.
func (s *Sem) Count() (count, waiting int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count, len(s.waiters)
}
