// Package ipc implements the mutex and semaphore primitives of spec.md
// §4.5 on top of the scheduler's Block/Unblock, grounded on the teacher's
// lock-with-wait-queue shape (biscuit's sleep locks hand ownership
// directly to the next waiter rather than letting a newly-woken waiter
// race a fresh locker — "no barging").
package ipc

import (
	"sync"

	"kernel/internal/defs"
	"kernel/internal/proc"
)

// Mutex is {holder_pid, wait_queue} per spec.md §4.5. The embedded mutex
// here stands in for the interrupt-masking that makes the real kernel's
// lock/unlock atomic.
type Mutex struct {
	mu      sync.Mutex
	sched   *proc.Sched
	holder  defs.Pid_t
	waiters []defs.Pid_t
}

// NewMutex returns an unlocked mutex backed by sched.
func NewMutex(sched *proc.Sched) *Mutex {
	return &Mutex{sched: sched}
}

// Lock acquires the mutex for pid, blocking it with reason Mutex if
// already held.
func (m *Mutex) Lock(pid defs.Pid_t) defs.Err_t {
	m.mu.Lock()
	if m.holder == 0 {
		m.holder = pid
		m.mu.Unlock()
		return 0
	}
	m.waiters = append(m.waiters, pid)
	m.mu.Unlock()
	return m.sched.Block(pid, proc.ReasonMutex)
}

// Unlock releases the mutex held by pid. If a waiter is queued,
// ownership transfers directly to it — the waiter is unblocked already
// owning the lock, so a concurrent Lock call can never barge ahead of
// it.
func (m *Mutex) Unlock(pid defs.Pid_t) defs.Err_t {
	m.mu.Lock()
	if m.holder != pid {
		m.mu.Unlock()
		return defs.EBadArgument
	}
	if len(m.waiters) == 0 {
		m.holder = 0
		m.mu.Unlock()
		return 0
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	m.holder = next
	m.mu.Unlock()
	return m.sched.Unblock(next)
}

// Holder returns the pid currently holding the mutex, or 0 if free.
func (m *Mutex) Holder() defs.Pid_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holder
}

// Waiting returns the number of processes queued on the mutex.
func (m *Mutex) Waiting() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}
