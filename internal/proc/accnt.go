package proc

import (
	"sync"
	"sync/atomic"
)

// Accnt accumulates per-process accounting information, grounded on the
// teacher's Accnt_t: separate user/system nanosecond counters updated
// atomically, snapshotted under a mutex when reported.
type Accnt struct {
	// Userns is nanoseconds of user time consumed.
	Userns int64
	// Sysns is nanoseconds of system time consumed.
	Sysns int64
	mu    sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Add merges another accounting record into this one, used to fold a
// reaped child's usage into its parent.
func (a *Accnt) Add(n *Accnt) {
	a.mu.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.mu.Unlock()
}

// Snapshot returns a consistent (user, sys) pair in nanoseconds.
func (a *Accnt) Snapshot() (userns, sysns int64) {
	a.mu.Lock()
	userns, sysns = a.Userns, a.Sysns
	a.mu.Unlock()
	return
}
