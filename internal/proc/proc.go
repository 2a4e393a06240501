// Package proc implements the process table and scheduler: priority ready
// queues, a tick-driven preemption clock, and the voluntary
// yield/sleep/block/unblock/exit/wait operations, grounded on spec.md
// §4.4's state machine and the teacher's accounting/limits shape
// (accnt.go, limits.go in this package). Unlike the teacher, which
// switches real goroutine stacks, this is a hosted discrete-event model:
// there is one logical CPU and no concurrently running process code, so
// "running" a process just means the scheduler has marked it current —
// callers drive the state machine forward by calling Tick and Dispatch,
// the same way a test harness steps a simulation.
package proc

import (
	"sync"

	"kernel/internal/defs"
)

// NumPriorities is the number of FIFO ready queues; higher index is
// higher priority, per spec.md §4.4's "scan highest-priority queue
// first" selection rule.
const NumPriorities = 4

// TimeSliceMs is the quantum a Running process is allotted before the
// tick handler preempts it to the tail of its own priority queue.
const TimeSliceMs = 10

// InitPid is the process that inherits orphaned children when their
// parent exits, per spec.md §4.4's cancellation note.
const InitPid defs.Pid_t = 1

// State is a process's position in spec.md §4.4's state machine.
type State int

const (
	Ready State = iota
	Running
	Blocked
	Terminated
)

// BlockReason records why a Blocked process is waiting, so Unblock and
// the tick handler know how to wake it.
type BlockReason int

const (
	NoReason BlockReason = iota
	ReasonSleep
	ReasonMutex
	ReasonSem
	ReasonIO
	ReasonWait
)

// Proc is one process table entry. Processes reference each other only
// by Pid, never by pointer, so the table owns every process's lifetime
// and there is no cyclic ownership to unwind on exit.
type Proc struct {
	Pid       defs.Pid_t
	ParentPid defs.Pid_t
	Name      string

	State       State
	BlockReason BlockReason
	Priority    int

	WakeTime uint64 // valid when BlockReason == ReasonSleep, in scheduler ms
	sliceMs  uint64 // time consumed in the current quantum

	ExitCode int
	Accnt    Accnt
	Children []defs.Pid_t
}

// Sched is the scheduler: the process table plus one FIFO ready queue
// per priority level and the monotonic millisecond clock the tick
// handler advances.
type Sched struct {
	mu      sync.Mutex
	procs   map[defs.Pid_t]*Proc
	ready   [NumPriorities][]defs.Pid_t
	current defs.Pid_t
	nextPid defs.Pid_t
	clockMs uint64
	limits  *SysLimits
}

// New returns an empty scheduler honoring the given system limits.
func New(limits *SysLimits) *Sched {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Sched{procs: make(map[defs.Pid_t]*Proc), nextPid: 1, limits: limits}
}

func (s *Sched) enqueue(p *Proc) {
	p.State = Ready
	p.BlockReason = NoReason
	s.ready[p.Priority] = append(s.ready[p.Priority], p.Pid)
}

// Create installs a new process in state Ready at the tail of its
// priority queue and returns its pid. parent is 0 for the first
// process created (init).
func (s *Sched) Create(name string, parent defs.Pid_t, priority int) (defs.Pid_t, defs.Err_t) {
	if priority < 0 || priority >= NumPriorities {
		return 0, defs.EBadArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.procs) >= s.limits.MaxProcs {
		return 0, defs.EResourcesExhausted
	}
	pid := s.nextPid
	s.nextPid++
	p := &Proc{Pid: pid, ParentPid: parent, Name: name, Priority: priority}
	s.procs[pid] = p
	s.enqueue(p)
	if parent != 0 {
		if pp, ok := s.procs[parent]; ok {
			pp.Children = append(pp.Children, pid)
		}
	}
	return pid, 0
}

// Lookup returns the process table entry for pid, if present.
func (s *Sched) Lookup(pid defs.Pid_t) (*Proc, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Current returns the currently running pid, or 0 if the CPU is idle.
func (s *Sched) Current() defs.Pid_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Dispatch selects the head of the highest-priority nonempty ready
// queue and makes it Running, returning its pid, or 0 if every queue is
// empty (the idle stub). If a process is already Running, Dispatch
// leaves it in place and returns its pid.
func (s *Sched) Dispatch() defs.Pid_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatchLocked()
}

func (s *Sched) dispatchLocked() defs.Pid_t {
	if s.current != 0 {
		return s.current
	}
	for prio := NumPriorities - 1; prio >= 0; prio-- {
		q := s.ready[prio]
		if len(q) == 0 {
			continue
		}
		pid := q[0]
		s.ready[prio] = q[1:]
		p := s.procs[pid]
		p.State = Running
		p.sliceMs = 0
		s.current = pid
		return pid
	}
	return 0
}

// Yield voluntarily gives up the CPU: pid is enqueued at the tail of
// its own priority and the CPU goes idle until the next Dispatch.
func (s *Sched) Yield(pid defs.Pid_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok || p.State != Running {
		return defs.EBadArgument
	}
	s.current = 0
	s.enqueue(p)
	return 0
}

// Sleep blocks pid for ms scheduler-clock milliseconds.
func (s *Sched) Sleep(pid defs.Pid_t, ms uint64) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok || p.State != Running {
		return defs.EBadArgument
	}
	s.current = 0
	p.State = Blocked
	p.BlockReason = ReasonSleep
	p.WakeTime = s.clockMs + ms
	return 0
}

// Block suspends the running process pid for an IPC-defined reason
// (mutex wait, semaphore wait, I/O wait); Unblock is the only way out.
func (s *Sched) Block(pid defs.Pid_t, reason BlockReason) defs.Err_t {
	if reason == NoReason || reason == ReasonSleep {
		return defs.EBadArgument
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok || p.State != Running {
		return defs.EBadArgument
	}
	s.current = 0
	p.State = Blocked
	p.BlockReason = reason
	return 0
}

// Unblock moves a Blocked process back to Ready, at the tail of its own
// priority queue. It is a no-op if pid is not Blocked, so a racing
// wakeup (e.g. a mutex unlock and a sleep timeout landing on the same
// process) cannot double-enqueue it.
func (s *Sched) Unblock(pid defs.Pid_t) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return defs.EBadArgument
	}
	if p.State != Blocked {
		return 0
	}
	s.enqueue(p)
	return 0
}

// Exit terminates pid, recording its exit code, waking a parent blocked
// in Wait, and orphaning any children to InitPid.
func (s *Sched) Exit(pid defs.Pid_t, code int) defs.Err_t {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok || p.State != Running {
		return defs.EBadArgument
	}
	p.State = Terminated
	p.ExitCode = code
	if s.current == pid {
		s.current = 0
	}
	for _, cpid := range p.Children {
		if c, ok := s.procs[cpid]; ok {
			c.ParentPid = InitPid
			if ip, ok := s.procs[InitPid]; ok {
				ip.Children = append(ip.Children, cpid)
			}
		}
	}
	p.Children = nil
	if parent, ok := s.procs[p.ParentPid]; ok && parent.State == Blocked && parent.BlockReason == ReasonWait {
		s.enqueue(parent)
	}
	return 0
}

// Wait reaps one Terminated child of pid, returning its pid and exit
// code and folding its accounting into the parent. If no child has
// terminated yet it blocks pid with reason ReasonWait and returns
// EWouldBlock; the caller must Dispatch again once Unblock fires (from
// a subsequent Exit) and retry Wait.
func (s *Sched) Wait(pid defs.Pid_t) (defs.Pid_t, int, defs.Err_t) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return 0, 0, defs.EBadArgument
	}
	for i, cpid := range p.Children {
		c, ok := s.procs[cpid]
		if !ok || c.State != Terminated {
			continue
		}
		p.Children = append(p.Children[:i], p.Children[i+1:]...)
		p.Accnt.Add(&c.Accnt)
		delete(s.procs, cpid)
		return cpid, c.ExitCode, 0
	}
	if len(p.Children) == 0 {
		return 0, 0, defs.ENotFound
	}
	if p.State == Running {
		s.current = 0
	}
	p.State = Blocked
	p.BlockReason = ReasonWait
	return 0, 0, defs.EWouldBlock
}

// Tick advances the scheduler clock by elapsedMs, wakes any sleepers
// whose deadline has passed, and — per spec.md §4.4's ordering
// guarantee that sleep wakeups are processed before preemption —
// afterwards preempts the running process if it has exhausted its time
// slice.
func (s *Sched) Tick(elapsedMs uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clockMs += elapsedMs

	for _, p := range s.procs {
		if p.State == Blocked && p.BlockReason == ReasonSleep && s.clockMs >= p.WakeTime {
			s.enqueue(p)
		}
	}

	if s.current == 0 {
		return
	}
	cur := s.procs[s.current]
	cur.sliceMs += elapsedMs
	if cur.sliceMs >= TimeSliceMs {
		cur.sliceMs = 0
		s.current = 0
		s.enqueue(cur)
	}
}

// ClockMs returns the scheduler's current monotonic millisecond clock.
func (s *Sched) ClockMs() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clockMs
}
