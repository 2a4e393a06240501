package proc

import (
	"testing"

	"kernel/internal/defs"
)

func TestSchedulerFairnessRoundRobin(t *testing.T) {
	s := New(nil)
	a, _ := s.Create("a", 0, 1)
	b, _ := s.Create("b", 0, 1)
	c, _ := s.Create("c", 0, 1)

	var order []defs.Pid_t
	for i := 0; i < 6; i++ {
		pid := s.Dispatch()
		if pid == 0 {
			t.Fatalf("unexpected idle dispatch at iteration %d", i)
		}
		order = append(order, pid)
		if err := s.Yield(pid); err != 0 {
			t.Fatalf("Yield: %v", err)
		}
	}

	want := []defs.Pid_t{a, b, c, a, b, c}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("dispatch order = %v, want %v", order, want)
		}
	}
}

func TestSchedulerPriorityPreemptsLower(t *testing.T) {
	s := New(nil)
	low1, _ := s.Create("low1", 0, 0)
	low2, _ := s.Create("low2", 0, 0)
	high, _ := s.Create("high", 0, 3)

	pid := s.Dispatch()
	if pid != high {
		t.Fatalf("Dispatch = %v, want high-priority pid %v", pid, high)
	}
	if err := s.Exit(high, 0); err != 0 {
		t.Fatalf("Exit: %v", err)
	}

	pid = s.Dispatch()
	if pid != low1 {
		t.Fatalf("Dispatch after high exits = %v, want %v", pid, low1)
	}
	s.Yield(low1)
	pid = s.Dispatch()
	if pid != low2 {
		t.Fatalf("Dispatch = %v, want %v", pid, low2)
	}
}

func TestSleepWakesAtDeadlineNotBefore(t *testing.T) {
	s := New(nil)
	pid, _ := s.Create("sleeper", 0, 1)
	s.Dispatch()
	if err := s.Sleep(pid, 100); err != 0 {
		t.Fatalf("Sleep: %v", err)
	}

	s.Tick(50)
	p, _ := s.Lookup(pid)
	if p.State != Blocked {
		t.Fatalf("state after 50ms = %v, want Blocked", p.State)
	}

	s.Tick(50)
	p, _ = s.Lookup(pid)
	if p.State != Ready {
		t.Fatalf("state after 100ms = %v, want Ready", p.State)
	}
}

func TestTickPreemptsAfterTimeSlice(t *testing.T) {
	s := New(nil)
	pid, _ := s.Create("worker", 0, 1)
	s.Dispatch()

	s.Tick(TimeSliceMs - 1)
	p, _ := s.Lookup(pid)
	if p.State != Running {
		t.Fatalf("state before slice exhausted = %v, want Running", p.State)
	}

	s.Tick(1)
	p, _ = s.Lookup(pid)
	if p.State != Ready {
		t.Fatalf("state after slice exhausted = %v, want Ready", p.State)
	}
}

func TestExitOrphansChildrenToInit(t *testing.T) {
	s := New(nil)
	initPid, _ := s.Create("init", 0, 0)
	if initPid != InitPid {
		t.Fatalf("first created pid = %v, want InitPid %v", initPid, InitPid)
	}
	s.Dispatch()
	s.Exit(initPid, 0)

	parent, _ := s.Create("parent", 0, 1)
	s.Dispatch()
	child, _ := s.Create("child", parent, 1)

	s.Exit(parent, 7)

	c, ok := s.Lookup(child)
	if !ok {
		t.Fatal("child missing from process table")
	}
	if c.ParentPid != InitPid {
		t.Fatalf("child ParentPid = %v, want InitPid", c.ParentPid)
	}
}

func TestWaitReapsTerminatedChild(t *testing.T) {
	s := New(nil)
	parent, _ := s.Create("parent", 0, 1)
	s.Dispatch()
	child, _ := s.Create("child", parent, 1)

	if _, _, err := s.Wait(parent); err != defs.EWouldBlock {
		t.Fatalf("Wait before child exits: %v", err)
	}

	s.Dispatch()
	s.Exit(child, 42)

	gotPid, status, err := s.Wait(parent)
	if err != 0 {
		t.Fatalf("Wait: %v", err)
	}
	if gotPid != child || status != 42 {
		t.Fatalf("Wait = (%v,%v), want (%v,42)", gotPid, status, child)
	}
}
