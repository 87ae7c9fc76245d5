// Package proctable maintains an in-memory mirror of the kernel's process
// tree for the set of processes a supervisor cares about. It is fed events
// from internal/procevent and is a direct translation of the hash-map-plus-
// list process table in the original sysvkit monitor (src/common/procwatch.c):
// Insert/Remove/Drop/Collect/ForEach play the same roles as
// process_insert/process_remove/process_drop/process_collect/process_for_each.
package proctable

import (
	"os"
	"sync"
)

// Process mirrors the kernel's view of one tracked process.
type Process struct {
	Pid      int
	Ppid     int
	Sid      int
	Children []*Process

	// Exited is true once a WIFEXITED/WIFSIGNALED event has been recorded
	// for this pid; WaitStatus holds the raw wait(2) status.
	Exited     bool
	WaitStatus int
}

// Table is the set of processes currently being tracked, keyed by pid.
// pid 1 ("init") and the supervisor's own pid ("self") are sentinel
// entries that Remove refuses to evict, exactly as procwatch.c refuses to
// remove init and self.
type Table struct {
	mu      sync.Mutex
	procs   map[int]*Process
	ready   []*Process // FIFO queue of processes collected but not yet consumed
	initPid int
	selfPid int
}

// New builds an empty table seeded with the init(1) and self sentinels.
func New() *Table {
	t := &Table{
		procs:   make(map[int]*Process),
		initPid: 1,
		selfPid: os.Getpid(),
	}
	t.procs[1] = &Process{Pid: 1, Ppid: 1, Sid: 1}
	if t.selfPid != 1 {
		t.procs[t.selfPid] = &Process{Pid: t.selfPid, Ppid: t.selfPid, Sid: t.selfPid}
	}
	return t
}

// Get returns the tracked process for pid, or nil if it is not tracked.
func (t *Table) Get(pid int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.procs[pid]
}

// Count returns the number of tracked processes, including the sentinels.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.procs)
}

// Insert adds pid as a child of ppid. If ppid is not tracked the new
// process is attached under init, matching procwatch.c's behavior of
// re-parenting orphans to pid 1. A sid of 0 means "unknown": a brand new
// process inherits its parent's session id, matching the kernel's own
// fork() semantics. Re-inserting a pid already being tracked only ever
// applies the two mutations that can legitimately happen to a live
// process: being re-parented onto init, or calling setsid() to become its
// own session leader; any other ppid/sid passed in is ignored rather than
// blindly overwriting the tracked values.
func (t *Table) Insert(pid, ppid, sid int) *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.procs[pid]; ok {
		if ppid == t.initPid {
			p.Ppid = t.initPid
		}
		if sid == pid {
			p.Sid = sid
		}
		return p
	}
	parent, ok := t.procs[ppid]
	if !ok {
		ppid = t.initPid
		parent = t.procs[t.initPid]
	}
	if sid == 0 && parent != nil {
		sid = parent.Sid
	}
	p := &Process{Pid: pid, Ppid: ppid, Sid: sid}
	t.procs[pid] = p
	if parent != nil {
		parent.Children = append(parent.Children, p)
	}
	return p
}

// SetSid records a change of session id for an already-tracked process
// (the PROCWATCH_EVENT_SETSID case in procwatch.c).
func (t *Table) SetSid(pid, sid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.procs[pid]; ok {
		p.Sid = sid
	}
}

// Remove evicts pid from the table, re-parenting its children onto init,
// exactly as process_remove does. init and self are never removed.
func (t *Table) Remove(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remove(pid)
}

func (t *Table) remove(pid int) {
	if pid == t.initPid || pid == t.selfPid {
		return
	}
	p, ok := t.procs[pid]
	if !ok {
		return
	}
	newParent := t.procs[t.initPid]
	for _, c := range p.Children {
		c.Ppid = newParent.Pid
		newParent.Children = append(newParent.Children, c)
	}
	if parent := t.procs[p.Ppid]; parent != nil {
		parent.Children = removeChild(parent.Children, pid)
	}
	delete(t.procs, pid)
	t.removeFromReady(pid)
}

func removeChild(children []*Process, pid int) []*Process {
	out := children[:0]
	for _, c := range children {
		if c.Pid != pid {
			out = append(out, c)
		}
	}
	return out
}

func (t *Table) removeFromReady(pid int) {
	out := t.ready[:0]
	for _, p := range t.ready {
		if p.Pid != pid {
			out = append(out, p)
		}
	}
	t.ready = out
}

// Exit records pid's termination status and enqueues it onto the FIFO
// collected-exit queue for Collect to drain. It does not remove pid from
// the table; the caller decides when to Remove after inspecting the exit
// via Collect (matching procwatch.c keeping the zombie entry around for
// process_collect to return).
func (t *Table) Exit(pid, waitStatus int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return
	}
	p.Exited = true
	p.WaitStatus = waitStatus
	t.ready = append(t.ready, p)
}

// Collect pops and returns the oldest collected-but-unconsumed exit, or nil
// if none are pending. Mirrors process_collect's FIFO semantics.
func (t *Table) Collect() *Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.ready) == 0 {
		return nil
	}
	p := t.ready[0]
	t.ready = t.ready[1:]
	return p
}

// Drop recursively removes pid and its entire subtree without requiring
// each descendant to individually exit first; used when the supervisor
// decides to stop tracking a subtree it no longer cares about (the
// process_drop case for unidentified/abandoned trees).
func (t *Table) Drop(pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.procs[pid]
	if !ok {
		return
	}
	children := append([]*Process(nil), p.Children...)
	for _, c := range children {
		t.drop(c.Pid)
	}
	t.remove(pid)
}

func (t *Table) drop(pid int) {
	p, ok := t.procs[pid]
	if !ok {
		return
	}
	children := append([]*Process(nil), p.Children...)
	for _, c := range children {
		t.drop(c.Pid)
	}
	t.remove(pid)
}

// ForEach calls fn for every tracked process, in unspecified order,
// mirroring process_for_each's full-table walk (used by the kill
// orchestrator to visit every process in the tree).
func (t *Table) ForEach(fn func(*Process)) {
	t.mu.Lock()
	procs := make([]*Process, 0, len(t.procs))
	for _, p := range t.procs {
		procs = append(procs, p)
	}
	t.mu.Unlock()
	for _, p := range procs {
		fn(p)
	}
}

// InitPid and SelfPid expose the sentinel pids so callers (e.g. the kill
// orchestrator) can skip them the way monitor_kill does.
func (t *Table) InitPid() int { return t.initPid }
func (t *Table) SelfPid() int { return t.selfPid }
