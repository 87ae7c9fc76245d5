// Package monitor implements the supervisor state machine: the outer
// start/restart/stop loop and the inner watch loop that tracks a running
// service's process tree and reacts to its termination, control commands,
// and the start-rate limiter. It is a direct translation of
// src/sysvrun/monitor.c's monitor_func/monitor_watch/monitor_wait: a single
// poll(2) loop multiplexes the process-event-source fd, the child's
// stdout/stderr pipes, and the control socket's listener fd, exactly as the
// C implementation polls its four descriptors. There is one goroutine and
// no locking; state lives in the Supervisor struct and is only ever touched
// from inside Run.
package monitor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/WithSecureOpenSource/sysvkit/internal/command"
	"github.com/WithSecureOpenSource/sysvkit/internal/control"
	"github.com/WithSecureOpenSource/sysvkit/internal/killorch"
	"github.com/WithSecureOpenSource/sysvkit/internal/procevent"
	"github.com/WithSecureOpenSource/sysvkit/internal/proctable"
	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
	"github.com/WithSecureOpenSource/sysvkit/log"
)

// killInterval matches MONITOR_KILL_INTERVAL (3s). The watch loop does not
// use it: maybeEscalateKill spaces its kill passes by the service's
// StopTimeout.
const killInterval = 3 * time.Second

// pollInterval bounds how long a single poll(2) wait blocks before the loop
// re-checks the kill-escalation timer and the run context, matching the
// watch loop's wakeup cadence in monitor_watch.
const pollInterval = 200 * time.Millisecond

// Supervisor drives one service instance's state machine.
type Supervisor struct {
	cfg      svcconfig.Config
	uid, gid uint32
	selfBase string
	lg       *log.KVLogger

	tbl     *proctable.Table
	limiter *startLimiter
	ctl     *control.Listener
	ctlFd   int
	ev      *procevent.Connector

	state State

	child int // direct forked child pid
	pid   int // identified main process pid (== child unless Type=forking)

	lastWaitStatus syscall.WaitStatus
	haveWaitStatus bool

	cmd    *exec.Cmd
	stdout *outputPipe
	stderr *outputPipe
}

// New builds a Supervisor for cfg. selfBase is the basename used to build
// the abstract control-socket address (SocketName), matching self_base in
// sysvrun.c.
func New(cfg svcconfig.Config, uid, gid uint32, selfBase string, lg *log.KVLogger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		uid:      uid,
		gid:      gid,
		selfBase: selfBase,
		lg:       lg,
		tbl:      proctable.New(),
		limiter:  newStartLimiter(cfg.StartLimitInterval, cfg.StartLimitBurst),
		ctlFd:    -1,
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return s.state
}

func (s *Supervisor) setState(ns State) {
	old := s.state
	s.state = ns
	if old != ns {
		s.lg.Info("state transition", log.KV("service", s.cfg.Name), log.KV("from", old.String()), log.KV("to", ns.String()))
	}
}

// requestStop and requestRestart are called from the control channel
// handler; they mirror the "stop"/"restart" command branches in
// monitor_control_socket_ingest.
func (s *Supervisor) requestStop() {
	if s.state < Stopping {
		s.setState(Stopping)
	}
}

func (s *Supervisor) requestRestart() {
	s.setState(Restarting)
}

// handleControl implements the control.Handler for this supervisor's
// commands, mirroring the strcmp ladder in monitor_control_socket_ingest.
func (s *Supervisor) handleControl(line string, privileged bool) string {
	switch line {
	case "status":
		return s.State().String()
	case "stop":
		if !privileged {
			return "denied"
		}
		s.requestStop()
		return "ok"
	case "restart":
		if !privileged {
			return "denied"
		}
		s.requestRestart()
		return "ok"
	case "noise=debug":
		if !privileged {
			return "denied"
		}
		s.lg.SetLevel(log.DEBUG)
		return "ok"
	case "noise=verbose":
		if !privileged {
			return "denied"
		}
		s.lg.SetLevel(log.INFO)
		return "ok"
	case "noise=normal":
		if !privileged {
			return "denied"
		}
		s.lg.SetLevel(log.WARN)
		return "ok"
	default:
		return "error"
	}
}

// Run is the outer loop (monitor_func): it opens the control socket and
// event source, then drives state transitions until a terminal state
// (Stopped/Failed/Dead) is reached. Everything below Run executes on this
// one goroutine; the only I/O multiplexing is the poll(2) loop in pumpOnce.
func (s *Supervisor) Run(ctx context.Context) error {
	ctl, err := control.Listen(s.selfBase, s.cfg.Name, s.uid, s.handleControl)
	if err != nil {
		return fmt.Errorf("monitor: open control socket: %w", err)
	}
	s.ctl = ctl
	defer ctl.Close()
	if fd, ferr := ctl.Fd(); ferr == nil {
		s.ctlFd = fd
	}

	ev, err := procevent.Connect()
	if err != nil {
		return fmt.Errorf("monitor: start process event monitor: %w", err)
	}
	s.ev = ev
	defer ev.Disconnect()

	s.setState(Starting)
	for s.state < Stopped {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		switch s.state {
		case Restarting:
			if err := s.runRestarting(ctx); err != nil {
				return err
			}
		case Starting:
			if err := s.start(); err != nil {
				s.lg.Error("failed to start service", log.KV("service", s.cfg.Name), log.KVErr(err))
				s.setState(Dead)
				continue
			}
			if s.state != Running {
				// the start limiter refused the start
				continue
			}
			fallthrough
		case Running:
			s.runWatch(ctx)
		case Stopping:
			s.setState(Stopped)
		case Remaining:
			s.runWait(ctx, time.Time{})
		default:
			s.lg.Error("invalid monitor state", log.KV("state", int(s.state)))
			s.setState(Dead)
		}
	}
	return nil
}

// outputPipe forwards a child's stdout or stderr into the log sink, one
// complete line at a time. Reads only ever happen once poll(2) has reported
// the underlying fd readable, so they never block the single-threaded loop.
type outputPipe struct {
	file *os.File
	buf  []byte
}

func newOutputPipe(r io.ReadCloser) *outputPipe {
	f, ok := r.(*os.File)
	if !ok {
		return nil
	}
	return &outputPipe{file: f}
}

func (p *outputPipe) fd() int { return int(p.file.Fd()) }

// pump reads whatever is currently available and forwards complete lines to
// emit. It returns false once the write end has been closed (EOF), at which
// point the caller should stop polling this fd.
func (p *outputPipe) pump(emit func(string)) bool {
	chunk := make([]byte, 4096)
	n, err := p.file.Read(chunk)
	if n > 0 {
		p.buf = append(p.buf, chunk[:n]...)
		for {
			i := bytes.IndexByte(p.buf, '\n')
			if i < 0 {
				break
			}
			emit(strings.TrimRight(string(p.buf[:i]), "\r"))
			p.buf = p.buf[i+1:]
		}
	}
	if err != nil {
		if len(p.buf) > 0 {
			emit(string(p.buf))
			p.buf = nil
		}
		p.file.Close()
		return false
	}
	return true
}

// drain pumps while poll(2) reports data ready (up to EOF), used when the
// child has already exited and whatever it wrote is now buffered in the
// pipe. A descendant still holding the write end open does not block it.
func (p *outputPipe) drain(emit func(string)) {
	for {
		pfd := []unix.PollFd{{Fd: int32(p.fd()), Events: unix.POLLIN}}
		if n, err := unix.Poll(pfd, 0); err != nil || n == 0 {
			return
		}
		if !p.pump(emit) {
			return
		}
	}
}

func (s *Supervisor) emit(stream string) func(string) {
	return func(line string) {
		s.lg.Info(line, log.KV("service", s.cfg.Name), log.KV("stream", stream))
	}
}

// start forks the configured command, mirroring the MS_STARTING case of
// monitor_func: fork, report readiness immediately for Type=simple/exec,
// and record the main pid for anything other than Type=forking.
func (s *Supervisor) start() error {
	now := time.Now()
	if !s.limiter.record(now) {
		s.lg.Error("start limit exceeded", log.KV("service", s.cfg.Name))
		s.setState(Failed)
		return nil
	}
	cmd, err := command.Build(s.cfg, s.uid, s.gid)
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("monitor: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("monitor: stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("monitor: failed to start service: %w", err)
	}
	s.cmd = cmd
	s.stdout = newOutputPipe(stdout)
	s.stderr = newOutputPipe(stderr)
	s.child = cmd.Process.Pid
	s.haveWaitStatus = false
	if s.cfg.Type != svcconfig.Forking {
		s.pid = s.child
	} else if s.cfg.PIDFile == "" {
		s.lg.Warn("forking service without PID file", log.KV("service", s.cfg.Name))
	}
	s.tbl.Insert(s.child, s.tbl.SelfPid(), s.child)

	s.setState(Running)
	if s.cfg.Type == svcconfig.Simple || s.cfg.Type == svcconfig.Exec {
		// The fork above has already either exec'd or terminated by the
		// time Start returns, so it is safe to report readiness now.
		reportReady()
	}
	return nil
}

// reapChild drains whatever remains in the direct child's stdout/stderr
// pipes and calls Wait to reap it, mirroring the waitpid() call in
// monitor_watch now that the process event stream has told us it exited.
func (s *Supervisor) reapChild() {
	if s.cmd == nil {
		return
	}
	if s.stdout != nil {
		s.stdout.drain(s.emit("stdout"))
		s.stdout = nil
	}
	if s.stderr != nil {
		s.stderr.drain(s.emit("stderr"))
		s.stderr = nil
	}
	_ = s.cmd.Wait()
	s.cmd = nil
}

// buildPollFds assembles the poll(2) set for the current loop iteration:
// the process-event source, the control listener, and whichever of the
// child's output pipes are still open.
func (s *Supervisor) buildPollFds() []unix.PollFd {
	pfds := make([]unix.PollFd, 0, 4)
	if s.ev != nil {
		pfds = append(pfds, unix.PollFd{Fd: int32(s.ev.Fd()), Events: unix.POLLIN})
	}
	if s.ctlFd >= 0 {
		pfds = append(pfds, unix.PollFd{Fd: int32(s.ctlFd), Events: unix.POLLIN})
	}
	if s.stdout != nil {
		pfds = append(pfds, unix.PollFd{Fd: int32(s.stdout.fd()), Events: unix.POLLIN})
	}
	if s.stderr != nil {
		pfds = append(pfds, unix.PollFd{Fd: int32(s.stderr.fd()), Events: unix.POLLIN})
	}
	return pfds
}

// pumpOnce blocks for up to timeoutMs in a single poll(2) call and services
// whatever descriptors came back readable, exactly as one iteration of
// monitor_watch's poll loop does.
func (s *Supervisor) pumpOnce(timeoutMs int) {
	pfds := s.buildPollFds()
	if len(pfds) == 0 {
		time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		return
	}
	n, err := unix.Poll(pfds, timeoutMs)
	if err != nil {
		if err != unix.EINTR {
			s.lg.Warn("poll error", log.KV("service", s.cfg.Name), log.KVErr(err))
		}
		return
	}
	if n == 0 {
		return
	}
	for _, pfd := range pfds {
		if pfd.Revents == 0 {
			continue
		}
		s.handleReadyFd(int(pfd.Fd))
	}
}

func (s *Supervisor) handleReadyFd(fd int) {
	switch {
	case s.ev != nil && fd == s.ev.Fd():
		s.drainProcEvents()
	case s.ctlFd >= 0 && fd == s.ctlFd:
		if err := s.ctl.Accept(); err != nil {
			s.lg.Warn("control accept error", log.KV("service", s.cfg.Name), log.KVErr(err))
		}
	case s.stdout != nil && fd == s.stdout.fd():
		if !s.stdout.pump(s.emit("stdout")) {
			s.stdout = nil
		}
	case s.stderr != nil && fd == s.stderr.fd():
		if !s.stderr.pump(s.emit("stderr")) {
			s.stderr = nil
		}
	}
}

// drainProcEvents reads every process event currently pending on the
// connector, feeding fork/setsid/exit notifications into the process table.
// It stops as soon as the connector reports no more are queued.
func (s *Supervisor) drainProcEvents() {
	for {
		e, err := s.ev.Receive(time.Millisecond)
		if err == procevent.ErrTimeout {
			return
		}
		if err != nil {
			s.lg.Warn("process event connector error", log.KV("service", s.cfg.Name), log.KVErr(err))
			return
		}
		switch e.Kind {
		case procevent.Fork:
			// Only descendants of a tracked process belong to the service;
			// anything forked by init or by an untracked process is ignored.
			if e.Ppid == s.tbl.InitPid() || s.tbl.Get(e.Ppid) == nil {
				continue
			}
			// sid=0 tells the table to inherit the parent's session id; a
			// later SetSid event corrects it if the child calls setsid().
			s.tbl.Insert(e.Pid, e.Ppid, 0)
		case procevent.SetSid:
			s.tbl.SetSid(e.Pid, e.Pid)
		case procevent.Exit:
			s.tbl.Exit(e.Pid, e.ExitCode)
		}
	}
}

// runWatch is the inner loop (monitor_watch): wait for the main process to
// terminate, or escalate kill signals if we are stopping/restarting.
func (s *Supervisor) runWatch(ctx context.Context) {
	var ko killOrder
	for {
		if ctx.Err() != nil {
			return
		}
		s.pumpOnce(int(pollInterval / time.Millisecond))
		if s.drainCollectedWatch() {
			return
		}
		if s.maybeEscalateKill(&ko) {
			return
		}
	}
}

type killOrder struct {
	pass killorch.Pass
	sent time.Time
}

// maybeEscalateKill drives the two-pass kill escalation while stopping or
// restarting, exactly mirroring the `stopping` counter logic in
// monitor_watch: first pass SIGTERM (scoped per kill mode), second pass
// SIGKILL, give up after that.
func (s *Supervisor) maybeEscalateKill(ko *killOrder) (done bool) {
	st := s.state
	if !isStopping(st) {
		return false
	}
	if !ko.sent.IsZero() && time.Since(ko.sent) < s.cfg.StopTimeout {
		return false
	}
	mainPid := s.pid
	if mainPid <= 0 {
		if !ko.sent.IsZero() {
			s.tbl.Drop(s.child)
			return true
		}
		ko.sent = time.Now()
		return false
	}
	if s.cfg.KillMode == svcconfig.KillNone {
		s.tbl.Drop(mainPid)
		return true
	}
	if ko.sent.IsZero() {
		ko.pass = killorch.FirstPass
	} else {
		switch ko.pass {
		case killorch.FirstPass:
			ko.pass = killorch.SecondPass
		default:
			s.lg.Error("processes still running, giving up", log.KV("service", s.cfg.Name), log.KV("count", s.tbl.Count()))
			return true
		}
	}
	_ = killorch.Deliver(s.tbl, mainPid, s.cfg.KillMode, ko.pass)
	ko.sent = time.Now()
	return false
}

// drainCollectedWatch consumes every exit the process table has queued via
// Collect, feeding each one through handleExit. It returns true as soon as
// handleExit says the watch loop should stop.
func (s *Supervisor) drainCollectedWatch() bool {
	for {
		p := s.tbl.Collect()
		if p == nil {
			return false
		}
		if s.handleExit(p.Pid, p.WaitStatus) {
			return true
		}
	}
}

// drainCollectedIdle consumes queued exits while the loop isn't watching a
// run (restarting/remaining), just so the process table doesn't pile up
// zombie entries.
func (s *Supervisor) drainCollectedIdle() {
	for {
		p := s.tbl.Collect()
		if p == nil {
			return
		}
		s.tbl.Remove(p.Pid)
	}
}

// handleExit processes one collected process exit; it returns true when
// the watch loop should stop, i.e. the service's main process has
// terminated (or, for Type=oneshot, has successfully run to completion).
func (s *Supervisor) handleExit(pid, waitStatus int) bool {
	ws := syscall.WaitStatus(waitStatus)
	isChild := pid == s.child
	isMain := pid == s.pid

	if isChild {
		s.reapChild()
		s.child = 0
	}
	if isMain {
		s.lastWaitStatus = ws
		s.haveWaitStatus = true
		if s.cfg.PIDFile != "" {
			_ = (command.PIDFile{Path: s.cfg.PIDFile}).Remove()
		}
	}

	if isChild && s.cfg.Type == svcconfig.Forking {
		// The forked control process has exited; the real daemon is
		// whatever pid it left behind in the pid file, matching
		// command_getpid's role in identifying the main process.
		if s.cfg.PIDFile != "" {
			if mpid, err := (command.PIDFile{Path: s.cfg.PIDFile}).ReadPID(); err != nil {
				s.lg.Warn("forking service exited without a readable pid file", log.KV("service", s.cfg.Name), log.KVErr(err))
			} else if s.tbl.Get(mpid) == nil {
				s.lg.Warn("pid file names a process outside the service", log.KV("service", s.cfg.Name), log.KV("pid", mpid))
			} else {
				s.pid = mpid
			}
		}
		s.setState(Running)
		reportReady()
	}

	st := s.state
	mainPid := s.pid
	s.tbl.Remove(pid)

	if s.cfg.Type == svcconfig.Oneshot && s.haveWaitStatus &&
		s.lastWaitStatus.Exited() && s.lastWaitStatus.ExitStatus() == 0 {
		s.setState(Running)
		reportReady()
		return true
	}
	if s.haveWaitStatus {
		if !isStopping(st) || s.cfg.KillMode == svcconfig.KillProcess {
			return s.finishRun(mainPid)
		}
	}
	return false
}

// finishRun classifies the terminated run and drives the next transition,
// mirroring the WIFEXITED/WIFSIGNALED classification and restart-policy
// decision at the end of the MS_RUNNING case in monitor_func.
func (s *Supervisor) finishRun(mainPid int) bool {
	ws := s.lastWaitStatus

	var ucexit, ucsig bool
	if ws.Exited() {
		ucexit = ws.ExitStatus() != 0
	} else if ws.Signaled() {
		sig := ws.Signal()
		ucsig = sig != syscall.SIGHUP && sig != syscall.SIGINT &&
			sig != syscall.SIGTERM && sig != syscall.SIGPIPE
	}

	if s.state != Running {
		return true
	}
	if s.cfg.RemainAfterExit && !ucexit && !ucsig {
		s.setState(Remaining)
		return true
	}
	if s.cfg.ShouldRestart(ucexit, ucsig) {
		s.setState(Restarting)
		return true
	}
	if ucexit || ucsig {
		s.setState(Failed)
	} else {
		s.setState(Stopped)
	}
	return true
}

// runRestarting implements the MS_RESTARTING case: compute the delay,
// enforce the start limiter, then wait it out while still serving control
// requests.
func (s *Supervisor) runRestarting(ctx context.Context) error {
	next := time.Now().Add(s.cfg.StartDelay)
	s.runWait(ctx, next)
	if s.state == Restarting {
		s.setState(Starting)
	}
	return nil
}

// runWait implements monitor_wait: keep servicing the control socket and
// draining process-table exits until either the deadline passes (a zero
// deadline means wait forever) or the state changes out from under us.
func (s *Supervisor) runWait(ctx context.Context, deadline time.Time) {
	startState := s.state
	for s.state == startState {
		if ctx.Err() != nil {
			return
		}
		timeout := pollInterval
		if !deadline.IsZero() {
			rem := time.Until(deadline)
			if rem <= 0 {
				return
			}
			if rem < timeout {
				timeout = rem
			}
		}
		s.pumpOnce(int(timeout / time.Millisecond))
		s.drainCollectedIdle()
	}
}
