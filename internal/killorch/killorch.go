// Package killorch is the kill orchestrator: it walks the process table
// and delivers a signal to the right target set for a service's kill mode,
// mirroring monitor.c's struct kill_order / monitor_kill and the
// first-pass/second-pass escalation in monitor_watch.
package killorch

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/WithSecureOpenSource/sysvkit/internal/proctable"
	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
)

// Pass identifies which of the two kill passes is being delivered.
type Pass int

const (
	FirstPass Pass = iota
	SecondPass
)

// Plan describes the signal to deliver and whether it should be delivered
// to every tracked process or just the service's main process, for a given
// kill mode and pass.
type Plan struct {
	Signal unix.Signal
	All    bool
	// Skip is true when this (mode, pass) combination should not signal
	// anything at all (KillMode=none).
	Skip bool
}

// planFor reproduces the kill-mode table documented in monitor.c:
//
//	control-group: pass 1 = SIGTERM all, pass 2 = SIGKILL all
//	mixed:         pass 1 = SIGTERM main, pass 2 = SIGKILL all
//	process:       pass 1 = SIGTERM main, pass 2 = SIGKILL main
//	none:          never signals anything
func planFor(mode svcconfig.KillMode, pass Pass) Plan {
	if mode == svcconfig.KillNone {
		return Plan{Skip: true}
	}
	switch pass {
	case FirstPass:
		return Plan{Signal: unix.SIGTERM, All: mode == svcconfig.KillControlGroup}
	case SecondPass:
		return Plan{Signal: unix.SIGKILL, All: mode == svcconfig.KillControlGroup || mode == svcconfig.KillMixed}
	default:
		return Plan{Skip: true}
	}
}

// Deliver sends the appropriate signal, per planFor, to every process the
// plan targets, followed by SIGCONT to each signaled process (so a stopped
// process still receives and can act on the terminating signal), skipping
// the init and self sentinels exactly as monitor_kill does. mainPID is the
// service's identified main process; it is required when All is false.
func Deliver(tbl *proctable.Table, mainPID int, mode svcconfig.KillMode, pass Pass) error {
	plan := planFor(mode, pass)
	if plan.Skip {
		return nil
	}
	if !plan.All && mainPID <= 0 {
		return fmt.Errorf("killorch: no main process identified to signal")
	}
	tbl.ForEach(func(p *proctable.Process) {
		if p.Pid == tbl.SelfPid() || p.Pid == tbl.InitPid() {
			return
		}
		if !plan.All && p.Pid != mainPID {
			return
		}
		_ = unix.Kill(p.Pid, plan.Signal)
		_ = unix.Kill(p.Pid, unix.SIGCONT)
	})
	return nil
}
