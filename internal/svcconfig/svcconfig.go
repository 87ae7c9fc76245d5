// Package svcconfig holds the in-memory representation of a service's
// unit-file configuration: the handful of keys the supervisor itself acts
// on (startup type, kill mode, restart policy, timeouts, start-rate
// limits). It does not know how to read a unit file; internal/unitfile
// fills one of these in.
package svcconfig

import (
	"fmt"
	"time"
)

// Type mirrors systemd's Type= / the original servicetype enum. All seven
// values are kept; the supervisor's state machine branches only on simple,
// exec, forking and oneshot.
type Type int

const (
	Simple Type = iota
	Exec
	Forking
	Oneshot
	Dbus
	Notify
	Idle
)

func (t Type) String() string {
	switch t {
	case Simple:
		return "simple"
	case Exec:
		return "exec"
	case Forking:
		return "forking"
	case Oneshot:
		return "oneshot"
	case Dbus:
		return "dbus"
	case Notify:
		return "notify"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// KillMode mirrors systemd's KillMode= / the original killmode enum.
type KillMode int

const (
	KillControlGroup KillMode = iota
	KillMixed
	KillProcess
	KillNone
)

func (k KillMode) String() string {
	switch k {
	case KillControlGroup:
		return "control-group"
	case KillMixed:
		return "mixed"
	case KillProcess:
		return "process"
	case KillNone:
		return "none"
	default:
		return fmt.Sprintf("killmode(%d)", int(k))
	}
}

// RestartPolicy mirrors systemd's Restart= / the original restartpolicy enum.
// ON_WATCHDOG is intentionally absent: watchdog policies are out of scope.
type RestartPolicy int

const (
	RestartNo RestartPolicy = iota
	RestartAlways
	RestartOnSuccess
	RestartOnFailure
	RestartOnAbnormal
	RestartOnAbort
)

func (r RestartPolicy) String() string {
	switch r {
	case RestartNo:
		return "no"
	case RestartAlways:
		return "always"
	case RestartOnSuccess:
		return "on-success"
	case RestartOnFailure:
		return "on-failure"
	case RestartOnAbnormal:
		return "on-abnormal"
	case RestartOnAbort:
		return "on-abort"
	default:
		return fmt.Sprintf("restartpolicy(%d)", int(r))
	}
}

// Config is the subset of a service's unit-file settings the supervisor
// needs in order to run it. Exec/Args/User/Group/WorkingDir feed
// internal/command; the rest drive the monitor state machine directly.
type Config struct {
	Name string

	Exec       string
	Args       []string
	WorkingDir string
	User       string
	Group      string
	PIDFile    string
	Env        []string

	Type            Type
	KillMode        KillMode
	RestartPolicy   RestartPolicy
	RemainAfterExit bool

	StopTimeout time.Duration
	StartDelay  time.Duration

	// StartLimitInterval/StartLimitBurst bound the start-rate limiter: if
	// the service is (re)started more than StartLimitBurst times within
	// StartLimitInterval, the monitor stops trying and transitions to
	// Failed.
	StartLimitInterval time.Duration
	StartLimitBurst    int
}

// MaxStartLimitBurst caps the size of the start-timestamp ring buffer,
// matching the documented burst ceiling.
const MaxStartLimitBurst = 100

// Default returns a Config with systemd-equivalent defaults applied.
func Default(name string) Config {
	return Config{
		Name:               name,
		Type:               Simple,
		KillMode:           KillControlGroup,
		RestartPolicy:      RestartNo,
		StopTimeout:        90 * time.Second,
		StartLimitInterval: 10 * time.Second,
		StartLimitBurst:    5,
	}
}

// ShouldRestart applies the restart-policy matrix to a terminated run's
// classification. ucexit is true when the process exited with a nonzero
// status; ucsig is true when it was killed by a signal the policy treats
// as abnormal termination (anything other than SIGHUP, SIGINT, SIGTERM, or
// SIGPIPE, which are considered clean shutdown signals). At most one of
// ucexit/ucsig's underlying condition applies per run, mirroring the
// ucexit/ucsig pair computed in the original monitor's outer loop.
func (c Config) ShouldRestart(ucexit, ucsig bool) bool {
	switch c.RestartPolicy {
	case RestartAlways:
		return true
	case RestartOnSuccess:
		return !ucexit && !ucsig
	case RestartOnFailure:
		return ucexit || ucsig
	case RestartOnAbnormal:
		return ucsig
	case RestartOnAbort:
		return ucsig
	case RestartNo:
		fallthrough
	default:
		return false
	}
}
