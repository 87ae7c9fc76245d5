// Package command builds the os/exec.Cmd used to run a service's
// configured Exec line, including the PIDFILE environment export and the
// process-credential/session attributes the original monitor's
// command_exec_func sets up. It is grounded on
// src/sysvrun/command.c/command.h and, for the Go SysProcAttr idiom, on
// gravwell-gravwell's manager/process.go.
package command

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
)

// Build constructs the *exec.Cmd for a service, following
// command_exec_func: working directory, the configured environment plus
// PIDFILE, and
// Setsid plus an optional Credential, matching command.c's use of setsid()
// ahead of execve() and manager/process.go's SysProcAttr construction.
func Build(cfg svcconfig.Config, uid, gid uint32) (*exec.Cmd, error) {
	if cfg.Exec == "" {
		return nil, fmt.Errorf("command: service %q has no Exec configured", cfg.Name)
	}
	attr := &syscall.SysProcAttr{Setsid: true}
	if uid > 0 || gid > 0 {
		attr.Credential = &syscall.Credential{Uid: uid, Gid: gid}
	}
	env := append([]string(nil), cfg.Env...)
	if cfg.PIDFile != "" {
		env = append(env, "PIDFILE="+cfg.PIDFile)
	}
	cmd := &exec.Cmd{
		Path:        cfg.Exec,
		Args:        append([]string{cfg.Exec}, cfg.Args...),
		Dir:         cfg.WorkingDir,
		Env:         env,
		SysProcAttr: attr,
	}
	return cmd, nil
}

// PIDFile wraps pidfile read/write/remove with an advisory flock guarding
// the file against a racing reader (e.g. `sysvrun status`), grounded on
// command_getpid/command_rmpid.
type PIDFile struct {
	Path string
}

// ReadPID parses the decimal pid out of the file, mirroring
// command_getpid's strtol-and-validate logic: the entire first word must
// be a non-negative integer.
func (p PIDFile) ReadPID() (int, error) {
	if p.Path == "" {
		return 0, fmt.Errorf("command: no pidfile configured")
	}
	fl := flock.New(p.Path + ".lock")
	if locked, err := fl.TryRLock(); err == nil && locked {
		defer fl.Unlock()
	}
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return 0, fmt.Errorf("command: read pidfile %s: %w", p.Path, err)
	}
	word := strings.Fields(string(data))
	if len(word) == 0 {
		return 0, fmt.Errorf("command: pidfile %s is empty", p.Path)
	}
	n, err := strconv.Atoi(word[0])
	if err != nil || n < 0 {
		return 0, fmt.Errorf("command: pidfile %s contents invalid", p.Path)
	}
	return n, nil
}

// Remove unlinks the pidfile, tolerating it already being gone.
func (p PIDFile) Remove() error {
	if p.Path == "" {
		return fmt.Errorf("command: no pidfile configured")
	}
	fl := flock.New(p.Path + ".lock")
	if locked, err := fl.TryLock(); err == nil && locked {
		defer fl.Unlock()
	}
	if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("command: remove pidfile %s: %w", p.Path, err)
	}
	return nil
}
