// Package procevent is the event source: it speaks the Linux kernel's
// process connector protocol (NETLINK_CONNECTOR, CN_IDX_PROC) and turns
// fork/exec/exit/setsid notifications into Events the process table can
// ingest. It is grounded on src/common/cn_proc.c from the original sysvkit
// monitor and on the Go netlink-connector translation in
// chennqqi-gosigar/psnotify/psnotify_linux.go.
package procevent

import (
	"errors"
	"time"
)

// Kind identifies which proc_event opcode an Event carries.
type Kind int

const (
	// None carries nothing the supervisor acts on: it is returned for the
	// connector's listen/ignore acknowledgement, for uid/gid changes, for
	// thread-level fork/exit events and for unknown opcodes.
	None Kind = iota
	Fork
	Exec
	Exit
	SetSid
)

// Event is the Go-native form of one proc_event record, narrowed to the
// fields the supervisor actually needs.
type Event struct {
	Kind Kind

	Pid  int // tgid of the process the event concerns
	Ppid int // parent tgid, only meaningful for Fork
	Sid  int // not filled in by the decoder; after setsid() the session id equals Pid

	ExitCode   int // for Exit: the kernel's exit_code, already in wait(2) status form
	ExitSignal int
}

// ErrUnsupported is returned by Connect on platforms without a process
// connector (i.e. everything but Linux).
var ErrUnsupported = errors.New("procevent: process connector is only available on linux")

// ErrTimeout is returned by Receive when no event arrived within the
// requested timeout.
var ErrTimeout = errors.New("procevent: receive timed out")

// Source is satisfied by the platform-specific connector implementation.
type Source interface {
	// Fd returns the underlying socket descriptor, for use in a poll(2) set.
	Fd() int
	// Receive blocks for up to timeout (zero means forever) and returns the
	// next decoded event.
	Receive(timeout time.Duration) (Event, error)
	// Disconnect sends the mcast-ignore control message and closes the
	// socket. It is idempotent and tolerates the kernel silently dropping
	// the ignore acknowledgement.
	Disconnect() error
}
