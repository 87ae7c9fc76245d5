//go:build linux

package procevent

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	cnIdxProc = 0x1
	cnValProc = 0x1

	procCnMcastListen = 1
	procCnMcastIgnore = 2

	procEventNone = 0x00000000
	procEventFork = 0x00000001
	procEventExec = 0x00000002
	procEventUID  = 0x00000004
	procEventGID  = 0x00000040
	procEventSID  = 0x00000080
	procEventExit = 0x80000000
)

// cbID is linux/connector.h's struct cb_id.
type cbID struct {
	Idx uint32
	Val uint32
}

// cnMsg is linux/connector.h's struct cn_msg (the ack fields folded into Len
// the way the kernel reuses the header for both control and ack messages).
type cnMsg struct {
	ID    cbID
	Seq   uint32
	Ack   uint32
	Len   uint16
	Flags uint16
}

// procEventHeader is linux/cn_proc.h's struct proc_event's fixed prefix.
type procEventHeader struct {
	What      uint32
	CPU       uint32
	Timestamp uint64
}

type ackEvent struct {
	Err uint32
}

type forkEvent struct {
	ParentPid, ParentTgid uint32
	ChildPid, ChildTgid   uint32
}

type execEvent struct {
	ProcessPid, ProcessTgid uint32
}

type idEvent struct {
	ProcessPid, ProcessTgid uint32
	RID, EID                uint32
}

type sidEvent struct {
	ProcessPid, ProcessTgid uint32
}

type exitEvent struct {
	ProcessPid, ProcessTgid uint32
	ExitCode, ExitSignal    uint32
}

// Connector is the Linux NETLINK_CONNECTOR process event source.
type Connector struct {
	fd        int
	seq       uint32
	listening bool
}

var byteOrder = binary.NativeEndian

// Connect opens and binds the netlink socket and enables the process event
// stream. It is grounded directly on cn_proc.c's cn_proc_connect plus the
// initial cn_proc_listen(true, ...) call the monitor always makes after
// connecting.
func Connect() (*Connector, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_CONNECTOR)
	if err != nil {
		return nil, fmt.Errorf("procevent: open netlink socket: %w", err)
	}
	sa := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: cnIdxProc,
		Pid:    uint32(os.Getpid()),
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("procevent: bind netlink socket: %w", err)
	}
	c := &Connector{fd: fd}
	if err := c.listen(true, 1000*time.Millisecond); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return c, nil
}

func (c *Connector) Fd() int { return c.fd }

// Disconnect sends the mcast-ignore control message and closes the socket.
// Mirrors cn_proc_disconnect: a failed/timed-out ignore is tolerated, since
// at most one successful disable may ever be sent per successful enable
// (see the asymmetric ack-loss policy documented in cn_proc.c).
func (c *Connector) Disconnect() error {
	if c.fd < 0 {
		return nil
	}
	if c.listening {
		_ = c.listen(false, 1000*time.Millisecond)
	}
	err := unix.Close(c.fd)
	c.fd = -1
	return err
}

func (c *Connector) send(op uint32) error {
	c.seq++
	var body bytes.Buffer
	msg := cnMsg{
		ID:  cbID{Idx: cnIdxProc, Val: cnValProc},
		Seq: c.seq,
		Len: uint16(4),
	}
	binary.Write(&body, byteOrder, msg)
	binary.Write(&body, byteOrder, op)

	hdr := unix.NlMsghdr{
		Len:  unix.NLMSG_HDRLEN + uint32(body.Len()),
		Type: unix.NLMSG_DONE,
		Seq:  c.seq,
		Pid:  uint32(os.Getpid()),
	}
	var out bytes.Buffer
	binary.Write(&out, byteOrder, hdr)
	out.Write(body.Bytes())

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: cnIdxProc}
	return unix.Sendto(c.fd, out.Bytes(), 0, sa)
}

// listen implements cn_proc_listen's enable/disable handshake, including the
// "at most one successful disable per successful enable" tolerance: a
// disable that times out waiting for an ack is treated as having probably
// succeeded (the kernel only acks a disable when the listener refcount
// reaches zero), while an enable that times out is treated as failed.
func (c *Connector) listen(enable bool, timeout time.Duration) error {
	if enable == c.listening {
		return nil
	}
	op := uint32(procCnMcastIgnore)
	if enable {
		op = procCnMcastListen
	}
	if err := c.send(op); err != nil {
		return fmt.Errorf("procevent: send listen control message: %w", err)
	}
	for {
		ev, err := c.Receive(timeout)
		if err == ErrTimeout {
			if !enable {
				c.listening = false
				return nil
			}
			return fmt.Errorf("procevent: timed out waiting for enable ack")
		}
		if err != nil {
			return err
		}
		if ev.Kind == None {
			c.listening = enable
			return nil
		}
		// any other event arriving before the ack is simply a regular
		// process event; drop it and keep waiting for the ack, matching
		// cn_proc_listen's loop.
	}
}

// Receive blocks for up to timeout and decodes the next process event.
func (c *Connector) Receive(timeout time.Duration) (Event, error) {
	ms := -1
	if timeout > 0 {
		ms = int(timeout / time.Millisecond)
	}
	pfd := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(pfd, ms)
	if err != nil {
		return Event{}, fmt.Errorf("procevent: poll: %w", err)
	}
	if n == 0 {
		return Event{}, ErrTimeout
	}

	buf := make([]byte, os.Getpagesize())
	nr, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		return Event{}, fmt.Errorf("procevent: recvfrom: %w", err)
	}
	if nr < unix.NLMSG_HDRLEN {
		return Event{}, fmt.Errorf("procevent: short netlink message")
	}

	r := bytes.NewReader(buf[:nr])
	var hdr unix.NlMsghdr
	if err := binary.Read(r, byteOrder, &hdr); err != nil {
		return Event{}, fmt.Errorf("procevent: decode netlink header: %w", err)
	}
	if int(hdr.Len) != nr {
		return Event{}, fmt.Errorf("procevent: incomplete netlink header")
	}
	var msg cnMsg
	if err := binary.Read(r, byteOrder, &msg); err != nil {
		return Event{}, fmt.Errorf("procevent: decode connector header: %w", err)
	}
	if msg.ID.Idx != cnIdxProc || msg.ID.Val != cnValProc {
		return Event{}, fmt.Errorf("procevent: invalid connector id %d:%d", msg.ID.Idx, msg.ID.Val)
	}

	var eh procEventHeader
	if err := binary.Read(r, byteOrder, &eh); err != nil {
		return Event{}, fmt.Errorf("procevent: decode proc_event header: %w", err)
	}

	switch eh.What {
	case procEventNone:
		var ack ackEvent
		binary.Read(r, byteOrder, &ack)
		if ack.Err != 0 {
			return Event{}, fmt.Errorf("procevent: connector nacked, errno %d", ack.Err)
		}
		return Event{Kind: None}, nil
	case procEventFork:
		var ev forkEvent
		binary.Read(r, byteOrder, &ev)
		if ev.ChildPid != ev.ChildTgid {
			// a new thread, not a new process
			return Event{Kind: None}, nil
		}
		return Event{Kind: Fork, Pid: int(ev.ChildTgid), Ppid: int(ev.ParentTgid)}, nil
	case procEventExec:
		var ev execEvent
		binary.Read(r, byteOrder, &ev)
		return Event{Kind: Exec, Pid: int(ev.ProcessTgid)}, nil
	case procEventSID:
		var ev sidEvent
		binary.Read(r, byteOrder, &ev)
		return Event{Kind: SetSid, Pid: int(ev.ProcessTgid)}, nil
	case procEventUID, procEventGID:
		var ev idEvent
		binary.Read(r, byteOrder, &ev)
		return Event{Kind: None, Pid: int(ev.ProcessTgid)}, nil
	case procEventExit:
		var ev exitEvent
		binary.Read(r, byteOrder, &ev)
		if ev.ProcessPid != ev.ProcessTgid {
			// a non-leader thread exited; the process lives on
			return Event{Kind: None}, nil
		}
		return Event{
			Kind:       Exit,
			Pid:        int(ev.ProcessTgid),
			ExitCode:   int(ev.ExitCode),
			ExitSignal: int(ev.ExitSignal),
		}, nil
	default:
		return Event{Kind: None}, nil
	}
}
