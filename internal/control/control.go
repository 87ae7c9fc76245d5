// Package control implements the supervisor's control channel: a
// line-oriented protocol over an abstract-namespace Unix stream socket,
// authorizing privileged commands by the connecting peer's uid. It is a
// direct translation of monitor.c's monitor_control_listen /
// monitor_control_socket_ingest (server side) and monitor_control_connect
// (client side).
package control

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// Version is the control protocol version advertised in the session
// banner. Clients refuse to talk to a monitor advertising a newer version
// than they understand, mirroring monitor_control's version check.
const Version = 1

// SessionDuration bounds how long an accepted control connection is served
// before being closed, matching MONITOR_CONTROL_MAX_SESSION_DURATION.
const SessionDuration = 100 * time.Millisecond

// SocketName builds the abstract-namespace address for a service's control
// socket: a leading NUL followed by "<selfBase>/<name>.service", exactly as
// monitor_socket_addr constructs sun_path.
func SocketName(selfBase, name string) string {
	return "\x00" + selfBase + "/" + name + ".service"
}

// Handler answers one line of the control protocol and returns the
// response text (without the trailing CRLF). privileged reflects whether
// the connecting peer's uid was 0 or matched the service's configured uid.
type Handler func(line string, privileged bool) string

// Listener wraps an abstract-namespace Unix listener and serves control
// sessions, authorizing each one by SO_PEERCRED.
type Listener struct {
	ln        *net.UnixListener
	serviceID uint32 // uid the service runs as; peers with this uid (or 0) are privileged
	handle    Handler
}

// Listen creates the control socket for a service and begins listening.
// serviceUID is the uid the monitored service itself runs as (0 if
// unspecified, meaning only root is privileged).
func Listen(selfBase, name string, serviceUID uint32, handle Handler) (*Listener, error) {
	addr := &net.UnixAddr{Name: SocketName(selfBase, name), Net: "unix"}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, fmt.Errorf("control: listen: %w", err)
	}
	return &Listener{ln: ln, serviceID: serviceUID, handle: handle}, nil
}

// Fd exposes the listener's descriptor for inclusion in the monitor's
// poll(2) set (monitor_watch polls pfds[3] for the control socket).
func (l *Listener) Fd() (int, error) {
	raw, err := l.ln.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	err = raw.Control(func(f uintptr) { fd = int(f) })
	return fd, err
}

// Close shuts down the listener.
func (l *Listener) Close() error { return l.ln.Close() }

// Accept services exactly one pending connection, mirroring
// monitor_control_socket_ingest being invoked once per poll() wakeup on the
// control socket's fd.
func (l *Listener) Accept() error {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return fmt.Errorf("control: accept: %w", err)
	}
	defer conn.Close()

	privileged, err := l.authorize(conn)
	if err != nil {
		return err
	}

	sessionID := uuid.New().String()
	deadline := time.Now().Add(SessionDuration)
	conn.SetDeadline(deadline)

	banner := fmt.Sprintf(`{"version": "%d"}`, Version) + "\r\n"
	if _, err := conn.Write([]byte(banner)); err != nil {
		return fmt.Errorf("control(%s): write banner: %w", sessionID, err)
	}

	reader := bufio.NewReader(conn)
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(deadline)
		line, err := reader.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")
		if line == "" && err != nil {
			break
		}
		resp := l.handle(line, privileged)
		if _, werr := conn.Write([]byte(resp + "\r\n")); werr != nil {
			return fmt.Errorf("control(%s): write response: %w", sessionID, werr)
		}
		if err != nil {
			break
		}
	}
	return nil
}

// authorize reads SO_PEERCRED off the just-accepted connection and decides
// whether the peer may issue privileged commands: uid 0, or a uid matching
// the service's own configured uid, exactly as monitor_control_socket_ingest
// decides `privileged`.
func (l *Listener) authorize(conn *net.UnixConn) (privileged bool, err error) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return false, fmt.Errorf("control: syscall conn: %w", err)
	}
	var cred *unix.Ucred
	var cerr error
	err = raw.Control(func(fd uintptr) {
		cred, cerr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if err != nil {
		return false, fmt.Errorf("control: getsockopt: %w", err)
	}
	if cerr != nil {
		return false, fmt.Errorf("control: SO_PEERCRED: %w", cerr)
	}
	return cred.Uid == 0 || cred.Uid == l.serviceID, nil
}

// Client drives the client side of the control protocol: connect, read the
// banner, issue a single command, read the response. Mirrors
// monitor_control_connect / monitor_control in monitor.c.
type Client struct {
	conn    net.Conn
	version int
}

// Dial connects to a running monitor's control socket and reads its version
// banner. Any failure across the whole connect-then-read-banner sequence,
// including the peer resetting the connection before the banner arrives,
// is reported as connection refused, mirroring monitor_client_connect's
// handling of ECONNRESET anywhere in that sequence.
func Dial(selfBase, name string) (*Client, error) {
	addr := &net.UnixAddr{Name: SocketName(selfBase, name), Net: "unix"}
	conn, err := net.DialUnix("unix", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("control: connection refused: %w", err)
	}
	conn.SetDeadline(time.Now().Add(SessionDuration))
	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("control: connection refused: %w", err)
	}
	version := parseBannerVersion(banner)
	if version > Version {
		conn.Close()
		return nil, fmt.Errorf("control: protocol version mismatch: %d > %d", version, Version)
	}
	return &Client{conn: conn, version: version}, nil
}

func parseBannerVersion(banner string) int {
	idx := strings.Index(banner, `"version": "`)
	if idx < 0 {
		return 0
	}
	rest := banner[idx+len(`"version": "`):]
	end := strings.IndexByte(rest, '"')
	if end < 0 {
		return 0
	}
	v, _ := strconv.Atoi(rest[:end])
	return v
}

// Command sends a single command line and returns the response.
func (c *Client) Command(cmd string) (string, error) {
	if _, err := c.conn.Write([]byte(cmd + "\r\n")); err != nil {
		return "", fmt.Errorf("control: write command: %w", err)
	}
	reader := bufio.NewReader(c.conn)
	resp, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("control: read response: %w", err)
	}
	return strings.TrimRight(resp, "\r\n"), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
