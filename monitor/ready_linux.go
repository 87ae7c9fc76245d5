//go:build linux

package monitor

import "golang.org/x/sys/unix"

// readyFd is the file descriptor convention used to report readiness: a
// parent process that wants synchronous notification that the service has
// reached a running state holds this fd open (typically fd 3, inherited
// across exec) and waits for it to be closed.
const readyFd = 3

// reportReady atomically duplicates stderr onto the readiness fd with
// close-on-exec set, mirroring fork.c's dup3(STDERR_FILENO, REPORT_FILENO,
// O_CLOEXEC): the supervisor's own invoker (e.g. an init script) holds fd 3
// open across the fork/exec and blocks on a read of it, treating EOF as
// "service is up". Duping stderr onto it rather than closing it outright
// means a stray write that lands on fd 3 afterward (e.g. from a library
// that assumes low fds are free) ends up in the log stream instead of
// failing with EBADF. When fd 3 was not open at startup (run standalone,
// not under an init script) reportReady does nothing, so a descriptor the
// process later opens as fd 3 is left alone.
func reportReady() {
	if !readyFdInherited {
		return
	}
	_ = unix.Dup3(unix.Stderr, readyFd, unix.O_CLOEXEC)
}

// readyFdInherited records whether fd 3 was already open when this
// package was initialized, i.e. handed down by the invoker.
var readyFdInherited = func() bool {
	_, err := unix.FcntlInt(uintptr(readyFd), unix.F_GETFD, 0)
	return err == nil
}()
