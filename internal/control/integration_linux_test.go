//go:build linux

package control

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestListenAcceptDialRoundTrip exercises the abstract-socket listener and
// client against each other end to end: a real connection, the version
// banner, SO_PEERCRED-based privilege authorization (the test process is
// always its own peer, so it is always privileged), and one command/
// response exchange.
func TestListenAcceptDialRoundTrip(t *testing.T) {
	base := fmt.Sprintf("sysvkit-test-%d", os.Getpid())
	name := "demo"

	handled := make(chan string, 1)
	handler := func(line string, privileged bool) string {
		handled <- line
		if !privileged {
			return "ERR not privileged"
		}
		return "OK " + line
	}

	ln, err := Listen(base, name, uint32(os.Getuid()), handler)
	require.NoError(t, err)
	defer ln.Close()

	done := make(chan error, 1)
	go func() { done <- ln.Accept() }()

	client, err := Dial(base, name)
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Command("status")
	require.NoError(t, err)
	require.Equal(t, "OK status", resp)

	require.Equal(t, "status", <-handled)
	require.NoError(t, <-done)
}

func TestDialFailsWithNoListener(t *testing.T) {
	base := fmt.Sprintf("sysvkit-test-no-listener-%d", os.Getpid())
	_, err := Dial(base, "missing")
	require.Error(t, err)
}
