package monitor

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
	syslog "github.com/WithSecureOpenSource/sysvkit/log"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	lg := syslog.NewLoggerWithKV(syslog.NewDiscardLogger())
	return New(svcconfig.Default("demo"), 0, 0, "sysvkit-test", lg)
}

func TestHandleControlStatusIsUnprivileged(t *testing.T) {
	s := newTestSupervisor(t)
	require.Equal(t, "idle", s.handleControl("status", false))
}

func TestHandleControlStopRequiresPrivilege(t *testing.T) {
	s := newTestSupervisor(t)
	require.Equal(t, "denied", s.handleControl("stop", false))
	require.Equal(t, Idle, s.State())

	require.Equal(t, "ok", s.handleControl("stop", true))
	require.Equal(t, Stopping, s.State())
}

func TestHandleControlRestartSetsState(t *testing.T) {
	s := newTestSupervisor(t)
	require.Equal(t, "ok", s.handleControl("restart", true))
	require.Equal(t, Restarting, s.State())
}

func TestHandleControlUnknownCommand(t *testing.T) {
	s := newTestSupervisor(t)
	require.Equal(t, "error", s.handleControl("bogus", true))
}

func TestHandleControlNoiseLevels(t *testing.T) {
	s := newTestSupervisor(t)
	require.Equal(t, "denied", s.handleControl("noise=debug", false))
	require.Equal(t, "ok", s.handleControl("noise=debug", true))
	require.Equal(t, "ok", s.handleControl("noise=verbose", true))
	require.Equal(t, "ok", s.handleControl("noise=normal", true))
}

func TestRequestStopIsIdempotentPastStopping(t *testing.T) {
	s := newTestSupervisor(t)
	s.setState(Stopped)
	s.requestStop()
	require.Equal(t, Stopped, s.State())
}
