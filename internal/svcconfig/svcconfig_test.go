package svcconfig

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShouldRestartMatrix(t *testing.T) {
	cases := []struct {
		policy        RestartPolicy
		ucexit, ucsig bool
		want          bool
	}{
		{RestartNo, true, true, false},
		{RestartAlways, false, false, true},
		{RestartAlways, true, true, true},
		{RestartOnSuccess, false, false, true},
		{RestartOnSuccess, true, false, false},
		{RestartOnFailure, true, false, true},
		{RestartOnFailure, false, false, false},
		{RestartOnAbnormal, false, true, true},
		{RestartOnAbnormal, true, false, false},
		{RestartOnAbort, false, true, true},
		{RestartOnAbort, true, false, false},
	}
	for _, c := range cases {
		cfg := Config{RestartPolicy: c.policy}
		got := cfg.ShouldRestart(c.ucexit, c.ucsig)
		require.Equal(t, c.want, got, "policy=%s ucexit=%v ucsig=%v", c.policy, c.ucexit, c.ucsig)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := Default("web")
	require.Equal(t, "web", cfg.Name)
	require.Equal(t, Simple, cfg.Type)
	require.Equal(t, KillControlGroup, cfg.KillMode)
	require.Equal(t, RestartNo, cfg.RestartPolicy)
}

func TestKillModeStrings(t *testing.T) {
	require.Equal(t, "control-group", KillControlGroup.String())
	require.Equal(t, "mixed", KillMixed.String())
	require.Equal(t, "process", KillProcess.String())
	require.Equal(t, "none", KillNone.String())
}
