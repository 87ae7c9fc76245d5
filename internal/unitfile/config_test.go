package unitfile

import (
	"strings"
	"testing"
	"time"

	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
	"github.com/stretchr/testify/require"
)

func TestToConfigAppliesDefaults(t *testing.T) {
	u, err := Parse(strings.NewReader("[Service]\nExecStart=/usr/bin/true\n"), "demo")
	require.NoError(t, err)
	cfg, err := u.ToConfig()
	require.NoError(t, err)
	require.Equal(t, svcconfig.Simple, cfg.Type)
	require.Equal(t, svcconfig.KillControlGroup, cfg.KillMode)
	require.Equal(t, 90*time.Second, cfg.StopTimeout)
	require.Equal(t, 5, cfg.StartLimitBurst)
	require.Equal(t, "/usr/bin/true", cfg.Exec)
}

func TestToConfigParsesFullService(t *testing.T) {
	src := `[Service]
Type=forking
KillMode=process
Restart=on-failure
RestartSec=2s
TimeoutStopSec=5s
PIDFile=/run/demo.pid
User=nobody
Group=nogroup
WorkingDirectory=/var/lib/demo
Environment=FOO=bar BAZ=qux
StartLimitInterval=1m
StartLimitBurst=200
ExecStart=/usr/bin/demod --flag "quoted value"
`
	u, err := Parse(strings.NewReader(src), "demo")
	require.NoError(t, err)
	cfg, err := u.ToConfig()
	require.NoError(t, err)
	require.Equal(t, svcconfig.Forking, cfg.Type)
	require.Equal(t, svcconfig.KillProcess, cfg.KillMode)
	require.Equal(t, svcconfig.RestartOnFailure, cfg.RestartPolicy)
	require.Equal(t, 2*time.Second, cfg.StartDelay)
	require.Equal(t, 5*time.Second, cfg.StopTimeout)
	require.Equal(t, "/run/demo.pid", cfg.PIDFile)
	require.Equal(t, "nobody", cfg.User)
	require.Equal(t, "nogroup", cfg.Group)
	require.Equal(t, "/var/lib/demo", cfg.WorkingDir)
	require.Equal(t, []string{"FOO=bar", "BAZ=qux"}, cfg.Env)
	require.Equal(t, time.Minute, cfg.StartLimitInterval)
	// burst is capped at the documented maximum
	require.Equal(t, svcconfig.MaxStartLimitBurst, cfg.StartLimitBurst)
	require.Equal(t, "/usr/bin/demod", cfg.Exec)
	require.Equal(t, []string{"--flag", "quoted value"}, cfg.Args)
}

func TestToConfigRejectsUnknownType(t *testing.T) {
	u, err := Parse(strings.NewReader("[Service]\nType=bogus\nExecStart=/bin/true\n"), "demo")
	require.NoError(t, err)
	_, err = u.ToConfig()
	require.Error(t, err)
}

func TestToConfigRequiresExecStart(t *testing.T) {
	u, err := Parse(strings.NewReader("[Service]\nType=simple\n"), "demo")
	require.NoError(t, err)
	_, err = u.ToConfig()
	require.Error(t, err)
}

func TestSplitQuoted(t *testing.T) {
	require.Equal(t, []string{"a", "b c", "d"}, splitQuoted(`a "b c" d`))
	require.Equal(t, []string{"FOO=bar"}, splitQuoted("FOO=bar"))
	require.Equal(t, []string(nil), splitQuoted(""))
}

func TestParseTimespan(t *testing.T) {
	cases := map[string]time.Duration{
		"5s":    5 * time.Second,
		"250ms": 250 * time.Millisecond,
		"2m":    2 * time.Minute,
		"1h":    time.Hour,
		"10":    10 * time.Second,
	}
	for in, want := range cases {
		got, err := parseTimespan(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}
