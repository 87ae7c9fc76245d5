package unitfile

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
)

var serviceTypes = map[string]svcconfig.Type{
	"simple":  svcconfig.Simple,
	"exec":    svcconfig.Exec,
	"forking": svcconfig.Forking,
	"oneshot": svcconfig.Oneshot,
	"dbus":    svcconfig.Dbus,
	"notify":  svcconfig.Notify,
	"idle":    svcconfig.Idle,
}

var killModes = map[string]svcconfig.KillMode{
	"control-group": svcconfig.KillControlGroup,
	"mixed":         svcconfig.KillMixed,
	"process":       svcconfig.KillProcess,
	"none":          svcconfig.KillNone,
}

var restartPolicies = map[string]svcconfig.RestartPolicy{
	"no":          svcconfig.RestartNo,
	"always":      svcconfig.RestartAlways,
	"on-success":  svcconfig.RestartOnSuccess,
	"on-failure":  svcconfig.RestartOnFailure,
	"on-abnormal": svcconfig.RestartOnAbnormal,
	"on-abort":    svcconfig.RestartOnAbort,
}

const (
	defaultStopTimeout        = 90 * time.Second
	defaultRestartDelay       = 100 * time.Millisecond
	defaultStartLimitInterval = 10 * time.Second
	defaultStartLimitBurst    = 5
)

// ToConfig extracts the [Service] settings the supervisor acts on from a
// parsed unit and applies the same defaults the unit reader falls back on
// when a key is absent.
func (u *Unit) ToConfig() (svcconfig.Config, error) {
	cfg := svcconfig.Default(u.Name)

	if v, ok := u.Get("Service", "Type"); ok {
		t, ok := serviceTypes[v]
		if !ok {
			return cfg, fmt.Errorf("unitfile: invalid or unsupported Type %q", v)
		}
		cfg.Type = t
	}

	if v, ok := u.Get("Service", "KillMode"); ok {
		k, ok := killModes[v]
		if !ok {
			return cfg, fmt.Errorf("unitfile: invalid or unsupported KillMode %q", v)
		}
		cfg.KillMode = k
	}

	cfg.StopTimeout = defaultStopTimeout
	if v, ok := u.Get("Service", "TimeoutStopSec"); ok {
		d, err := parseTimespan(v)
		if err != nil {
			return cfg, fmt.Errorf("unitfile: invalid TimeoutStopSec %q: %w", v, err)
		}
		cfg.StopTimeout = d
	}

	if v, ok := u.Get("Service", "Restart"); ok {
		rp, ok := restartPolicies[v]
		if !ok {
			return cfg, fmt.Errorf("unitfile: invalid or unsupported Restart %q", v)
		}
		cfg.RestartPolicy = rp
	}

	cfg.StartDelay = defaultRestartDelay
	if cfg.RestartPolicy != svcconfig.RestartNo {
		if v, ok := u.Get("Service", "RestartSec"); ok {
			d, err := parseTimespan(v)
			if err != nil {
				return cfg, fmt.Errorf("unitfile: invalid RestartSec %q: %w", v, err)
			}
			cfg.StartDelay = d
		}
	}

	cfg.RemainAfterExit = u.GetBool("Service", "RemainAfterExit")

	cfg.StartLimitInterval = defaultStartLimitInterval
	if v, ok := u.Get("Service", "StartLimitInterval"); ok {
		d, err := parseTimespan(v)
		if err != nil {
			return cfg, fmt.Errorf("unitfile: invalid StartLimitInterval %q: %w", v, err)
		}
		cfg.StartLimitInterval = d
	}

	cfg.StartLimitBurst = defaultStartLimitBurst
	if v, ok := u.Get("Service", "StartLimitBurst"); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return cfg, fmt.Errorf("unitfile: invalid StartLimitBurst %q: %w", v, err)
		}
		cfg.StartLimitBurst = int(n)
	}
	if cfg.StartLimitBurst > svcconfig.MaxStartLimitBurst {
		cfg.StartLimitBurst = svcconfig.MaxStartLimitBurst
	}

	exec, ok := u.Get("Service", "ExecStart")
	if !ok {
		return cfg, fmt.Errorf("unitfile: missing ExecStart in [Service]")
	}
	args := splitQuoted(exec)
	if len(args) == 0 {
		return cfg, fmt.Errorf("unitfile: ExecStart is empty")
	}
	cfg.Exec = args[0]
	cfg.Args = args[1:]

	if v, ok := u.Get("Service", "WorkingDirectory"); ok {
		cfg.WorkingDir = v
	}
	if v, ok := u.Get("Service", "User"); ok {
		cfg.User = v
	}
	if v, ok := u.Get("Service", "Group"); ok {
		cfg.Group = v
	}
	if v, ok := u.Get("Service", "PIDFile"); ok {
		cfg.PIDFile = v
	}
	if v, ok := u.Get("Service", "Environment"); ok {
		cfg.Env = splitQuoted(v)
	}

	return cfg, nil
}

// splitQuoted splits a systemd-style whitespace-separated command line or
// Environment= list, honoring single and double quoted words so that
// "FOO=bar baz" or 'an arg with spaces' survive as one field.
func splitQuoted(s string) []string {
	var fields []string
	var cur strings.Builder
	inField := false
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case quote != 0:
			if ch == quote {
				quote = 0
			} else {
				cur.WriteByte(ch)
			}
		case ch == '\'' || ch == '"':
			quote = ch
			inField = true
		case ch == ' ' || ch == '\t':
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteByte(ch)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}
	return fields
}

// parseTimespan parses a bare number of seconds, optionally suffixed with
// a single systemd-style unit (us, ms, s, m, h). Compound spans like
// "1h 30m" are not supported; this supervisor only ever emits and consumes
// single-unit values.
func parseTimespan(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timespan")
	}
	unit := time.Second
	switch {
	case strings.HasSuffix(s, "us"):
		unit = time.Microsecond
		s = strings.TrimSuffix(s, "us")
	case strings.HasSuffix(s, "ms"):
		unit = time.Millisecond
		s = strings.TrimSuffix(s, "ms")
	case strings.HasSuffix(s, "s"):
		unit = time.Second
		s = strings.TrimSuffix(s, "s")
	case strings.HasSuffix(s, "m"):
		unit = time.Minute
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		unit = time.Hour
		s = strings.TrimSuffix(s, "h")
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(n * float64(unit)), nil
}
