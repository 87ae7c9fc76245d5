package unitfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleScript = `#!/bin/sh
### BEGIN INIT INFO
# Provides:          demo
# Required-Start:    $remote_fs
### END INIT INFO

:<<SYSVKIT
[Service]
Type=simple
ExecStart=/usr/bin/demod
SYSVKIT

case "$1" in
    start) echo start ;;
esac
`

func TestLoadScriptExtractsEmbeddedUnit(t *testing.T) {
	u, err := LoadScript(strings.NewReader(sampleScript), "demo")
	require.NoError(t, err)
	v, ok := u.Get("Service", "ExecStart")
	require.True(t, ok)
	require.Equal(t, "/usr/bin/demod", v)
}

func TestLoadScriptRejectsNameMismatch(t *testing.T) {
	_, err := LoadScript(strings.NewReader(sampleScript), "other")
	require.Error(t, err)
}

func TestLoadScriptMissingMarkers(t *testing.T) {
	_, err := LoadScript(strings.NewReader("#!/bin/sh\necho hi\n"), "demo")
	require.Error(t, err)
}
