package control

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSocketNameIsAbstract(t *testing.T) {
	name := SocketName("sysvrun", "web")
	require.Equal(t, "\x00sysvrun/web.service", name)
}

func TestParseBannerVersion(t *testing.T) {
	v := parseBannerVersion(`{"version": "1"}` + "\r\n")
	require.Equal(t, 1, v)
}

func TestParseBannerVersionMalformed(t *testing.T) {
	require.Equal(t, 0, parseBannerVersion("garbage"))
}
