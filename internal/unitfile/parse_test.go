package unitfile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasicUnit(t *testing.T) {
	src := `# a comment
[Unit]
Description=a test service

[Service]
Type=simple
ExecStart=/usr/bin/true --flag
Restart=always
`
	u, err := Parse(strings.NewReader(src), "demo")
	require.NoError(t, err)
	v, ok := u.Get("Service", "Type")
	require.True(t, ok)
	require.Equal(t, "simple", v)
	v, ok = u.Get("Unit", "Description")
	require.True(t, ok)
	require.Equal(t, "a test service", v)
}

func TestParseBackslashContinuation(t *testing.T) {
	src := "[Service]\n" +
		"ExecStart=/usr/bin/long-command \\\n" +
		"    --flag value\n"
	u, err := Parse(strings.NewReader(src), "demo")
	require.NoError(t, err)
	v, ok := u.Get("Service", "ExecStart")
	require.True(t, ok)
	require.Equal(t, "/usr/bin/long-command      --flag value", v)
}

func TestParseAppendSemantics(t *testing.T) {
	src := "[Unit]\n" +
		"After=foo.service\n" +
		"After=bar.service\n"
	u, err := Parse(strings.NewReader(src), "demo")
	require.NoError(t, err)
	v, ok := u.Get("Unit", "After")
	require.True(t, ok)
	require.Equal(t, "foo.service bar.service", v)
}

func TestParseKeyBeforeSectionIsError(t *testing.T) {
	_, err := Parse(strings.NewReader("Type=simple\n"), "demo")
	require.Error(t, err)
}

func TestParseMalformedSectionHeader(t *testing.T) {
	_, err := Parse(strings.NewReader("[Unit\nFoo=bar\n"), "demo")
	require.Error(t, err)
}

func TestParseCommentStyles(t *testing.T) {
	src := "; semicolon comment\n# hash comment\n[Service]\nType=oneshot\n"
	u, err := Parse(strings.NewReader(src), "demo")
	require.NoError(t, err)
	v, _ := u.Get("Service", "Type")
	require.Equal(t, "oneshot", v)
}
