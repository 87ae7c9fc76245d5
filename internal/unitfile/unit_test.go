package unitfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnitUpdateReplaceAndAppend(t *testing.T) {
	u := newUnit("demo")
	u.setValue("Service", "Restart", "no")
	v, ok := u.Get("Service", "Restart")
	require.True(t, ok)
	require.Equal(t, "no", v)

	u.setValue("Service", "Restart", "always")
	v, _ = u.Get("Service", "Restart")
	require.Equal(t, "always", v)

	u.appendValue("Unit", "After", "a.service")
	u.appendValue("Unit", "After", "b.service")
	v, _ = u.Get("Unit", "After")
	require.Equal(t, "a.service b.service", v)
}

func TestUnitDeleteKey(t *testing.T) {
	u := newUnit("demo")
	u.setValue("Service", "Type", "simple")
	u.update("Service", "Type", nil, false)
	_, ok := u.Get("Service", "Type")
	require.False(t, ok)
}

func TestUnitGetBool(t *testing.T) {
	u := newUnit("demo")
	u.setValue("Service", "RemainAfterExit", "yes")
	require.True(t, u.GetBool("Service", "RemainAfterExit"))
	u.setValue("Service", "RemainAfterExit", "0")
	require.False(t, u.GetBool("Service", "RemainAfterExit"))
	require.False(t, u.GetBool("Service", "Missing"))
}

func TestUnitSectionIsACopy(t *testing.T) {
	u := newUnit("demo")
	u.setValue("Service", "Type", "simple")
	s := u.Section("Service")
	s["Type"] = "mutated"
	v, _ := u.Get("Service", "Type")
	require.Equal(t, "simple", v)
}
