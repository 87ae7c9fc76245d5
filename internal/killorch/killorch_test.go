package killorch

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/WithSecureOpenSource/sysvkit/internal/svcconfig"
)

func TestPlanForControlGroup(t *testing.T) {
	p1 := planFor(svcconfig.KillControlGroup, FirstPass)
	require.True(t, p1.All)
	p2 := planFor(svcconfig.KillControlGroup, SecondPass)
	require.True(t, p2.All)
}

func TestPlanForMixed(t *testing.T) {
	p1 := planFor(svcconfig.KillMixed, FirstPass)
	require.False(t, p1.All)
	p2 := planFor(svcconfig.KillMixed, SecondPass)
	require.True(t, p2.All)
}

func TestPlanForProcess(t *testing.T) {
	p1 := planFor(svcconfig.KillProcess, FirstPass)
	require.False(t, p1.All)
	p2 := planFor(svcconfig.KillProcess, SecondPass)
	require.False(t, p2.All)
}

func TestPlanForNoneNeverSignals(t *testing.T) {
	require.True(t, planFor(svcconfig.KillNone, FirstPass).Skip)
	require.True(t, planFor(svcconfig.KillNone, SecondPass).Skip)
}
