package monitor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStartLimiterDisabledWhenBurstNotMeaningful(t *testing.T) {
	l := newStartLimiter(10*time.Second, 1)
	for i := 0; i < 1000; i++ {
		require.True(t, l.record(time.Now()))
	}
}

func TestStartLimiterTripsWithinInterval(t *testing.T) {
	l := newStartLimiter(time.Minute, 3)
	now := time.Now()
	require.True(t, l.record(now))
	require.True(t, l.record(now))
	require.True(t, l.record(now))
	// the 4th start within the same instant reuses the slot that held the
	// first start, which is well within the interval
	require.False(t, l.record(now))
}

func TestStartLimiterRecoversAfterInterval(t *testing.T) {
	l := newStartLimiter(10*time.Millisecond, 2)
	now := time.Now()
	require.True(t, l.record(now))
	require.True(t, l.record(now))
	require.False(t, l.record(now))
	later := now.Add(20 * time.Millisecond)
	require.True(t, l.record(later))
}

func TestStartLimiterCapsBurstAt100(t *testing.T) {
	l := newStartLimiter(time.Second, 1000)
	require.Len(t, l.times, 100)
}
