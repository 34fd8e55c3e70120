package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	started, stopped := 0, 0

	lc := New("test",
		WithStart(func() { started++ }),
		WithStop(func() { stopped++ }),
	)
	require.Equal(t, StateNotStarted, lc.State())

	lc.Stop()
	require.Equal(t, 0, stopped)

	lc.Start()
	lc.Start()
	require.Equal(t, StateStarted, lc.State())
	require.Equal(t, 1, started)

	lc.Stop()
	lc.Stop()
	require.Equal(t, StateStopped, lc.State())
	require.Equal(t, 1, stopped)

	lc.Start()
	require.Equal(t, 1, started)
}
