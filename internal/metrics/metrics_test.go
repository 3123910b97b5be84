package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveClampsRatio(t *testing.T) {
	Observe(100, 100, 0, 1.5)
	require.InDelta(t, 1.0, testutil.ToFloat64(ProgressRatio), 0.0001)

	Observe(0, 100, 100, -0.5)
	require.InDelta(t, 0.0, testutil.ToFloat64(ProgressRatio), 0.0001)
}

func TestObserveSetsGauges(t *testing.T) {
	Observe(42, 100, 58, 0.42)
	require.InDelta(t, 42, testutil.ToFloat64(CurrentBlock), 0.0001)
	require.InDelta(t, 100, testutil.ToFloat64(ChainHeight), 0.0001)
	require.InDelta(t, 58, testutil.ToFloat64(BlocksBehind), 0.0001)
}
