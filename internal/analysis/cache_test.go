package analysis

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompareWithCacheReportsChangeOnFirstRun(t *testing.T) {
	changed, summary := CompareWithCache(map[string]JunctionMetrics{"J1": {Volume: 100}}, nil, 5)
	require.True(t, changed)
	require.Contains(t, summary, "first analysis")
}

func TestCompareWithCacheDetectsDriftBeyondThreshold(t *testing.T) {
	prior := map[string]JunctionMetrics{"J1": {Volume: 100, AvgDelay: 10, ConflictEvents: 2}}
	current := map[string]JunctionMetrics{"J1": {Volume: 110, AvgDelay: 10, ConflictEvents: 2}} // 10% volume increase

	changed, summary := CompareWithCache(current, prior, 5)
	require.True(t, changed)
	require.Contains(t, summary, "J1.volume")
}

func TestCompareWithCacheIgnoresDriftWithinThreshold(t *testing.T) {
	prior := map[string]JunctionMetrics{"J1": {Volume: 100, AvgDelay: 10, ConflictEvents: 2}}
	current := map[string]JunctionMetrics{"J1": {Volume: 101, AvgDelay: 10, ConflictEvents: 2}} // 1% change

	changed, summary := CompareWithCache(current, prior, 5)
	require.False(t, changed)
	require.Equal(t, "no significant change since last analysis", summary)
}

func TestCompareWithCacheFlagsNewJunction(t *testing.T) {
	prior := map[string]JunctionMetrics{"J1": {Volume: 100}}
	current := map[string]JunctionMetrics{"J1": {Volume: 100}, "J2": {Volume: 50}}

	changed, summary := CompareWithCache(current, prior, 5)
	require.True(t, changed)
	require.Contains(t, summary, "J2 is new")
}
