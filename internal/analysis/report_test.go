package analysis

import (
	"testing"
	"time"

	"carina/internal/config"

	"github.com/stretchr/testify/require"
)

func TestRenderReportCountsRecommendationsAndSortsJunctions(t *testing.T) {
	results := map[string]JunctionResult{
		"J2": {Recommendation: RecommendAdd, CurrentStatus: "unsignalized", Justification: "busy"},
		"J1": {Recommendation: RecommendKeep, CurrentStatus: "signalized", Justification: "fine"},
	}

	text, err := RenderReport("downtown", results, sampleParams(), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	require.Contains(t, text, "downtown")
	require.Contains(t, text, "1 add, 0 remove, 1 keep")
	require.Contains(t, text, ">>> Junction J1")
	require.Contains(t, text, ">>> Junction J2")

	// J1 must appear before J2 (sorted detail section).
	require.Less(t, indexOf(text, "Junction J1"), indexOf(text, "Junction J2"))
}

func TestRenderReportHandlesNoJunctions(t *testing.T) {
	text, err := RenderReport("empty", map[string]JunctionResult{}, config.InfrastructureAnalysisSection{}, time.Now())
	require.NoError(t, err)
	require.Contains(t, text, "0 add, 0 remove, 0 keep")
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
