package analysis

import (
	"bytes"
	"fmt"
	"sort"
	"text/template"
	"time"

	"carina/internal/config"
)

const reportTemplateText = `CARINA INFRASTRUCTURE ANALYSIS REPORT
======================================

General
-------
* Scenario: {{.ScenarioName}}
* Date: {{.Timestamp}}

Summary
-------
* Junctions analyzed: {{.JunctionCount}}
* Recommendations: {{.AddCount}} add, {{.RemoveCount}} remove, {{.KeepCount}} keep

Parameters
----------
* Min primary volume:   {{printf "%.0f" .Params.MinVolumePrimary}} vph
* Min secondary volume:  {{printf "%.0f" .Params.MinVolumeSecondary}} vph
* Unacceptable delay:    {{printf "%.0f" .Params.UnacceptableDelaySeconds}} s
* Conflict threshold:    {{.Params.ConflictEventsThreshold}} events
* Removal threshold:     {{printf "%.0f" .Params.RemovalThresholdPercent}}%
{{range .Junctions}}
----------------------------------------------------------------------
>>> Junction {{.ID}}
----------------------------------------------------------------------
* Recommendation:  {{.Result.Recommendation}}
* Current status:  {{.Result.CurrentStatus}}
* Justification:   {{.Result.Justification}}
* Warrants:         volume={{.Result.Warrants.Volume}} delay={{.Result.Warrants.Delay}} safety={{.Result.Warrants.Safety}}
* Primary volume:   {{.Result.Data.VolPrimaryVal}} vph
* Secondary volume: {{.Result.Data.VolSecondaryVal}} vph
* Average delay:    {{printf "%.0f" .Result.Data.AvgDelay}} s
* Conflict events:  {{.Result.Data.ConflictEvents}}
{{end}}
----------------------------------------------------------------------
Generated by the Analysis Worker.
`

var reportTemplate = template.Must(template.New("infrastructure_analysis_report").Parse(reportTemplateText))

type reportJunction struct {
	ID     string
	Result JunctionResult
}

type reportData struct {
	ScenarioName  string
	Timestamp     string
	JunctionCount int
	AddCount      int
	RemoveCount   int
	KeepCount     int
	Params        config.InfrastructureAnalysisSection
	Junctions     []reportJunction
}

// RenderReport implements step 5's human-readable report: a fixed header,
// a recommendation-count summary, the active parameters, and one detail
// block per junction sorted by ID for deterministic output.
func RenderReport(scenarioName string, results map[string]JunctionResult, params config.InfrastructureAnalysisSection, now time.Time) (string, error) {
	data := reportData{
		ScenarioName:  scenarioName,
		Timestamp:     now.UTC().Format("2006-01-02 15:04:05 UTC"),
		JunctionCount: len(results),
		Params:        params,
	}

	ids := make([]string, 0, len(results))
	for id := range results {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		r := results[id]
		switch r.Recommendation {
		case RecommendAdd:
			data.AddCount++
		case RecommendRemove:
			data.RemoveCount++
		case RecommendKeep:
			data.KeepCount++
		}
		data.Junctions = append(data.Junctions, reportJunction{ID: id, Result: r})
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render infrastructure analysis report: %w", err)
	}
	return buf.String(), nil
}

// StatusReport is the structured JSON the UI polls for the latest
// analysis outcome.
type StatusReport struct {
	ReportContent     string                     `json:"report_content"`
	SignificantChange bool                       `json:"significant_change"`
	Summary           string                     `json:"summary"`
	AnalysisResults   map[string]JunctionResult `json:"analysis_results"`
}
