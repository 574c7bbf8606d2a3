package tools

import (
	"fmt"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

const (
	maxRecords     = 500
	maxRecordsJSON = 20000
)

func defaultCharts() []any {
	return []any{
		map[string]any{"type": "line", "x": "date", "y": "avg_severity", "groupBy": "symptom"},
		map[string]any{"type": "stacked_bar", "x": "date", "y": "count", "groupBy": "symptom"},
	}
}

func trendTrackTool() *Tool {
	return &Tool{
		ID: "trendTrack",
		Validate: func(in fallback.Inputs) error {
			records, ok := in["records"].([]any)
			if !ok || len(records) == 0 {
				return invalid("records", "Provide 'records' as a non-empty array")
			}
			if len(records) > maxRecords {
				return invalid("records", "Too many records. Limit is %d.", maxRecords)
			}
			return nil
		},
		Prompt: func(in fallback.Inputs) string {
			return fmt.Sprintf(`You are analyzing patient self-tracked symptom data.
Goals:
1) Identify trends over time by symptom and severity.
2) Detect cycles, flares, or triggers suggested by notes.
3) Suggest simple visualizations: line over time by average severity, stacked day counts by symptom, moving average windows.

Input JSON:
%s
Return JSON with:
{
  "insights": ["..."],
  "suggestedCharts": [
    { "type": "line", "x": "date", "y": "avg_severity", "groupBy": "symptom" },
    { "type": "stacked_bar", "x": "date", "y": "count", "groupBy": "symptom" }
  ],
  "aggregates": {
    "byDate": [{ "date": "YYYY-MM-DD", "avgSeverity": 0, "counts": { "headache": 2, "nausea": 1 } }],
    "topSymptoms": [{ "symptom": "headache", "avgSeverity": 5.8, "days": 14 }]
  }
}
If information is insufficient, be explicit about what is missing.`, compact(in["records"], maxRecordsJSON))
		},
		MaxOutputTokens: 900,
		Temperature:     0.2,
		AcceptText:      true,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "insights", Kind: normalize.KindList, UseText: true, Placeholder: []any{}},
			{Key: "suggestedCharts", Kind: normalize.KindList, From: []string{"charts"}, Placeholder: defaultCharts()},
			{Key: "aggregates", Kind: normalize.KindObject, Placeholder: map[string]any{}},
		}},
		Finish: func(out normalize.Result, in fallback.Inputs, _ normalize.Outcome) normalize.Result {
			agg, _ := out["aggregates"].(map[string]any)
			if len(agg) == 0 {
				computed, err := fallback.Build("trendTrack", in)
				if err == nil {
					out["aggregates"] = computed["aggregates"]
				}
			}
			return out
		},
	}
}
