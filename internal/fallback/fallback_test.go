package fallback

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(s), &m))
	return m
}

func TestBuild_ReferentiallyTransparent(t *testing.T) {
	inputs := map[string]string{
		"symptomPro":   `{"symptoms":{"chiefComplaint":"headache","onset":"last week","severity":7},"context":{"impact":"missing work"}}`,
		"resetPro":     `{"thread":[{"role":"provider","text":"It's just stress."},{"role":"patient","text":"It started after the fall."}],"date":"2026-03-02"}`,
		"promptCoach":  `{"thread":[{"speaker":"patient","text":"hi"}],"persona":"gatekeeper","visitTime":15}`,
		"promptPro":    `{"symptoms":"Dizzy when standing. Worse in heat.","context":{"specialty":"cardiology"}}`,
		"trendTrack":   `{"records":[{"date":"2026-01-02","symptom":"headache","severity":6},{"date":"2026-01-01","symptom":"nausea","severity":"3"},{"date":"2026-01-02","symptom":"nausea","severity":5}]}`,
		"accessPro":    `{"text":"Take two tablets daily.","simplify":true}`,
		"toolTemplate": `{"input":{"b":2,"a":[1,2,3]}}`,
	}
	require.ElementsMatch(t, Tools(), keysOf(inputs))

	for tool, raw := range inputs {
		t.Run(tool, func(t *testing.T) {
			first, err := Build(tool, decode(t, raw))
			require.NoError(t, err)
			second, err := Build(tool, decode(t, raw))
			require.NoError(t, err)

			a, err := json.Marshal(first)
			require.NoError(t, err)
			b, err := json.Marshal(second)
			require.NoError(t, err)
			assert.Equal(t, string(a), string(b))

			assert.NotContains(t, string(a), "undefined")
			assert.NotContains(t, string(a), "<nil>")
			assert.NotContains(t, string(a), "%!")
		})
	}
}

func keysOf(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestBuild_UnknownTool(t *testing.T) {
	_, err := Build("careMapper", map[string]any{})
	require.ErrorIs(t, err, ErrNoTemplate)
	assert.False(t, Has("careMapper"))
	assert.True(t, Has("symptomPro"))
}

func TestSymptomPro_OmitsMissingClauses(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "nothing supplied",
			in:   `{}`,
			want: "I have been experiencing symptoms.",
		},
		{
			name: "complaint and severity",
			in:   `{"symptoms":{"chiefComplaint":"back pain","severity":"8/10"}}`,
			want: "I have been experiencing back pain. The severity is 8/10.",
		},
		{
			name: "aliases and context",
			in:   `{"symptoms":{"primarySymptom":"fatigue","onset":"in May","worsens":"stairs","improves":"rest"},"context":{"impact":"limiting my walks"}}`,
			want: "I have been experiencing fatigue that started in May. It gets worse with stairs. It improves with rest. This is affecting my daily life by limiting my walks.",
		},
		{
			name: "blank values ignored",
			in:   `{"symptoms":{"chiefComplaint":"  ","location":"","character":null}}`,
			want: "I have been experiencing symptoms.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Build("symptomPro", decode(t, tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out["clinical"])
			assert.Equal(t, tt.want, out["referral"])
			assert.NotContains(t, out["clinical"], "  ")
		})
	}
}

func TestSymptomPro_TruncatesShortVariants(t *testing.T) {
	long := strings.Repeat("very long complaint ", 20)
	out, err := Build("symptomPro", map[string]any{"symptoms": map[string]any{"chiefComplaint": long}})
	require.NoError(t, err)

	portal := out["portal"].(string)
	emergency := out["emergency"].(string)
	assert.True(t, strings.HasSuffix(portal, "..."))
	assert.Len(t, []rune(portal), 203)
	assert.Len(t, []rune(emergency), 153)
}

func TestResetPro_ResponseOptions(t *testing.T) {
	out, err := Build("resetPro", decode(t, `{"thread":[{"role":"provider","text":"You seem anxious."},{"role":"patient","text":"My pain is 8/10 every night."}]}`))
	require.NoError(t, err)

	opts := out["responseOptions"].([]any)
	require.Len(t, opts, 3)
	neutral := opts[0].(map[string]any)
	assert.Equal(t, "neutral", neutral["tone"])
	assert.Contains(t, neutral["text"], "My pain is 8/10 every night.")

	firm := opts[1].(map[string]any)["text"].(string)
	assert.Contains(t, firm, "amendment to my medical record.")
	assert.NotContains(t, firm, "dated")

	flags := out["flags"].(map[string]any)
	assert.Len(t, flags, 4)
}

func TestPromptCoach_PersonaTurns(t *testing.T) {
	out, err := Build("promptCoach", decode(t, `{"persona":"kind_dismissive","thread":[{"speaker":"patient","text":"a"},{"speaker":"provider","text":"b"},{"speaker":"narrator","text":"c"}]}`))
	require.NoError(t, err)

	assert.Equal(t, personaLines["kind_dismissive"][2], out["providerResponse"])
	progress := out["appointmentProgress"].(map[string]any)
	assert.Equal(t, 4, progress["minutesElapsed"])
	assert.Equal(t, 6, progress["minutesRemaining"])

	out, err = Build("promptCoach", decode(t, `{"persona":"unknown","thread":[]}`))
	require.NoError(t, err)
	assert.Equal(t, personaLines["pcp_rushed"][0], out["providerResponse"])
}

func TestVisitClock(t *testing.T) {
	elapsed, remaining := VisitClock(10, 10)
	assert.Equal(t, 8, elapsed)
	assert.Equal(t, 2, remaining)

	elapsed, remaining = VisitClock(0, 1)
	assert.Equal(t, 0, elapsed)
	assert.Equal(t, 2, remaining)
}

func TestPromptPro_Opener(t *testing.T) {
	out, err := Build("promptPro", decode(t, `{"symptoms":"Racing heart on standing. Also fatigue."}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out["opener"].(string), "I'm experiencing Racing heart on standing."))
	assert.Equal(t, "auto", out["metadata"].(map[string]any)["specialty"])
}

func TestTrendTrack_Aggregates(t *testing.T) {
	out, err := Build("trendTrack", decode(t, `{"records":[
		{"date":"2026-01-02","symptom":"headache","severity":6},
		{"date":"2026-01-01","symptom":"nausea","severity":"3"},
		{"date":"2026-01-02","symptom":"nausea","severity":5},
		{"date":"2026-01-03","symptom":"headache","severity":8},
		{"symptom":"headache"}
	]}`))
	require.NoError(t, err)

	agg := out["aggregates"].(map[string]any)
	byDate := agg["byDate"].([]any)
	require.Len(t, byDate, 3)
	assert.Equal(t, map[string]any{
		"date":        "2026-01-01",
		"avgSeverity": 3.0,
		"counts":      map[string]any{"nausea": 1},
	}, byDate[0])
	assert.Equal(t, 5.5, byDate[1].(map[string]any)["avgSeverity"])

	top := agg["topSymptoms"].([]any)
	require.Len(t, top, 2)
	assert.Equal(t, map[string]any{"symptom": "headache", "avgSeverity": 7.0, "days": 2}, top[0])
	assert.Equal(t, map[string]any{"symptom": "nausea", "avgSeverity": 4.0, "days": 2}, top[1])

	insights := out["insights"].([]any)
	assert.Equal(t, "Logged 5 entries across 3 days.", insights[0])
	assert.Equal(t, "Most frequently logged symptom: headache (3 entries, average severity 7).", insights[1])
	assert.Equal(t, "Highest average severity was on 2026-01-03 (8).", insights[2])
}

func TestAccessPro(t *testing.T) {
	out, err := Build("accessPro", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out["translation"])
	assert.Equal(t, "", out["simplified"])
}

func TestInputs_NumberRejectsNonFinite(t *testing.T) {
	in := Inputs{"inf": "Infinity", "neg": "-Inf", "nan": "NaN", "ok": " 4.5 ", "n": 7.0, "bad": "x"}
	assert.Equal(t, -1.0, in.Number("inf", -1))
	assert.Equal(t, -1.0, in.Number("neg", -1))
	assert.Equal(t, -1.0, in.Number("nan", -1))
	assert.Equal(t, -1.0, in.Number("bad", -1))
	assert.Equal(t, -1.0, in.Number("missing", -1))
	assert.Equal(t, 4.5, in.Number("ok", -1))
	assert.Equal(t, 7.0, in.Number("n", -1))
}

func TestTrendTrack_NonFiniteSeverityStillEncodes(t *testing.T) {
	out, err := Build("trendTrack", decode(t, `{"records":[
		{"date":"2026-01-01","symptom":"headache","severity":"Infinity"},
		{"date":"2026-01-01","symptom":"nausea","severity":"+Inf"},
		{"date":"2026-01-02","symptom":"headache","severity":1e308},
		{"date":"2026-01-02","symptom":"headache","severity":1e308},
		{"date":"2026-01-03","symptom":"nausea","severity":4}
	]}`))
	require.NoError(t, err)

	_, err = json.Marshal(out)
	require.NoError(t, err)

	byDate := out["aggregates"].(map[string]any)["byDate"].([]any)
	require.Len(t, byDate, 3)
	assert.Equal(t, 0.0, byDate[0].(map[string]any)["avgSeverity"], "non-finite severities count as unrated")
	assert.Equal(t, 0.0, byDate[1].(map[string]any)["avgSeverity"], "overflowing sums do not leak Inf")
	assert.Equal(t, 4.0, byDate[2].(map[string]any)["avgSeverity"])
}
