package fallback

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Carrie-PLH/plus/internal/normalize"
)

func symptomPro(in Inputs) normalize.Result {
	s := in.Object("symptoms")
	ctx := in.Object("context")

	complaint := s.Text("chiefComplaint", "primarySymptom")
	if complaint == "" {
		complaint = "symptoms"
	}
	opening := "I have been experiencing " + complaint
	if onset := s.Text("onset"); onset != "" {
		opening += " that started " + onset
	}

	text := sentences(
		opening+".",
		clause("The issue is located in my %s.", s.Text("location")),
		clause("The severity is %s.", s.Text("severity")),
		clause("It feels %s.", s.Text("character")),
		clause("It gets worse with %s.", s.Text("aggravating", "worsens")),
		clause("It improves with %s.", s.Text("alleviating", "improves")),
		clause("This is affecting my daily life by %s.", ctx.Text("impact")),
	)

	return normalize.Result{
		"clinical":  text,
		"portal":    Truncate(text, 200),
		"emergency": Truncate(text, 150),
		"referral":  text,
	}
}

func resetPro(in Inputs) normalize.Result {
	var patientText string
	for _, item := range in.List("thread") {
		m := Inputs(asMap(item))
		if m.Text("role") == "patient" {
			if patientText = m.Text("text"); patientText != "" {
				break
			}
		}
	}
	date := in.Text("date")

	neutral := []string{
		"Dear Provider,",
		"I am writing to request corrections to my medical record from our recent interaction. I believe there are some inaccuracies that need to be addressed.",
	}
	if patientText != "" {
		neutral = append(neutral, Truncate(patientText, 200))
	}
	neutral = append(neutral,
		"Please update my medical record to accurately reflect our discussion.",
		"Thank you for your attention to this matter.",
	)

	recordRef := "my medical record"
	if date != "" {
		recordRef += " dated " + date
	}
	firm := strings.Join([]string{
		"To: Medical Records Department",
		"Subject: Formal Request for Amendment to Medical Record - HIPAA § 164.526",
		"I am formally requesting an amendment to " + recordRef + ".",
		"Under HIPAA § 164.526, I have the right to request amendments when information is incorrect or incomplete. Please process this request within 30 days as required by law.",
		"Please confirm receipt of this request.",
		"Sincerely,\n[Patient Name]",
	}, "\n\n")

	when := "our recent interaction"
	if date != "" {
		when = date
	}
	escalation := strings.Join([]string{
		"To: Patient Relations Department",
		"Subject: Formal Complaint Regarding Medical Documentation",
		"I am filing a formal complaint regarding communication and documentation concerns from " + when + ".",
		"I request a formal review of this matter.",
		"Sincerely,\n[Patient Name]",
	}, "\n\n")

	return normalize.Result{
		"flags": map[string]any{
			"dismissiveLanguage":     []any{},
			"minimization":           []any{},
			"credibilityUndermining": []any{},
			"boundaryCrossing":       []any{},
		},
		"overallAssessment": "Analysis could not be completed. Please try again.",
		"responseOptions": []any{
			map[string]any{"tone": "neutral", "text": strings.Join(neutral, "\n\n")},
			map[string]any{"tone": "firm", "text": firm},
			map[string]any{"tone": "escalation", "text": escalation},
		},
		"docNote": map[string]any{
			"title":             "Communication Concern",
			"date":              date,
			"context":           "Unable to analyze communication",
			"observedLanguage":  []any{},
			"patientImpact":     "",
			"followUpRequested": []any{},
		},
	}
}

var personaLines = map[string][]string{
	"pcp_rushed": {
		"I understand you're concerned, but we need to focus on one issue today. Have you tried lifestyle modifications?",
		"We're running quite behind. Let's start with basic labs and see you back in 3 months.",
		"That sounds like it could be stress-related. Are you getting enough sleep?",
		"I have about 2 more minutes. What's your most pressing concern?",
	},
	"specialist_thorough": {
		"Tell me more about when these symptoms occur. Any pattern you've noticed?",
		"I'd like to review your previous testing. What evaluations have been done so far?",
		"The symptoms you describe could fit several conditions. Let's be systematic.",
		"Insurance typically requires we document failed conservative treatment first.",
	},
	"gatekeeper": {
		"Your insurance requires three months of documented symptoms before that referral.",
		"We don't typically order that test unless criteria are met. Let me check the guidelines.",
		"Have you tried physical therapy? That's the required first step.",
		"I can't justify that to insurance without more objective findings.",
	},
	"kind_dismissive": {
		"You look quite healthy to me! Sometimes our bodies just need time to heal.",
		"Have you been under stress lately? That can cause all sorts of symptoms.",
		"At your age, some of this is normal. Have you tried yoga or meditation?",
		"I don't see anything concerning on exam. Maybe try some vitamins?",
	},
}

// CoachTurns counts thread entries with a patient or provider speaker.
func CoachTurns(thread []any) int {
	n := 0
	for _, item := range thread {
		switch Inputs(asMap(item)).Text("speaker") {
		case "patient", "provider":
			n++
		}
	}
	return n
}

// VisitClock returns minutes used and remaining for a coaching session.
func VisitClock(turns, visitMinutes int) (elapsed, remaining int) {
	elapsed = min(turns*2, visitMinutes-2)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining = max(2, visitMinutes-turns*2)
	return elapsed, remaining
}

func promptCoach(in Inputs) normalize.Result {
	lines, ok := personaLines[in.Text("persona")]
	if !ok {
		lines = personaLines["pcp_rushed"]
	}
	turns := CoachTurns(in.List("thread"))
	visit := int(in.Number("visitTime", 10))
	elapsed, remaining := VisitClock(turns, visit)

	return normalize.Result{
		"providerResponse": lines[min(turns, len(lines)-1)],
		"pushbackType":     "time",
		"coaching": map[string]any{
			"immediate":    stringList("Stay focused on your main concern"),
			"whatWorked":   stringList("Clear symptom description"),
			"improvements": stringList("Be more specific about timeline"),
			"techniques":   stringList("Use 'Yes, and...' to acknowledge while redirecting"),
			"timing":       fmt.Sprintf("Time check: %d minutes used, %d remaining", elapsed, remaining),
		},
		"responseOptions": []any{
			map[string]any{
				"label":    "Acknowledge time pressure",
				"text":     "I understand you're running behind. Let me focus on my main concern...",
				"strategy": "Shows respect for constraints",
			},
			map[string]any{
				"label":    "Ask for specific next step",
				"text":     "Given the time, what's the one most important test we should start with?",
				"strategy": "Forces prioritization",
			},
			map[string]any{
				"label":    "Request follow-up",
				"text":     "Can we schedule a longer appointment to properly address this?",
				"strategy": "Acknowledges limitations",
			},
		},
		"nextTurnPrompt": "Make your primary ask before time runs out",
		"appointmentProgress": map[string]any{
			"minutesElapsed":       elapsed,
			"minutesRemaining":     remaining,
			"agendaItemsCovered":   turns / 4,
			"agendaItemsRemaining": 2,
			"goalsAchieved":        []any{},
		},
		"metadata": map[string]any{
			"pushbackIntensity":  3,
			"collaborationLevel": 2,
			"patientConfidence":  3,
			"progressTowardGoal": "25%",
		},
	}
}

func question(id, text, why, category string, priority, seconds int) map[string]any {
	return map[string]any{
		"id":           id,
		"text":         text,
		"why":          why,
		"category":     category,
		"priority":     priority,
		"ask_time_sec": seconds,
		"citation_ids": []any{},
		"bias_safe":    true,
	}
}

func promptPro(in Inputs) normalize.Result {
	symptoms := in.Text("symptoms")
	first := strings.TrimSpace(strings.SplitN(symptoms, ".", 2)[0])
	if first == "" {
		first = Truncate(symptoms, 100)
	}
	opener := "I'm experiencing " + first + ". This has been affecting my daily activities and I'd like to understand what's happening and discuss next steps."
	if first == "" {
		opener = "I'd like to understand what's happening with my symptoms and discuss next steps."
	}

	specialty := in.Object("context").Text("specialty")
	if specialty == "" {
		specialty = "auto"
	}

	return normalize.Result{
		"opener": opener,
		"priority_blocks": map[string]any{
			"intro_90s": []any{
				question("fb1", "What are the most likely causes of these symptoms based on my history?", "Establishes differential diagnosis", "diagnostic_clarity", 1, 30),
			},
			"core_5min": []any{
				question("fb2", "What tests would help narrow down the diagnosis?", "Clarifies diagnostic pathway", "testing", 1, 25),
				question("fb3", "What initial treatment options are available while we investigate?", "Addresses symptom management", "treatment_options", 2, 30),
			},
			"close_60s": []any{
				question("fb4", "What symptoms would require urgent evaluation before our next visit?", "Establishes safety plan", "safety_netting", 1, 20),
			},
		},
		"categories": map[string]any{
			"diagnostic_clarity": []any{},
			"testing":            []any{},
			"treatment_options":  []any{},
			"safety_netting":     []any{},
			"process_access":     []any{},
		},
		"timeline":  []any{},
		"citations": []any{},
		"followups": []any{},
		"safety_net": stringList(
			"Clarify when to seek urgent care",
			"Document today's findings",
			"Schedule follow-up if symptoms persist",
		),
		"portal_message_seed": "Following up on our visit, I have additional questions about my symptoms and next steps.",
		"metadata": map[string]any{
			"specialty":  specialty,
			"confidence": 0.5,
			"model":      "fallback",
		},
	}
}

type symptomStats struct {
	name     string
	days     map[string]bool
	sum      float64
	rated    int
	mentions int
}

type dateStats struct {
	date   string
	sum    float64
	rated  int
	counts map[string]any
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

// average is 0 for no samples or when huge severities overflow.
func average(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	avg := round1(sum / float64(n))
	if math.IsInf(avg, 0) || math.IsNaN(avg) {
		return 0
	}
	return avg
}

func trendTrack(in Inputs) normalize.Result {
	records := in.List("records")
	byDate := map[string]*dateStats{}
	bySymptom := map[string]*symptomStats{}

	for _, item := range records {
		r := Inputs(asMap(item))
		date := r.Text("date")
		name := r.Text("symptom", "name")
		if name == "" {
			name = "unspecified"
		}
		severity := r.Number("severity", math.NaN())
		rated := !math.IsNaN(severity)

		st := bySymptom[name]
		if st == nil {
			st = &symptomStats{name: name, days: map[string]bool{}}
			bySymptom[name] = st
		}
		st.mentions++
		if rated {
			st.sum += severity
			st.rated++
		}

		if date == "" {
			continue
		}
		st.days[date] = true
		ds := byDate[date]
		if ds == nil {
			ds = &dateStats{date: date, counts: map[string]any{}}
			byDate[date] = ds
		}
		n, _ := ds.counts[name].(int)
		ds.counts[name] = n + 1
		if rated {
			ds.sum += severity
			ds.rated++
		}
	}

	dates := make([]*dateStats, 0, len(byDate))
	for _, ds := range byDate {
		dates = append(dates, ds)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].date < dates[j].date })

	dateRows := make([]any, len(dates))
	var peak *dateStats
	for i, ds := range dates {
		dateRows[i] = map[string]any{
			"date":        ds.date,
			"avgSeverity": average(ds.sum, ds.rated),
			"counts":      ds.counts,
		}
		if ds.rated > 0 && (peak == nil || average(ds.sum, ds.rated) > average(peak.sum, peak.rated)) {
			peak = ds
		}
	}

	symptoms := make([]*symptomStats, 0, len(bySymptom))
	for _, st := range bySymptom {
		symptoms = append(symptoms, st)
	}
	sort.Slice(symptoms, func(i, j int) bool {
		a, b := symptoms[i], symptoms[j]
		if a.mentions != b.mentions {
			return a.mentions > b.mentions
		}
		if av, bv := average(a.sum, a.rated), average(b.sum, b.rated); av != bv {
			return av > bv
		}
		return a.name < b.name
	})
	if len(symptoms) > 5 {
		symptoms = symptoms[:5]
	}

	top := make([]any, len(symptoms))
	for i, st := range symptoms {
		top[i] = map[string]any{
			"symptom":     st.name,
			"avgSeverity": average(st.sum, st.rated),
			"days":        len(st.days),
		}
	}

	insights := []string{
		fmt.Sprintf("Logged %d entries across %d days.", len(records), len(dates)),
	}
	if len(symptoms) > 0 {
		st := symptoms[0]
		insights = append(insights, fmt.Sprintf("Most frequently logged symptom: %s (%d entries, average severity %s).",
			st.name, st.mentions, formatSeverity(average(st.sum, st.rated))))
	}
	if peak != nil {
		insights = append(insights, fmt.Sprintf("Highest average severity was on %s (%s).",
			peak.date, formatSeverity(average(peak.sum, peak.rated))))
	}
	insights = append(insights, "Detailed trend analysis is unavailable right now. These figures are computed directly from your records.")

	return normalize.Result{
		"insights": stringList(insights...),
		"suggestedCharts": []any{
			map[string]any{"type": "line", "x": "date", "y": "avg_severity", "groupBy": "symptom"},
			map[string]any{"type": "stacked_bar", "x": "date", "y": "count", "groupBy": "symptom"},
		},
		"aggregates": map[string]any{
			"byDate":      dateRows,
			"topSymptoms": top,
		},
	}
}

func formatSeverity(f float64) string {
	return strings.TrimSuffix(fmt.Sprintf("%.1f", f), ".0")
}

func accessPro(in Inputs) normalize.Result {
	text := in.Text("text")
	simplified := ""
	if in.Bool("simplify") {
		simplified = text
	}
	return normalize.Result{
		"transcript":  text,
		"translation": text,
		"simplified":  simplified,
	}
}

func toolTemplate(in Inputs) normalize.Result {
	b, err := json.Marshal(in["input"])
	if err != nil || string(b) == "null" {
		return normalize.Result{"result": "Summary unavailable. Please try again."}
	}
	return normalize.Result{
		"result": "Summary unavailable right now. Input received: " + Truncate(string(b), 500),
	}
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
