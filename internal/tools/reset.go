package tools

import (
	"fmt"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

const maxThread = 50

var flagKinds = []string{"dismissiveLanguage", "minimization", "credibilityUndermining", "boundaryCrossing"}

// cleanThread keeps entries whose speakerKey is one of the two parties and
// whose text is a string, capped at maxThread.
func cleanThread(in fallback.Inputs, speakerKey string) []any {
	var out []any
	for _, item := range in.List("thread") {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if _, ok := m["text"].(string); !ok {
			continue
		}
		switch m[speakerKey] {
		case "patient", "provider":
			out = append(out, m)
		}
		if len(out) == maxThread {
			break
		}
	}
	return out
}

func resetProTool() *Tool {
	return &Tool{
		ID: "resetPro",
		Validate: func(in fallback.Inputs) error {
			thread := cleanThread(in, "role")
			if len(thread) == 0 {
				return invalid("thread", "Provide 'thread' as a non-empty array of {role,text,ts?}.")
			}
			in["thread"] = thread
			if in.Text("goal") == "" {
				in["goal"] = "document"
			}
			return nil
		},
		Prompt:          resetProPrompt,
		MaxOutputTokens: 2000,
		Temperature:     0.3,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "flags", Kind: normalize.KindObject, Placeholder: map[string]any{}},
			{Key: "overallAssessment", Kind: normalize.KindString, From: []string{"summary", "assessment"}, Placeholder: ""},
			{Key: "responseOptions", Kind: normalize.KindList, From: []string{"responses"}, Placeholder: []any{}},
			{Key: "docNote", Kind: normalize.KindObject, Placeholder: map[string]any{}},
		}},
		Finish: func(out normalize.Result, _ fallback.Inputs, _ normalize.Outcome) normalize.Result {
			ensureLists(ensureObject(out, "flags"), flagKinds...)
			out["responseOptions"] = capList(out["responseOptions"], 3)
			ensureLists(ensureObject(out, "docNote"), "observedLanguage", "followUpRequested")
			return out
		},
	}
}

func resetProPrompt(in fallback.Inputs) string {
	return fmt.Sprintf(`You are a medical communication assistant helping patients identify dismissive patterns in provider communications and generate professional correction requests.

Be specific and quote exact phrases when identifying patterns. Provide actionable, professional responses.

Analyze this patient-provider communication thread:
%s

Goal: %s

Identify and categorize problematic patterns:
1. DISMISSIVE LANGUAGE: phrases that minimize or invalidate patient experiences
2. MINIMIZATION: downplaying severity or impact of symptoms
3. CREDIBILITY UNDERMINING: questioning the patient's reliability or suggesting symptoms are imagined
4. BOUNDARY CROSSING: inappropriate personal comments or unprofessional behavior

For each pattern found, give the exact provider quote and why it is problematic.
Then write three response options: NEUTRAL (fact-focused correction request), FIRM (assertive, citing patient rights) and ESCALATION (for patient relations or a formal complaint).
Finally, write a documentation note summarizing the concern objectively.

Return a JSON object with EXACTLY this structure:
{
  "flags": {
    "dismissiveLanguage": [{"quote": "exact quote", "why": "explanation"}],
    "minimization": [],
    "credibilityUndermining": [],
    "boundaryCrossing": []
  },
  "overallAssessment": "One paragraph summary of the communication patterns and their potential impact on care",
  "responseOptions": [
    {"tone": "neutral", "text": "Complete message text"},
    {"tone": "firm", "text": "Formal amendment request citing HIPAA § 164.526"},
    {"tone": "escalation", "text": "Template for patient relations"}
  ],
  "docNote": {
    "title": "Communication Concern - [Date]",
    "date": "YYYY-MM-DD",
    "context": "Brief factual summary of the interaction",
    "observedLanguage": ["quote1"],
    "patientImpact": "How the communication affected care or trust",
    "followUpRequested": ["Specific correction to record"]
  }
}

If no problematic patterns are found, return empty arrays but acknowledge the patient's concerns.
Output ONLY valid JSON, no additional text or markdown.`, pretty(in["thread"]), in.Text("goal"))
}
