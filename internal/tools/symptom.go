package tools

import (
	"fmt"
	"strings"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

var toneRules = map[string]string{
	"professional": "Use formal, clear language",
	"friendly":     "Use warm, conversational language while remaining clear",
	"direct":       "Be concise and straightforward, avoid extra words",
	"detailed":     "Include all available information with thorough descriptions",
}

func symptomProTool() *Tool {
	return &Tool{
		ID: "symptomPro",
		Validate: func(in fallback.Inputs) error {
			if _, ok := in["symptoms"].(map[string]any); !ok {
				return invalid("symptoms", "Missing 'symptoms' object")
			}
			if err := optionalObject(in, "context"); err != nil {
				return err
			}
			return oneOf(in, "tone", "professional", "professional", "friendly", "direct", "detailed")
		},
		System: func(in fallback.Inputs) string {
			return strings.Join([]string{
				"You are a medical communication specialist helping patients articulate their symptoms clearly.",
				"Generate natural, professional symptom summaries that patients can share with healthcare providers.",
				"Never mention assessment frameworks or acronyms in the output; use them invisibly.",
				"Write in natural paragraphs, not bullet points or lists.",
				"Adjust language tone based on the specified parameter: " + in.Text("tone") + ".",
			}, "\n")
		},
		Prompt:          symptomProPrompt,
		MaxOutputTokens: 2000,
		Temperature:     0.4,
		AcceptText:      true,
		Schema: normalize.Schema{
			Envelope: "summaries",
			Fields: []normalize.Field{
				{Key: "clinical", Kind: normalize.KindString, From: []string{"portal", "referral", "emergency", "summary", "text"}, UseText: true, Placeholder: "No summary generated."},
				{Key: "portal", Kind: normalize.KindString, From: []string{"clinical", "summary", "text", "referral", "emergency"}, UseText: true, MaxLen: 200, Placeholder: "No summary generated."},
				{Key: "emergency", Kind: normalize.KindString, From: []string{"portal", "clinical", "summary", "text", "referral"}, UseText: true, MaxLen: 150, Placeholder: "No summary generated."},
				{Key: "referral", Kind: normalize.KindString, From: []string{"clinical", "summary", "text", "portal", "emergency"}, UseText: true, MaxLen: 250, Placeholder: "No summary generated."},
			},
		},
		Finish: func(out normalize.Result, in fallback.Inputs, _ normalize.Outcome) normalize.Result {
			return normalize.Result{
				"summaries": map[string]any(out),
				"tone":      in.Text("tone"),
				"summary":   out["clinical"],
			}
		},
	}
}

func symptomProPrompt(in fallback.Inputs) string {
	s := in.Object("symptoms")
	ctx := in.Object("context")
	tone := in.Text("tone")
	ns := "Not specified"

	var b strings.Builder
	b.WriteString("Generate 4 different symptom summaries based on this patient data.\n")
	b.WriteString("Each summary should be a complete, natural narrative ready to copy and paste.\n\n")
	b.WriteString("SYMPTOMS:\n")
	for _, row := range [][2]string{
		{"Chief Complaint", s.Text("chiefComplaint", "primarySymptom")},
		{"Onset", s.Text("onset")},
		{"Location", s.Text("location")},
		{"Duration", s.Text("duration")},
		{"Frequency", s.Text("frequency")},
		{"Character", s.Text("character")},
		{"Aggravating factors", s.Text("aggravating", "worsens")},
		{"Alleviating factors", s.Text("alleviating", "improves")},
		{"Radiation", s.Text("radiation")},
		{"Timing", s.Text("timing")},
		{"Severity", s.Text("severity")},
	} {
		fmt.Fprintf(&b, "- %s: %s\n", row[0], orDefault(row[1], ns))
	}
	b.WriteString("\nCONTEXT:\n")
	fmt.Fprintf(&b, "- Medical History: %s\n", orDefault(ctx.Text("history"), "Not provided"))
	fmt.Fprintf(&b, "- Current Medications: %s\n", orDefault(ctx.Text("meds", "medications"), "None listed"))
	fmt.Fprintf(&b, "- Impact on Daily Life: %s\n\n", orDefault(ctx.Text("impact"), ns))
	fmt.Fprintf(&b, "TONE: %s (professional/friendly/direct/detailed)\n\n", tone)

	b.WriteString(`Generate exactly this JSON structure:
{
  "summaries": {
    "clinical": "[Full narrative for provider appointments, 250-350 words, covering onset, location, character, severity, timing, aggravating and relieving factors, radiation and impact on function.]",
    "portal": "[Concise 150-200 word message for a patient portal: key symptoms, duration, severity and why care is sought.]",
    "emergency": "[Brief 100-150 word summary for urgent visits. Lead with chief complaint and severity, present tense.]",
    "referral": "[Formal 200-250 word narrative for specialist referrals: history, current symptoms, treatments tried, quality of life impact.]"
  },
  "tone": "` + tone + `"
}

Rules:
- Write from the patient's first-person perspective
- Use natural, flowing sentences without medical jargon
- ` + toneRules[tone] + `
- Make each summary immediately usable without editing
- If information is missing, work with what's provided without mentioning gaps
- Do not use bullet points, lists, or structured formats

RETURN ONLY THE JSON OBJECT WITH NO ADDITIONAL TEXT OR MARKDOWN FORMATTING.`)
	return b.String()
}
