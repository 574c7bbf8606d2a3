package tools

import (
	"fmt"
	"strings"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

const SafetyBanner = "Communication support only. No diagnosis or treatment advice."

const (
	introBudget   = 90
	closeBudget   = 60
	minCoreBudget = 180
	secondsPerAsk = 30
	maxIntro      = 2
	maxClose      = 2
)

func packQuestion(id, text, why, category string, priority, seconds int, citation string) map[string]any {
	return map[string]any{
		"id":           id,
		"text":         text,
		"why":          why,
		"category":     category,
		"priority":     priority,
		"ask_time_sec": seconds,
		"citation_ids": []any{citation},
		"bias_safe":    true,
	}
}

// packs returns fresh condition-specific questions on every call so callers
// may append them into a response.
func packs(name string) []any {
	switch name {
	case "pots":
		return []any{
			packQuestion("pots1", "Can we capture orthostatic vitals today and repeat if borderline?",
				"Documents objective change and guides next steps", "diagnostic_clarity", 1, 30, "c_pots1"),
			packQuestion("pots2", "What non-pharmacological strategies should I try first, and how long before expecting improvement?",
				"Establishes conservative management timeline", "treatment_options", 2, 25, "c_pots2"),
		}
	case "heds":
		return []any{
			packQuestion("heds1", "Which joints show hypermobility on Beighton scoring, and should we document this today?",
				"Objective criteria for diagnosis", "diagnostic_clarity", 1, 40, "c_heds1"),
		}
	case "mcas":
		return []any{
			packQuestion("mcas1", "What baseline tryptase level would suggest mast cell involvement, and when should we test?",
				"Establishes diagnostic threshold", "testing", 1, 25, "c_mcas1"),
		}
	case "long-covid":
		return []any{
			packQuestion("lc1", "Which post-COVID symptoms meet criteria for long COVID diagnosis, and what documentation do we need?",
				"Ensures proper coding and treatment access", "diagnostic_clarity", 1, 30, "c_lc1"),
		}
	}
	return nil
}

func promptProTool() *Tool {
	return &Tool{
		ID: "promptPro",
		Validate: func(in fallback.Inputs) error {
			s, ok := in["symptoms"].(string)
			if !ok || strings.TrimSpace(s) == "" {
				return invalid("symptoms", "Symptoms are required")
			}
			if err := optionalObject(in, "context"); err != nil {
				return err
			}
			if err := optionalObject(in, "ui_prefs"); err != nil {
				return err
			}
			if v := in.Number("visit_time_min", 10); v > 0 {
				in["visit_time_min"] = v
			} else {
				return invalid("visit_time_min", "'visit_time_min' must be positive")
			}
			return nil
		},
		System: func(fallback.Inputs) string {
			return "You are PromptPro, a clinical communication planner that converts symptoms into concise, bias-aware questions for clinicians. " +
				"You never diagnose or recommend specific treatments. You produce questions that clarify decisions, criteria, next steps, and safety. " +
				"Prefer plain language. Tie each question to a one-line why with a citation label if available. Respect time limits. " +
				"If the user provides meds or comorbidities, avoid risky phrasing and focus on decision-relevant questions. " +
				"Output structured JSON using the provided schema."
		},
		Prompt:          promptProPrompt,
		MaxOutputTokens: 4000,
		Temperature:     0.3,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "opener", Kind: normalize.KindString, Placeholder: ""},
			{Key: "priority_blocks", Kind: normalize.KindObject, Placeholder: map[string]any{}},
			{Key: "categories", Kind: normalize.KindObject, Placeholder: map[string]any{}},
			{Key: "timeline", Kind: normalize.KindList, Placeholder: []any{}},
			{Key: "citations", Kind: normalize.KindList, Placeholder: []any{}},
			{Key: "followups", Kind: normalize.KindList, Placeholder: []any{}},
			{Key: "safety_net", Kind: normalize.KindList, Placeholder: []any{}},
			{Key: "portal_message_seed", Kind: normalize.KindString, Placeholder: ""},
			{Key: "metadata", Kind: normalize.KindObject, Placeholder: map[string]any{}},
		}},
		Finish: func(out normalize.Result, in fallback.Inputs, _ normalize.Outcome) normalize.Result {
			blocks := ensureBlocks(out)
			Rank(blocks, int(in.Number("visit_time_min", 10)))

			pack := in.Object("context").Text("pack")
			if pack != "" {
				blocks["core_5min"] = append(blocks["core_5min"].([]any), packs(pack)...)
				out["pack_used"] = pack
			} else {
				out["pack_used"] = nil
			}
			out["safety_banner"] = SafetyBanner
			return out
		},
	}
}

func ensureBlocks(out normalize.Result) map[string]any {
	blocks := ensureObject(out, "priority_blocks")
	ensureLists(blocks, "intro_90s", "core_5min", "close_60s")
	return blocks
}

// Rank trims the question blocks to fit a visit of the given length: two
// intro questions, one core question per 30 seconds left after the intro
// and close (at least three minutes), and two closing questions.
func Rank(blocks map[string]any, visitMinutes int) {
	core := max(visitMinutes*60-introBudget-closeBudget, minCoreBudget)
	blocks["intro_90s"] = capList(blocks["intro_90s"], maxIntro)
	blocks["core_5min"] = capList(blocks["core_5min"], core/secondsPerAsk)
	blocks["close_60s"] = capList(blocks["close_60s"], maxClose)
}

func promptProPrompt(in fallback.Inputs) string {
	ctx := in.Object("context")
	prefs := in.Object("ui_prefs")
	none := "None specified"
	brainFog := "false"
	if prefs.Bool("brain_fog_mode") {
		brainFog = "true"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Patient symptoms: %s\n", in.Text("symptoms"))
	b.WriteString("Context:\n")
	fmt.Fprintf(&b, "- Conditions: %s\n", orDefault(strings.Join(ctx.Strings("conditions"), ", "), none))
	fmt.Fprintf(&b, "- Medications: %s\n", orDefault(strings.Join(ctx.Strings("meds"), ", "), none))
	fmt.Fprintf(&b, "- Allergies: %s\n", orDefault(strings.Join(ctx.Strings("allergies"), ", "), none))
	fmt.Fprintf(&b, "- Key findings or logs: %s\n", orDefault(ctx.Text("key_findings"), "None"))
	fmt.Fprintf(&b, "Patient goals for this visit: %s\n", orDefault(ctx.Text("goals"), "Not specified"))
	fmt.Fprintf(&b, "Visit time available: %d minutes\n", int(in.Number("visit_time_min", 10)))
	fmt.Fprintf(&b, "Requested specialty context: %s\n", orDefault(ctx.Text("specialty"), "auto"))
	fmt.Fprintf(&b, "Selected pack (optional): %s\n", orDefault(ctx.Text("pack"), "none"))
	fmt.Fprintf(&b, "Preferences: reading_level=%s, tone=%s, brain_fog_mode=%s\n\n",
		orDefault(prefs.Text("reading_level"), "standard"), orDefault(prefs.Text("tone"), "neutral"), brainFog)

	b.WriteString(`Tasks:
1) Draft a 90-second opener that is objective and functional-impact oriented.
2) Generate question candidates across categories: diagnostic_clarity, testing, treatment_options, safety_netting, process_access.
3) For each question provide: text, why (20 words or fewer), category, priority (1 highest), ask_time_sec estimate, bias_safe flag, and zero to two citation labels.
4) Rank to fit the time limit. Build intro_90s, core_5min, close_60s blocks. Add a safety-net checklist.
5) Produce two follow-up rules for likely clinician replies.
6) Provide a short portal message seed for unanswered items.

Return exactly this JSON structure:
{
  "opener": "90 second opener script",
  "priority_blocks": {
    "intro_90s": [
      {
        "id": "q1",
        "text": "question text",
        "why": "brief reason",
        "category": "diagnostic_clarity|testing|treatment_options|safety_netting|process_access",
        "priority": 1,
        "ask_time_sec": 25,
        "citation_ids": ["c1"],
        "bias_safe": true,
        "phrasing_variants": ["alternative phrasing"]
      }
    ],
    "core_5min": [],
    "close_60s": []
  },
  "categories": {
    "diagnostic_clarity": [],
    "testing": [],
    "treatment_options": [],
    "safety_netting": [],
    "process_access": []
  },
  "timeline": [{"label": "Opening", "start_sec": 0, "end_sec": 90, "question_ids": ["q1"]}],
  "citations": [{"id": "c1", "label": "citation label", "year": 2024, "source": "guideline|review|trial", "url": "https://...", "strength": "high|moderate|emerging"}],
  "followups": [{"if_phrase": "let's watch and wait", "then_questions": ["q3"]}],
  "safety_net": ["safety checklist item 1", "safety checklist item 2"],
  "portal_message_seed": "template for portal follow-up",
  "metadata": {"specialty": "pcp|specialist|ed", "confidence": 0.75}
}

Return JSON only, no other text.`)
	return b.String()
}
