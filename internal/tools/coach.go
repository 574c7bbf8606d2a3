package tools

import (
	"fmt"
	"strings"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

var personas = map[string]string{
	"pcp_rushed":          "Primary care doctor who is running 45 minutes behind, has 7 minutes for this visit, interrupts frequently, and defaults to 'wait and see' approaches. Often suggests anxiety or lifestyle changes before testing.",
	"specialist_thorough": "Subspecialist who asks detailed questions and takes methodical notes, but is bound by insurance criteria and institutional protocols. Open to discussion but needs evidence.",
	"gatekeeper":          "Provider who strictly follows guidelines, frequently cites insurance requirements, is defensive about referrals, and minimizes symptoms that don't fit clear diagnostic criteria.",
	"kind_dismissive":     "Warm and friendly doctor who genuinely cares but unconsciously minimizes chronic or invisible illness. Uses phrases like 'you look healthy' and 'have you tried yoga?'",
}

const deepCoaching = `Provide DETAILED coaching with:
- Specific language rewrites with exact phrasing
- Tone and delivery notes (pace, pauses, emphasis)
- Body language and nonverbal communication tips
- Psychological tactics (validation, mirroring, authority citing)
- Evidence integration strategies
- Power dynamic management
- Alternative approaches if the first attempt fails
- Rights-based language when appropriate`

const lightCoaching = `Provide LIGHT coaching with:
- Simple, actionable tips (2-3 key points)
- One suggested rephrase if needed
- Basic timing reminder
- Single follow-up question to ask`

func promptCoachTool() *Tool {
	return &Tool{
		ID: "promptCoach",
		Validate: func(in fallback.Inputs) error {
			thread := cleanThread(in, "speaker")
			if len(thread) == 0 {
				return invalid("thread", "Provide 'thread' as array with at least one message")
			}
			in["thread"] = thread
			if err := oneOf(in, "mode", "practice", "practice", "simulate", "live", "debrief"); err != nil {
				return err
			}
			if err := oneOf(in, "coachingLevel", "light", "light", "deep"); err != nil {
				return err
			}
			if _, ok := personas[in.Text("persona")]; !ok {
				in["persona"] = "pcp_rushed"
			}
			if v := in.Number("visitTime", 10); v >= 2 && v <= 120 {
				in["visitTime"] = float64(int(v))
			} else {
				return invalid("visitTime", "'visitTime' must be between 2 and 120 minutes")
			}
			return optionalObject(in, "context")
		},
		System:          promptCoachSystem,
		Prompt:          promptCoachPrompt,
		MaxOutputTokens: 1500,
		Temperature:     0.7,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "providerResponse", Kind: normalize.KindString, From: []string{"response"}, Placeholder: ""},
			{Key: "pushbackType", Kind: normalize.KindString, Placeholder: "none"},
			{Key: "coaching", Kind: normalize.KindObject, Placeholder: map[string]any{}},
			{Key: "responseOptions", Kind: normalize.KindList, Placeholder: []any{}},
			{Key: "nextTurnPrompt", Kind: normalize.KindString, Placeholder: ""},
			{Key: "appointmentProgress", Kind: normalize.KindObject, Placeholder: map[string]any{}},
			{Key: "metadata", Kind: normalize.KindObject, Placeholder: map[string]any{}},
		}},
		Finish: func(out normalize.Result, in fallback.Inputs, _ normalize.Outcome) normalize.Result {
			ensureLists(ensureObject(out, "coaching"), "immediate", "whatWorked", "improvements", "techniques")
			out["responseOptions"] = capList(out["responseOptions"], 3)
			mode := in.Text("mode")
			if mode == "debrief" {
				out["debriefReport"] = DebriefReport(in.List("thread"), in.Object("context"))
			}
			out["mode"] = mode
			return out
		},
	}
}

func promptCoachSystem(in fallback.Inputs) string {
	level := in.Text("coachingLevel")
	coaching := lightCoaching
	if level == "deep" {
		coaching = deepCoaching
	}
	return fmt.Sprintf(`You are a medical communication coach helping patients practice conversations with healthcare providers.

CURRENT SCENARIO:
- Provider persona: %s
- Visit time: %d minutes total
- Coaching level: %s
- Mode: %s

SAFETY RULES:
- Never provide medical advice or treatment recommendations
- Never suggest dishonesty or exaggeration
- Never name specific medications or dosages
- Focus only on communication techniques and structure

APPOINTMENT LEADERSHIP PRINCIPLES:
1. Agenda-setting: State purpose and top 2 priorities within 90 seconds
2. Evidence-based: Reference specific symptoms, timelines, and impacts
3. Criteria-seeking: Ask "What findings would indicate need for [test/referral]?"
4. Decision-focus: Every question should aim for a decision or action
5. Safety-netting: Confirm return precautions and follow-up timeline
6. Documentation: Request specific notes in chart

%s

RESPONSE FORMAT:
Always return valid JSON with this structure:
{
  "providerResponse": "What the provider says next based on persona",
  "pushbackType": "none|time|anxiety|policy|skeptical|deflection",
  "coaching": {
    "immediate": ["Real-time tip for this moment"],
    "whatWorked": ["What the patient did well"],
    "improvements": ["Specific things to improve"],
    "techniques": ["Communication techniques to try"],
    "timing": "Time check: X minutes used, Y remaining"
  },
  "responseOptions": [
    {"label": "Acknowledge & Redirect", "text": "...", "strategy": "..."},
    {"label": "Evidence-Based Counter", "text": "...", "strategy": "..."},
    {"label": "Criteria Question", "text": "...", "strategy": "..."}
  ],
  "nextTurnPrompt": "Hint for next exchange",
  "appointmentProgress": {
    "minutesElapsed": 3,
    "minutesRemaining": 7,
    "agendaItemsCovered": 1,
    "agendaItemsRemaining": 2,
    "goalsAchieved": []
  },
  "metadata": {
    "pushbackIntensity": 3,
    "collaborationLevel": 3,
    "patientConfidence": 3,
    "progressTowardGoal": "0-100%%"
  }
}`, personas[in.Text("persona")], int(in.Number("visitTime", 10)), level, in.Text("mode"), coaching)
}

func promptCoachPrompt(in fallback.Inputs) string {
	ctx := in.Object("context")
	thread := in.List("thread")
	visit := int(in.Number("visitTime", 10))
	elapsed, _ := fallback.VisitClock(len(thread), visit)

	return fmt.Sprintf(`CONVERSATION THREAD:
%s

PATIENT CONTEXT:
- Symptoms: %s
- Goals: %s
- Conditions: %s
- Previous attempts: %s

TASK: Generate the next provider response based on the %s persona, then provide %s coaching to help the patient navigate this conversation effectively.

The patient needs coaching on:
1. How to respond to the provider's statement
2. How to keep the conversation productive
3. How to work toward their stated goals
4. How to handle any dismissiveness or pushback

Remember: %d minute visit, currently %d minutes in.`,
		pretty(thread),
		orDefault(ctx.Text("symptoms"), "Not specified"),
		orDefault(ctx.Text("goals"), "Get help with symptoms"),
		orDefault(strings.Join(ctx.Strings("conditions"), ", "), "None specified"),
		orDefault(ctx.Text("previousAttempts"), "None mentioned"),
		in.Text("persona"), in.Text("coachingLevel"), visit, elapsed)
}

// DebriefReport summarizes a finished practice session. It depends only on
// the thread and context.
func DebriefReport(thread []any, ctx fallback.Inputs) map[string]any {
	var patient, provider int
	for _, item := range thread {
		m, _ := item.(map[string]any)
		switch m["speaker"] {
		case "patient":
			patient++
		case "provider":
			provider++
		}
	}

	return map[string]any{
		"summary": map[string]any{
			"totalExchanges":    len(thread),
			"patientTurns":      patient,
			"providerTurns":     provider,
			"estimatedDuration": fmt.Sprintf("%d minutes", min(len(thread)*2, 15)),
		},
		"strengths": []any{
			"Clear initial symptom description",
			"Maintained professional tone",
			"Asked at least one clarifying question",
		},
		"improvements": []any{
			"State your main ask within first 90 seconds",
			"Prepare specific evidence (dates, measurements)",
			"Practice the 'broken record' technique for key requests",
		},
		"keyPhrases": map[string]any{
			"effective": []any{
				"My primary concern today is...",
				"What criteria would indicate...",
				"Can we document that...",
			},
			"avoid": []any{
				"Sorry to bother you...",
				"I know you're busy but...",
				"It's probably nothing...",
			},
		},
		"nextSteps": []any{
			"Practice with 'specialist_thorough' persona",
			"Prepare a one-page symptom summary",
			"Role-play with timer set to actual appointment length",
		},
		"portalTemplate": fmt.Sprintf(`Dear Dr. [Name],

Thank you for our discussion today about %s.

As we discussed:
1. Primary concern: [Specific symptom and impact]
2. Requested action: [Test/referral/treatment]
3. Timeline: [When to follow up]

Please confirm receipt and next steps.

Best regards,
[Your name]`, orDefault(ctx.Text("symptoms"), "my symptoms")),
	}
}
