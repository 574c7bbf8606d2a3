package tools

import (
	"fmt"
	"strings"

	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

func accessProTool() *Tool {
	return &Tool{
		ID: "accessPro",
		Validate: func(in fallback.Inputs) error {
			s, ok := in["text"].(string)
			if !ok || strings.TrimSpace(s) == "" {
				return invalid("text", "Provide input text for processing.")
			}
			if v, present := in["targetLanguage"]; present && v != nil {
				if _, ok := v.(string); !ok {
					return invalid("targetLanguage", "'targetLanguage' must be a string")
				}
			}
			return nil
		},
		Prompt: func(in fallback.Inputs) string {
			simplify := "Leave \"simplified\" as an empty string."
			if in.Bool("simplify") {
				simplify = "Rewrite the text at a 6th-grade reading level in \"simplified\"."
			}
			return fmt.Sprintf(`You are an accessibility assistant for patients communicating with healthcare providers.

Input text:
%s

1) Clean up the text into a readable transcript in "transcript", fixing obvious transcription errors without changing meaning.
2) Translate the transcript into %s in "translation". If the text is already in that language, restate it clearly.
3) %s

Return JSON only:
{"transcript": "...", "translation": "...", "simplified": "..."}`,
				in.Text("text"), orDefault(in.Text("targetLanguage"), "plain English"), simplify)
		},
		MaxOutputTokens: 800,
		Temperature:     0.2,
		AcceptText:      true,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "transcript", Kind: normalize.KindString, Placeholder: ""},
			{Key: "translation", Kind: normalize.KindString, UseText: true, Placeholder: ""},
			{Key: "simplified", Kind: normalize.KindString, UseText: true, Placeholder: ""},
		}},
		Finish: func(out normalize.Result, in fallback.Inputs, outcome normalize.Outcome) normalize.Result {
			if outcome == normalize.Unstructured {
				out["transcript"] = in.Text("text")
				if !in.Bool("simplify") {
					out["simplified"] = ""
				}
			}
			return out
		},
	}
}
