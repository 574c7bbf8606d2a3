package tools

import (
	"github.com/Carrie-PLH/plus/internal/fallback"
	"github.com/Carrie-PLH/plus/internal/normalize"
)

func toolTemplateTool() *Tool {
	return &Tool{
		ID: "toolTemplate",
		Validate: func(in fallback.Inputs) error {
			if in["input"] == nil {
				return invalid("input", "Missing 'input' payload")
			}
			return nil
		},
		Prompt: func(in fallback.Inputs) string {
			return "Summarize this JSON data in plain English:\n\n" + compact(in["input"], 0)
		},
		MaxOutputTokens: 700,
		Temperature:     0.3,
		AcceptText:      true,
		Schema: normalize.Schema{Fields: []normalize.Field{
			{Key: "result", Kind: normalize.KindString, From: []string{"summary", "text"}, UseText: true, Placeholder: ""},
		}},
	}
}
