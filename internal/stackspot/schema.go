package stackspot

// challengeOutputSchema returns the JSON Schema attached at agent
// creation. It constrains the agent's structured output to the daily
// challenge shape: a date, one scenario and exactly ten flashcards with
// all fields present.
func challengeOutputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"date": map[string]any{
				"type":        "string",
				"description": "Data atual no formato YYYY-MM-DD",
			},
			"scenario": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":                  map[string]any{"type": "string"},
					"problem_description":    map[string]any{"type": "string"},
					"architectural_overview": map[string]any{"type": "string"},
					"technologies_involved": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				},
				"required": []string{"title", "problem_description", "architectural_overview", "technologies_involved"},
			},
			"flashcards": map[string]any{
				"type":     "array",
				"minItems": 10,
				"maxItems": 10,
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"title":                map[string]any{"type": "string"},
						"question":             map[string]any{"type": "string"},
						"short_answer":         map[string]any{"type": "string"},
						"detailed_explanation": map[string]any{"type": "string"},
						"visual_example":       map[string]any{"type": "string"},
						"code_example":         map[string]any{"type": "string"},
					},
					"required": []string{"title", "question", "short_answer", "detailed_explanation", "visual_example", "code_example"},
				},
			},
		},
		"required": []string{"date", "scenario", "flashcards"},
	}
}
