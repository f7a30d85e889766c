package extraction

// Strict JSON schemas for the structured-output calls. Categories mirror
// types.ArtifactCategory; anything else normalizes to "other" on parse.

func artifactSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"artifacts"},
		"properties": map[string]any{
			"artifacts": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"name", "category", "description", "shortDescription"},
					"properties": map[string]any{
						"name": map[string]any{"type": "string"},
						"category": map[string]any{
							"type": "string",
							"enum": []string{"character", "location", "item", "event", "faction", "other"},
						},
						"description":      map[string]any{"type": "string"},
						"shortDescription": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

func relationshipSchema() map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"required":             []string{"relationships"},
		"properties": map[string]any{
			"relationships": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"required":             []string{"sourceName", "targetName", "label", "description"},
					"properties": map[string]any{
						"sourceName":  map[string]any{"type": "string"},
						"targetName":  map[string]any{"type": "string"},
						"label":       map[string]any{"type": "string"},
						"description": map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}
