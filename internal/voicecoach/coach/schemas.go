package coach

import (
	"sort"

	"github.com/yungbote/voicecoach-backend/internal/platform/llm"
)

// Schemas are written in OpenAI strict form: every property is required and
// no additional properties are allowed.

func objectSchema(properties map[string]any) map[string]any {
	req := make([]string, 0, len(properties))
	for k := range properties {
		req = append(req, k)
	}
	sort.Strings(req)
	return map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             req,
		"additionalProperties": false,
	}
}

func stringSchema(minLen, maxLen int) map[string]any {
	return map[string]any{"type": "string", "minLength": minLen, "maxLength": maxLen}
}

func enumSchema(values ...string) map[string]any {
	arr := make([]any, 0, len(values))
	for _, v := range values {
		arr = append(arr, v)
	}
	return map[string]any{"type": "string", "enum": arr}
}

func arraySchema(items map[string]any, minItems, maxItems int) map[string]any {
	out := map[string]any{"type": "array", "items": items}
	if minItems > 0 {
		out["minItems"] = minItems
	}
	if maxItems > 0 {
		out["maxItems"] = maxItems
	}
	return out
}

var emotionValues = []string{"neutral", "worried", "skeptical", "impatient", "pleased"}

var customerTurnSchema = &llm.Schema{
	Name:        "voice_coach_customer_turn",
	Description: "Next line spoken by the simulated customer.",
	Definition: objectSchema(map[string]any{
		"text":    stringSchema(1, 300),
		"emotion": enumSchema(emotionValues...),
		"tag":     stringSchema(1, 40),
	}),
}

var turnAnalysisSchema = &llm.Schema{
	Name:        "voice_coach_turn_analysis",
	Description: "Coaching feedback on one beautician reply.",
	Definition: objectSchema(map[string]any{
		"suggestions": arraySchema(stringSchema(1, 80), 3, 3),
		"polished":    stringSchema(1, 400),
		"highlights": arraySchema(objectSchema(map[string]any{
			"start":    map[string]any{"type": "integer", "minimum": 0},
			"end":      map[string]any{"type": "integer", "minimum": 0},
			"label":    stringSchema(1, 30),
			"severity": enumSchema("info", "warn", "bad"),
		}), 0, 0),
		"risk_notes": arraySchema(stringSchema(1, 80), 0, 0),
	}),
}

var hintSchema = &llm.Schema{
	Name:        "voice_coach_hint",
	Description: "Reply hint for the beautician.",
	Definition: objectSchema(map[string]any{
		"hint_text":   stringSchema(1, 400),
		"hint_points": arraySchema(stringSchema(1, 60), 0, 5),
	}),
}
