package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_FencedBlock(t *testing.T) {
	t.Parallel()

	text := "Here is the patch:\n```json\n{\"mode\": \"experimental\"}\n```\nLet me know if it looks right."
	assert.Equal(t, `{"mode": "experimental"}`, ExtractJSON(text))
}

func TestExtractJSON_FencedBlockMultiline(t *testing.T) {
	t.Parallel()

	text := "```json\n{\n  \"audience_targeting\": \"runners\",\n  \"budget_allocation\": {\"search\": \"60%\"}\n}\n```"
	got := ExtractJSON(text)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &payload))
	assert.Equal(t, "runners", payload["audience_targeting"])
}

func TestExtractJSON_WholeTextIsObject(t *testing.T) {
	t.Parallel()

	text := "  {\"creative_themes\": [\"urgency\"]}  \n"
	assert.Equal(t, `{"creative_themes": ["urgency"]}`, ExtractJSON(text))
}

func TestExtractJSON_BraceSpan(t *testing.T) {
	t.Parallel()

	text := `Sure! The analysis suggests {"verdict": "proceed"} as the outcome.`
	assert.Equal(t, `{"verdict": "proceed"}`, ExtractJSON(text))
}

func TestExtractJSON_BraceSpanNested(t *testing.T) {
	t.Parallel()

	// The widest span keeps nested objects intact.
	text := `prefix {"a": {"b": 1}, "c": 2} suffix`
	assert.Equal(t, `{"a": {"b": 1}, "c": 2}`, ExtractJSON(text))
}

func TestExtractJSON_NoPayload(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "", ExtractJSON("I cannot produce a recommendation from this data."))
	assert.Equal(t, "", ExtractJSON(""))
	assert.Equal(t, "", ExtractJSON("unbalanced } first"))
}

func TestExtractJSON_ArrayNotExtracted(t *testing.T) {
	t.Parallel()

	// Only object payloads are recognized outside fences.
	assert.Equal(t, "", ExtractJSON("[1, 2, 3]"))
}

func TestExtractJSON_FencedEmptyObject(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "{}", ExtractJSON("```json\n{}\n```"))
}

func TestExtractJSON_FencePrecedesBraceSpan(t *testing.T) {
	t.Parallel()

	// When both a fence and loose braces are present, the fence wins.
	text := "{\"wrong\": true}\n```json\n{\"right\": true}\n```"
	assert.Equal(t, `{"right": true}`, ExtractJSON(text))
}
