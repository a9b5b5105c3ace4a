package ingest

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/adronaut/strategy-cli/internal/model"
)

// jsonSummary handles JSON artifacts. An array of objects is treated as a
// table; anything else is described structurally and contributes no rows.
func jsonSummary(data []byte) map[string]any {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return errorSummary("json", err)
	}

	switch vv := v.(type) {
	case []any:
		rows := objectRows(vv)
		if len(rows) > 0 {
			return tableSummary("json", columnsOf(rows), rows)
		}
		return map[string]any{
			"file_type": "json",
			"size":      len(vv),
			"summary":   fmt.Sprintf("JSON array with %d entries and no tabular rows", len(vv)),
		}
	case map[string]any:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return map[string]any{
			"file_type": "json",
			"keys":      keys,
			"size":      len(vv),
			"summary":   fmt.Sprintf("JSON object with %d keys", len(vv)),
		}
	default:
		return map[string]any{
			"file_type": "json",
			"size":      1,
			"summary":   "JSON scalar value",
		}
	}
}

// objectRows keeps the array entries that are objects.
func objectRows(entries []any) []model.Row {
	rows := make([]model.Row, 0, len(entries))
	for _, entry := range entries {
		if m, ok := entry.(map[string]any); ok && len(m) > 0 {
			rows = append(rows, model.Row(m))
		}
	}
	return rows
}

// columnsOf returns the sorted union of keys across rows. JSON objects
// carry no column order, so sorted is the stable choice.
func columnsOf(rows []model.Row) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, row := range rows {
		for k := range row {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}
