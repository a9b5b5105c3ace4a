package schema

import (
	"fmt"
	"strings"

	"github.com/adronaut/strategy-cli/internal/model"
)

// BuildDictionary renders the schema as a markdown data dictionary for
// prompt construction: per-metric range, average, and top performer, plus
// any detected opportunities.
func BuildDictionary(schema model.TableSchema, rows []model.Row) string {
	var parts []string

	parts = append(parts, "## Data Structure\n")
	parts = append(parts, fmt.Sprintf("Dataset: %d rows", schema.RowCount))
	parts = append(parts, fmt.Sprintf("Primary dimension: %s\n", schema.PrimaryDimension))

	if len(schema.Metrics.Efficiency) > 0 {
		parts = append(parts, "### Efficiency Metrics (higher = better):")
		for _, metric := range schema.Metrics.Efficiency {
			parts = append(parts, fmt.Sprintf("- **%s**: %s", metric, metricStats(metric, rows, schema.PrimaryDimension)))
		}
		parts = append(parts, "")
	}

	if len(schema.Metrics.Cost) > 0 {
		parts = append(parts, "### Cost Metrics (lower = better):")
		for _, metric := range schema.Metrics.Cost {
			parts = append(parts, fmt.Sprintf("- **%s**: %s", metric, metricStats(metric, rows, schema.PrimaryDimension)))
		}
		parts = append(parts, "")
	}

	if len(schema.Metrics.Volume) > 0 {
		parts = append(parts, "### Volume Metrics:")
		for _, metric := range schema.Metrics.Volume {
			parts = append(parts, fmt.Sprintf("- **%s**: %s", metric, metricStats(metric, rows, schema.PrimaryDimension)))
		}
		parts = append(parts, "")
	}

	if len(schema.Opportunities) > 0 {
		parts = append(parts, "### Opportunities Detected:")
		for _, opp := range schema.Opportunities {
			parts = append(parts, fmt.Sprintf("- %s", opp.Description))
		}
		parts = append(parts, "")
	}

	return strings.Join(parts, "\n")
}

// metricStats summarizes one metric column as range, average, and the
// dimension value of its best row.
func metricStats(metric string, rows []model.Row, primaryDim string) string {
	var values []float64
	topVal := 0.0
	topPerformer := ""

	for _, row := range rows {
		v, ok := parseNumeric(row[metric])
		if !ok {
			continue
		}
		values = append(values, v)
		if topPerformer == "" || v > topVal {
			topVal = v
			topPerformer = rowLabel(row, metric, primaryDim)
		}
	}

	if len(values) == 0 {
		return "insufficient data"
	}

	result := fmt.Sprintf("range %.2f-%.2f, avg %.2f", minOf(values), maxOf(values), mean(values))
	if topPerformer != "" && topVal != 0 {
		result += fmt.Sprintf(", top: '%s' (%.2f)", topPerformer, topVal)
	}
	return result
}

func minOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v < m {
			m = v
		}
	}
	return m
}
