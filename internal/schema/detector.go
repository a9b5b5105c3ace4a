package schema

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/adronaut/strategy-cli/internal/model"
)

// Outlier threshold: 2x the peer average, measured with a 2.5% tolerance.
const (
	outlierRatio     = 2.0
	outlierTolerance = 0.975
)

// Fraction of a column's values that must parse as numbers before it is
// considered a metric at all.
const numericThreshold = 0.7

// Detect classifies the columns of a uniform row set and surfaces quantified
// opportunities. Empty input yields a fixed empty schema, never an error.
func Detect(rows []model.Row) model.TableSchema {
	if len(rows) == 0 {
		zap.L().Warn("no rows provided for schema detection")
		return emptySchema()
	}

	columns, lowerToOrig := collectColumns(rows)

	schema := emptySchema()
	schema.RowCount = len(rows)

	for _, col := range columns {
		values := columnValues(rows, col)
		switch classifyColumn(col, values, lowerToOrig) {
		case model.ColumnIdentifier:
			schema.Identifiers = append(schema.Identifiers, col)
		case model.ColumnDimension:
			schema.Dimensions = append(schema.Dimensions, col)
		case model.ColumnEfficiency:
			schema.Metrics.Efficiency = append(schema.Metrics.Efficiency, col)
		case model.ColumnCost:
			schema.Metrics.Cost = append(schema.Metrics.Cost, col)
		case model.ColumnVolume:
			schema.Metrics.Volume = append(schema.Metrics.Volume, col)
		case model.ColumnComparative:
			schema.Metrics.Comparative = append(schema.Metrics.Comparative, col)
		default:
			schema.Unclassified = append(schema.Unclassified, col)
		}
	}

	schema.PrimaryDimension = primaryDimension(schema.Dimensions, rows)
	schema.Opportunities = detectOpportunities(rows, schema)

	zap.L().Info("schema detected",
		zap.String("primary_dimension", schema.PrimaryDimension),
		zap.Int("rows", schema.RowCount),
		zap.Int("dimensions", len(schema.Dimensions)),
		zap.Int("efficiency_metrics", len(schema.Metrics.Efficiency)),
		zap.Int("cost_metrics", len(schema.Metrics.Cost)),
		zap.Int("volume_metrics", len(schema.Metrics.Volume)),
		zap.Int("opportunities", len(schema.Opportunities)))

	return schema
}

func emptySchema() model.TableSchema {
	return model.TableSchema{
		PrimaryDimension: "row",
		Dimensions:       []string{},
		Identifiers:      []string{},
		Metrics: model.MetricGroups{
			Efficiency:  []string{},
			Cost:        []string{},
			Volume:      []string{},
			Comparative: []string{},
		},
		Unclassified:  []string{},
		Opportunities: []model.Opportunity{},
	}
}

// collectColumns gathers every column name across rows, sorted, plus a
// lowercase index used for comparative-partner lookups.
func collectColumns(rows []model.Row) ([]string, map[string]string) {
	seen := make(map[string]bool)
	lower := make(map[string]string)
	var cols []string
	for _, row := range rows {
		for col := range row {
			if !seen[col] {
				seen[col] = true
				lower[strings.ToLower(col)] = col
				cols = append(cols, col)
			}
		}
	}
	sort.Strings(cols)
	return cols, lower
}

// columnValues extracts the non-empty values of one column.
func columnValues(rows []model.Row, col string) []any {
	var values []any
	for _, row := range rows {
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		values = append(values, v)
	}
	return values
}

// classifyColumn applies the rule tables in priority order.
func classifyColumn(col string, values []any, lowerToOrig map[string]string) model.ColumnClass {
	if len(values) == 0 {
		return model.ColumnUnknown
	}

	if _, ok := matchRules(identifierRules, col); ok {
		return model.ColumnIdentifier
	}

	numeric := numericValues(values)
	if float64(len(numeric)) > float64(len(values))*numericThreshold {
		if class, ok := matchRules(metricNameRules, col); ok {
			return class
		}
		if _, ok := comparativePartner(col, lowerToOrig); ok {
			return model.ColumnComparative
		}
		if len(numeric) > 0 {
			avg := mean(numeric)
			// Metrics bounded near 0-100 read as rates and scores; large
			// maxima read as raw counts.
			if avg >= 0 && avg <= 100 && boundedBy(numeric, 0, 1000, 20) {
				return model.ColumnEfficiency
			}
			if maxOf(numeric) > 1000 {
				return model.ColumnVolume
			}
		}
	}

	if _, ok := matchRules(dimensionRules, col); ok {
		return model.ColumnDimension
	}

	if cardinalityRatio(values) < 0.5 {
		return model.ColumnDimension
	}

	return model.ColumnUnknown
}

// comparativePartner finds the column this one pairs with by swapping a
// comparative prefix, in either direction. The swap and lookup are done on
// lowercased names so capitalization differences do not break the match.
func comparativePartner(col string, lowerToOrig map[string]string) (string, bool) {
	lower := strings.ToLower(col)
	for _, pair := range comparativePairs {
		for _, dir := range [2][2]string{{pair.first, pair.second}, {pair.second, pair.first}} {
			from, to := dir[0], dir[1]
			if !strings.Contains(lower, from) {
				continue
			}
			partner := strings.Replace(lower, from, to, 1)
			if partner == lower {
				continue
			}
			if orig, ok := lowerToOrig[partner]; ok {
				return orig, true
			}
		}
	}
	return "", false
}

// numericValues extracts parseable numbers from a mixed-type value list.
func numericValues(values []any) []float64 {
	var out []float64
	for _, v := range values {
		if f, ok := parseNumeric(v); ok {
			out = append(out, f)
		}
	}
	return out
}

var numericCleaner = strings.NewReplacer("%", "", "$", "", ",", "")

// parseNumeric converts a cell to a float, tolerating "%", "$", and ","
// decorations. Signed "+" strings stay non-numeric so delta annotations
// like "+15%" never count toward metric stats.
func parseNumeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		clean := strings.TrimSpace(numericCleaner.Replace(n))
		if clean == "" || strings.Contains(clean, "+") {
			return 0, false
		}
		f, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func maxOf(values []float64) float64 {
	m := values[0]
	for _, v := range values[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// boundedBy reports whether the first n values all fall inside [lo, hi].
func boundedBy(values []float64, lo, hi float64, n int) bool {
	if len(values) < n {
		n = len(values)
	}
	for _, v := range values[:n] {
		if v < lo || v > hi {
			return false
		}
	}
	return true
}

// cardinalityRatio is the fraction of values that are unique.
func cardinalityRatio(values []any) float64 {
	if len(values) == 0 {
		return 0
	}
	unique := make(map[string]bool, len(values))
	for _, v := range values {
		unique[fmt.Sprint(v)] = true
	}
	return float64(len(unique)) / float64(len(values))
}

// primaryDimension picks the grouping key for downstream analysis: a
// keyword column if present, else a campaign column, else the dimension
// with the most distinct values.
func primaryDimension(dimensions []string, rows []model.Row) string {
	if len(dimensions) == 0 {
		return "row"
	}

	for _, dim := range dimensions {
		if strings.Contains(strings.ToLower(dim), "keyword") {
			return dim
		}
	}
	for _, dim := range dimensions {
		if strings.Contains(strings.ToLower(dim), "campaign") {
			return dim
		}
	}

	best := dimensions[0]
	bestCount := -1
	for _, dim := range dimensions {
		unique := make(map[string]bool)
		for _, row := range rows {
			v, ok := row[dim]
			if !ok || v == nil {
				continue
			}
			s := fmt.Sprint(v)
			if s == "" {
				continue
			}
			unique[s] = true
		}
		if len(unique) > bestCount {
			best = dim
			bestCount = len(unique)
		}
	}
	return best
}

// detectOpportunities scans for systematic comparative gaps and efficiency
// outliers worth scaling.
func detectOpportunities(rows []model.Row, schema model.TableSchema) []model.Opportunity {
	opportunities := []model.Opportunity{}
	opportunities = append(opportunities, comparativeGaps(rows, schema.Metrics.Comparative)...)
	opportunities = append(opportunities, outlierScaling(rows, schema)...)
	return opportunities
}

// comparativeGaps computes the mean percentage gap between each comparative
// column and its partner. Only the forward direction of a pair emits a
// record, so each pairing is reported once.
func comparativeGaps(rows []model.Row, comparative []string) []model.Opportunity {
	var out []model.Opportunity
	for _, metric := range comparative {
		partner := ""
		metricLower := strings.ToLower(metric)
		for _, other := range comparative {
			if other == metric {
				continue
			}
			otherLower := strings.ToLower(other)
			for _, pair := range comparativePairs {
				if strings.Contains(metricLower, pair.first) && strings.Contains(otherLower, pair.second) {
					partner = other
					break
				}
			}
			if partner != "" {
				break
			}
		}
		if partner == "" {
			continue
		}

		var gaps []float64
		for _, row := range rows {
			v1, ok1 := parseNumeric(row[metric])
			v2, ok2 := parseNumeric(row[partner])
			if !ok1 || !ok2 || v2 == 0 {
				continue
			}
			gaps = append(gaps, (v1-v2)/v2*100)
		}
		if len(gaps) == 0 {
			continue
		}

		avgGap := mean(gaps)
		out = append(out, model.Opportunity{
			Type:          model.OpportunityComparativeGap,
			Description:   fmt.Sprintf("%s vs %s: avg gap %.1f%%", metric, partner, avgGap),
			Magnitude:     abs(avgGap),
			AffectedCount: len(gaps),
		})
	}
	return out
}

// outlierScaling flags efficiency metrics whose top performer runs at
// roughly twice the average of its peers.
func outlierScaling(rows []model.Row, schema model.TableSchema) []model.Opportunity {
	var out []model.Opportunity
	for _, metric := range schema.Metrics.Efficiency {
		var values []float64
		topVal := 0.0
		topLabel := ""
		for _, row := range rows {
			v, ok := parseNumeric(row[metric])
			if !ok {
				continue
			}
			values = append(values, v)
			if v > topVal {
				topVal = v
				topLabel = rowLabel(row, metric, schema.PrimaryDimension)
			}
		}
		if len(values) < 2 {
			continue
		}

		var peerSum float64
		for _, v := range values {
			peerSum += v
		}
		peerAvg := (peerSum - topVal) / float64(len(values)-1)
		if peerAvg <= 0 {
			continue
		}

		ratio := topVal / peerAvg
		if ratio < outlierRatio*outlierTolerance {
			continue
		}

		desc := fmt.Sprintf("%s: top performer at %.2f vs peer avg %.2f (%.1fx)", metric, topVal, peerAvg, ratio)
		if topLabel != "" {
			desc = fmt.Sprintf("%s: '%s' at %.2f vs peer avg %.2f (%.1fx)", metric, topLabel, topVal, peerAvg, ratio)
		}
		out = append(out, model.Opportunity{
			Type:          model.OpportunityOutlierScaling,
			Description:   desc,
			Magnitude:     ratio,
			AffectedCount: 1,
		})
	}
	return out
}

// rowLabel returns the row's primary-dimension value, or its first string
// value by sorted key as a stable fallback.
func rowLabel(row model.Row, exclude, primaryDim string) string {
	if v, ok := row[primaryDim]; ok {
		if s, isStr := v.(string); isStr && s != "" {
			return s
		}
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == exclude || k == primaryDim {
			continue
		}
		if s, isStr := row[k].(string); isStr && s != "" {
			return s
		}
	}
	return ""
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
