// Package ingest parses uploaded marketing artifacts into uniform rows plus
// a summary map. The summary is what gets persisted on the artifact record:
// its "rows" key carries the full parsed row set for schema detection, and
// the rest of the keys describe the file for feature extraction.
package ingest

import (
	"bytes"
	"fmt"
	"mime"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/adronaut/strategy-cli/internal/model"
)

const sampleRows = 3

// Column-name keywords that flag marketing-relevant data, by category.
var marketingColumns = map[string][]string{
	"revenue":     {"revenue", "sales", "amount", "price", "cost"},
	"metrics":     {"clicks", "impressions", "views", "conversions", "ctr", "cpc", "cpm", "roas"},
	"demographic": {"age", "gender", "location", "region", "country"},
	"temporal":    {"date", "time", "timestamp", "created_at", "month", "week"},
}

// Process extracts a summary from an uploaded artifact. Parse failures do
// not fail the upload: the artifact is still stored, with the error recorded
// in its summary and no rows contributed.
func Process(filename, mimeType string, data []byte) map[string]any {
	var summary map[string]any
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		header, rows, err := parseCSV(data)
		if err != nil {
			summary = errorSummary("csv", err)
			break
		}
		summary = tableSummary("csv", header, rows)
	case ".xlsx":
		header, rows, err := parseXLSX(data)
		if err != nil {
			summary = errorSummary("xlsx", err)
			break
		}
		summary = tableSummary("xlsx", header, rows)
	case ".json":
		summary = jsonSummary(data)
	default:
		summary = genericSummary(mimeType, data)
	}

	zap.L().Info("artifact processed",
		zap.String("filename", filename),
		zap.String("file_type", fmt.Sprint(summary["file_type"])),
		zap.Int("rows", rowCount(summary)))
	return summary
}

// DetectMIME maps a filename to its MIME type, preferring the built-in
// table over the platform registry so artifact records stay consistent
// across hosts.
func DetectMIME(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if m, ok := extMIME[ext]; ok {
		return m
	}
	if m := mime.TypeByExtension(ext); m != "" {
		return m
	}
	return "application/octet-stream"
}

var extMIME = map[string]string{
	".csv":  "text/csv",
	".json": "application/json",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pdf":  "application/pdf",
	".txt":  "text/plain",
}

// tableSummary builds the summary for a parsed tabular artifact.
func tableSummary(fileType string, columns []string, rows []model.Row) map[string]any {
	sample := rows
	if len(sample) > sampleRows {
		sample = sample[:sampleRows]
	}

	return map[string]any{
		"file_type":          fileType,
		"row_count":          len(rows),
		"columns":            columns,
		"column_count":       len(columns),
		"sample_data":        sample,
		"identified_columns": identifyColumns(columns),
		"summary":            fmt.Sprintf("%d rows, %d columns (%s)", len(rows), len(columns), strings.Join(columns, ", ")),
		"rows":               rows,
	}
}

func errorSummary(fileType string, err error) map[string]any {
	return map[string]any{
		"file_type": fileType,
		"error":     err.Error(),
	}
}

// genericSummary covers unsupported extensions: the artifact is stored raw
// with a text preview when the content reads as text.
func genericSummary(mimeType string, data []byte) map[string]any {
	preview := data
	if len(preview) > 1000 {
		preview = preview[:1000]
	}

	isText := utf8.Valid(preview)
	summary := map[string]any{
		"file_type":  "generic",
		"mime":       mimeType,
		"size_bytes": len(data),
		"is_text":    isText,
		"summary":    fmt.Sprintf("unparsed %s file, %d bytes", mimeType, len(data)),
	}
	if isText {
		summary["text_preview"] = string(preview)
	}
	return summary
}

// identifyColumns buckets column names into marketing categories by keyword
// match. Every category is present even when empty.
func identifyColumns(columns []string) map[string][]string {
	identified := make(map[string][]string, len(marketingColumns))
	for category, keywords := range marketingColumns {
		matched := []string{}
		for _, col := range columns {
			lower := strings.ToLower(col)
			for _, keyword := range keywords {
				if strings.Contains(lower, keyword) {
					matched = append(matched, col)
					break
				}
			}
		}
		identified[category] = matched
	}
	return identified
}

// typedCell converts a raw cell into a number when it parses as one.
// Decorated figures like "$1,200" stay strings; downstream numeric parsing
// handles those.
func typedCell(s string) any {
	trimmed := strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(trimmed, 64); err == nil {
		return f
	}
	return trimmed
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText strips a UTF-8 BOM and re-decodes non-UTF-8 content as
// windows-1252, the usual encoding of spreadsheet exports that are not
// already UTF-8. Undecodable content passes through unchanged and surfaces
// as a parse error instead.
func decodeText(data []byte) []byte {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return data
	}

	enc, err := htmlindex.Get("windows-1252")
	if err != nil {
		return data
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return data
	}
	return decoded
}

func rowCount(summary map[string]any) int {
	if n, ok := summary["row_count"].(int); ok {
		return n
	}
	return 0
}
