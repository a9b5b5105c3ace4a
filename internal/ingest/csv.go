package ingest

import (
	"bytes"
	"encoding/csv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/adronaut/strategy-cli/internal/model"
)

// parseCSV reads the whole file with the first record as header. Blank
// records are dropped and blank cells are omitted from their row rather
// than stored as empty strings.
func parseCSV(data []byte) ([]string, []model.Row, error) {
	reader := csv.NewReader(bytes.NewReader(decodeText(data)))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: read csv")
	}
	if len(records) == 0 {
		return nil, nil, eris.New("ingest: csv file is empty")
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.TrimSpace(h)
	}

	rows := make([]model.Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(model.Row, len(header))
		for i, col := range header {
			if col == "" || i >= len(record) {
				continue
			}
			if strings.TrimSpace(record[i]) == "" {
				continue
			}
			row[col] = typedCell(record[i])
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return header, rows, nil
}
