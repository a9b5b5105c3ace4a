package ingest

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/adronaut/strategy-cli/internal/model"
)

// parseXLSX reads the first sheet with the first row as header.
func parseXLSX(data []byte) ([]string, []model.Row, error) {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, nil, eris.New("ingest: xlsx has no sheets")
	}

	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return nil, nil, eris.Errorf("ingest: xlsx sheet %q is empty", sheet.Name)
	}

	header := make([]string, len(sheet.Rows[0].Cells))
	for i, cell := range sheet.Rows[0].Cells {
		header[i] = strings.TrimSpace(cell.String())
	}

	rows := make([]model.Row, 0, len(sheet.Rows)-1)
	for _, r := range sheet.Rows[1:] {
		row := make(model.Row, len(header))
		for i, cell := range r.Cells {
			if i >= len(header) || header[i] == "" {
				continue
			}
			value := strings.TrimSpace(cell.String())
			if value == "" {
				continue
			}
			row[header[i]] = typedCell(value)
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	return header, rows, nil
}
