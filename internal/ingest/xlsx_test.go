package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/adronaut/strategy-cli/internal/model"
)

func xlsxBytes(t *testing.T, sheets map[string][][]string) []byte {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "artifact.xlsx")
	require.NoError(t, f.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

func TestProcessXLSX(t *testing.T) {
	t.Parallel()

	data := xlsxBytes(t, map[string][][]string{
		"Campaigns": {
			{"campaign", "roas", "spend"},
			{"Running Shoes", "6.99", "1200"},
			{"Casual Wear", "3.1", "950"},
		},
	})

	summary := Process("campaigns.xlsx", DetectMIME("campaigns.xlsx"), data)

	assert.Equal(t, "xlsx", summary["file_type"])
	assert.Equal(t, 2, summary["row_count"])
	assert.Equal(t, []string{"campaign", "roas", "spend"}, summary["columns"])

	rows, ok := summary["rows"].([]model.Row)
	require.True(t, ok)
	assert.Equal(t, "Running Shoes", rows[0]["campaign"])
	assert.Equal(t, 6.99, rows[0]["roas"])
	assert.Equal(t, 1200.0, rows[0]["spend"])
}

func TestProcessXLSXSkipsBlankRows(t *testing.T) {
	t.Parallel()

	data := xlsxBytes(t, map[string][][]string{
		"Sheet1": {
			{"campaign", "roas"},
			{"Shoes", "6.99"},
			{"", ""},
			{"Bags", ""},
		},
	})

	summary := Process("sparse.xlsx", DetectMIME("sparse.xlsx"), data)

	rows, ok := summary["rows"].([]model.Row)
	require.True(t, ok)
	require.Len(t, rows, 2)
	assert.Equal(t, "Bags", rows[1]["campaign"])
	_, present := rows[1]["roas"]
	assert.False(t, present)
}

func TestProcessXLSXEmptySheet(t *testing.T) {
	t.Parallel()

	data := xlsxBytes(t, map[string][][]string{"Sheet1": {}})

	summary := Process("empty.xlsx", DetectMIME("empty.xlsx"), data)

	assert.Equal(t, "xlsx", summary["file_type"])
	assert.Contains(t, summary["error"], "empty")
	assert.NotContains(t, summary, "rows")
}

func TestProcessXLSXNotASpreadsheet(t *testing.T) {
	t.Parallel()

	summary := Process("fake.xlsx", DetectMIME("fake.xlsx"), []byte("this is not a zip archive"))

	assert.Equal(t, "xlsx", summary["file_type"])
	assert.NotEmpty(t, summary["error"])
}
