package excel

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"patchcert/domain/verdict"

	"github.com/xuri/excelize/v2"
)

// ReadTable reads the first row of sheet as headers and the rest as data. For
// CSV files sheet is ignored.
func ReadTable(path, sheet string) (*Table, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("table file not found: %s", path)
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		rows, err = csv.NewReader(f).ReadAll()
		if err != nil {
			return nil, fmt.Errorf("failed to parse CSV: %w", err)
		}
	default:
		f, err := excelize.OpenFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open Excel file: %w", err)
		}
		defer f.Close()
		rows, err = f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("failed to read sheet %s: %w", sheet, err)
		}
	}

	if len(rows) == 0 {
		return &Table{}, nil
	}
	return &Table{Headers: rows[0], Rows: rows[1:]}, nil
}

// CountStatuses tallies the status column of an exported results table.
func CountStatuses(t *Table) (map[verdict.Status]int, error) {
	col := -1
	for i, h := range t.Headers {
		if h == "status" {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("results table has no status column")
	}

	counts := make(map[verdict.Status]int, len(verdict.AllStatuses))
	for _, status := range verdict.AllStatuses {
		counts[status] = 0
	}
	for i, row := range t.Rows {
		if col >= len(row) {
			return nil, fmt.Errorf("row %d has no status", i+2)
		}
		status := verdict.Status(row[col])
		if _, ok := counts[status]; !ok {
			return nil, fmt.Errorf("row %d: unknown status %q", i+2, row[col])
		}
		counts[status]++
	}
	return counts, nil
}
