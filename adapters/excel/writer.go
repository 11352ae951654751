package excel

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"patchcert/internal/batch"
	"patchcert/internal/errors"

	"github.com/xuri/excelize/v2"
)

// Export writes run to path. A .csv path gets the results table only; any
// other extension gets an .xlsx workbook with Results and Summary sheets.
func Export(path string, run *batch.Run) error {
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		err = WriteCSV(path, ResultsTable(run))
	case ".xlsx", "":
		err = WriteXLSX(path, map[string]*Table{
			ResultsSheet: ResultsTable(run),
			SummarySheet: SummaryTable(run),
		}, []string{ResultsSheet, SummarySheet})
	default:
		err = fmt.Errorf("unsupported export format %q", filepath.Ext(path))
	}
	if err != nil {
		return errors.ExportError(path, err)
	}
	return nil
}

// WriteCSV writes t to path.
func WriteCSV(path string, t *Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return err
	}
	return w.Error()
}

// WriteXLSX writes each table to its own sheet, in order. The first column is
// an identifier and always stored as text; finite numeric-looking cells in
// other columns are stored as numbers so spreadsheets can aggregate them.
func WriteXLSX(path string, tables map[string]*Table, order []string) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, sheet := range order {
		t, ok := tables[sheet]
		if !ok {
			continue
		}
		if i == 0 {
			if err := f.SetSheetName("Sheet1", sheet); err != nil {
				return err
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return err
		}

		for c, h := range t.Headers {
			cell, _ := excelize.CoordinatesToCellName(c+1, 1)
			if err := f.SetCellValue(sheet, cell, h); err != nil {
				return err
			}
		}
		for r, row := range t.Rows {
			for c, v := range row {
				cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
				var value interface{} = v
				if n, err := strconv.ParseFloat(v, 64); err == nil && c > 0 && !math.IsInf(n, 0) && !math.IsNaN(n) {
					value = n
				}
				if err := f.SetCellValue(sheet, cell, value); err != nil {
					return err
				}
			}
		}
	}
	f.SetActiveSheet(0)
	return f.SaveAs(path)
}
