package excel

import (
	"fmt"
	"strconv"

	"patchcert/domain/verdict"
	"patchcert/internal/batch"
)

// Table is a header row plus string-valued data rows, the common shape of
// both export formats.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Sheet names used in workbooks.
const (
	ResultsSheet = "Results"
	SummarySheet = "Summary"
)

var resultHeaders = []string{
	"sample_id", "label", "status", "lower", "upper", "margin", "competitor", "predicted", "clean_label",
}

// ResultsTable lays out one row per certified sample, in run order.
func ResultsTable(run *batch.Run) *Table {
	t := &Table{Headers: resultHeaders, Rows: make([][]string, 0, len(run.Results))}
	for _, r := range run.Results {
		v := r.Verdict
		t.Rows = append(t.Rows, []string{
			r.SampleID.String(),
			strconv.Itoa(r.Label),
			string(v.Status),
			fToStr(v.Lower),
			fToStr(v.Upper),
			fToStr(v.Margin()),
			strconv.Itoa(v.Competitor),
			strconv.Itoa(r.Predicted),
			strconv.Itoa(v.CleanLabel),
		})
	}
	return t
}

// SummaryTable lays out run metadata and aggregate metrics as key/value rows.
func SummaryTable(run *batch.Run) *Table {
	t := &Table{Headers: []string{"metric", "value"}}
	add := func(k, v string) { t.Rows = append(t.Rows, []string{k, v}) }

	add("run_id", run.ID.String())
	add("fingerprint", run.Fingerprint.String())
	add("model", string(run.Model))
	add("window", run.Window.String())
	add("stopped", strconv.FormatBool(run.Stopped))

	s := run.Summary
	if s == nil {
		return t
	}
	add("samples", strconv.Itoa(s.Samples))
	add("failed", strconv.Itoa(s.Failed))
	for _, status := range verdict.AllStatuses {
		add("count_"+string(status), strconv.Itoa(s.Counts[status]))
	}
	add("certified_accuracy", fToStr(s.CertifiedAccuracy))
	add("certified_ci_low", fToStr(s.CertifiedInterval.Low))
	add("certified_ci_high", fToStr(s.CertifiedInterval.High))
	add("robust_accuracy", fToStr(s.RobustAccuracy))
	add("clean_accuracy", fToStr(s.CleanAccuracy))
	add("undefended_accuracy", fToStr(s.UndefendedAccuracy))
	add("margin_mean", fToStr(s.Margin.Mean))
	add("margin_median", fToStr(s.Margin.Median))
	add("margin_std", fToStr(s.Margin.StdDev))
	for _, status := range verdict.AllStatuses {
		for _, cb := range s.ClassBounds[status] {
			prefix := fmt.Sprintf("class_%d_%s", cb.Class, status)
			add(prefix+"_count", strconv.Itoa(cb.Count))
			add(prefix+"_mean_lower", fToStr(cb.MeanLower))
			add(prefix+"_mean_upper", fToStr(cb.MeanUpper))
		}
	}
	return t
}

func fToStr(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
