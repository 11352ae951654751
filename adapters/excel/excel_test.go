package excel

import (
	"path/filepath"
	"testing"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/batch"
	"patchcert/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun() *batch.Run {
	results := []batch.SampleResult{
		{SampleID: "007", Label: 0, Predicted: 0, Verdict: verdict.Verdict{
			Status: verdict.StatusCertifiedRobust, Lower: 8, Upper: 1, Competitor: 1, CleanLabel: 0,
		}},
		{SampleID: "b", Label: 0, Predicted: 1, Verdict: verdict.Verdict{
			Status: verdict.StatusIncorrect, Lower: 0, Upper: 9.5, Competitor: 1, CleanLabel: 1,
		}},
	}
	return &batch.Run{
		ID:          core.NewRunID(),
		Fingerprint: core.ComputeParamsHash(map[string]interface{}{"model": "masking"}),
		Model:       verdict.ModelMasking,
		Window:      grid.Square(1),
		Results:     results,
		Summary:     batch.Summarize(results, 0, 2),
	}
}

func TestExport_XLSX(t *testing.T) {
	run := sampleRun()
	path := filepath.Join(t.TempDir(), "run.xlsx")
	require.NoError(t, Export(path, run))

	results, err := ReadTable(path, ResultsSheet)
	require.NoError(t, err)
	assert.Equal(t, resultHeaders, results.Headers)
	require.Len(t, results.Rows, 2)
	assert.Equal(t, "007", results.Rows[0][0], "ids stay text")
	assert.Equal(t, "certified_robust", results.Rows[0][2])
	assert.Equal(t, "9.5", results.Rows[1][4])
	assert.Equal(t, "-9.5", results.Rows[1][5])

	summary, err := ReadTable(path, SummarySheet)
	require.NoError(t, err)
	values := make(map[string]string, len(summary.Rows))
	for _, row := range summary.Rows {
		values[row[0]] = row[1]
	}
	assert.Equal(t, run.ID.String(), values["run_id"])
	assert.Equal(t, "1x1", values["window"])
	assert.Equal(t, "2", values["samples"])
	assert.Equal(t, "0.5", values["certified_accuracy"])
	assert.Equal(t, "1", values["count_incorrect"])

	counts, err := CountStatuses(results)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[verdict.StatusCertifiedRobust])
	assert.Equal(t, 1, counts[verdict.StatusIncorrect])
	assert.Zero(t, counts[verdict.StatusVulnerable])
	assert.Equal(t, "8", values["class_0_certified_robust_mean_lower"])
}

func TestExport_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.csv")
	require.NoError(t, Export(path, sampleRun()))

	table, err := ReadTable(path, "")
	require.NoError(t, err)
	assert.Equal(t, resultHeaders, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"b", "0", "incorrect", "0", "9.5", "-9.5", "1", "1", "1"}, table.Rows[1])
}

func TestExport_Errors(t *testing.T) {
	err := Export(filepath.Join(t.TempDir(), "run.pdf"), sampleRun())
	require.Error(t, err)
	assert.Equal(t, errors.CodeExportError, errors.GetCode(err))

	err = Export(filepath.Join(t.TempDir(), "missing", "run.csv"), sampleRun())
	assert.Equal(t, errors.CodeExportError, errors.GetCode(err))

	_, err = ReadTable(filepath.Join(t.TempDir(), "nope.xlsx"), ResultsSheet)
	assert.ErrorContains(t, err, "not found")

	_, err = CountStatuses(&Table{Headers: []string{"sample_id"}})
	assert.ErrorContains(t, err, "no status column")
	_, err = CountStatuses(&Table{Headers: resultHeaders, Rows: [][]string{{"a", "0", "robust-ish"}}})
	assert.ErrorContains(t, err, "unknown status")
}
