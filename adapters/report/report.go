package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"patchcert/domain/verdict"
	"patchcert/internal/batch"
	"patchcert/internal/errors"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// maxListed caps the per-sample rows listed under each status.
const maxListed = 20

// Markdown renders a human-readable run report.
func Markdown(run *batch.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Certification run %s\n\n", run.ID)
	fmt.Fprintf(&b, "- **Model:** %s\n", run.Model)
	fmt.Fprintf(&b, "- **Window:** %s cells\n", run.Window)
	fmt.Fprintf(&b, "- **Fingerprint:** `%s`\n", run.Fingerprint.Short())
	if !run.StartedAt.IsZero() {
		fmt.Fprintf(&b, "- **Duration:** %v\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}
	if run.Stopped {
		b.WriteString("- **Stopped early:** decisive sample limit reached\n")
	}
	b.WriteString("\n")

	s := run.Summary
	if s == nil {
		b.WriteString("_No summary available._\n")
		return b.String()
	}

	b.WriteString("## Accuracy\n\n")
	b.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Samples | %d |\n", s.Samples)
	fmt.Fprintf(&b, "| Failed | %d |\n", s.Failed)
	fmt.Fprintf(&b, "| Certified accuracy | %.2f%% (95%% CI %.2f%% to %.2f%%) |\n",
		100*s.CertifiedAccuracy, 100*s.CertifiedInterval.Low, 100*s.CertifiedInterval.High)
	fmt.Fprintf(&b, "| Robust accuracy | %.2f%% |\n", 100*s.RobustAccuracy)
	fmt.Fprintf(&b, "| Clean accuracy | %.2f%% |\n", 100*s.CleanAccuracy)
	fmt.Fprintf(&b, "| Undefended accuracy | %.2f%% |\n", 100*s.UndefendedAccuracy)
	b.WriteString("\n")

	b.WriteString("## Verdicts\n\n")
	b.WriteString("| Status | Count |\n|---|---|\n")
	for _, status := range verdict.AllStatuses {
		fmt.Fprintf(&b, "| %s | %d |\n", status, s.Counts[status])
	}
	b.WriteString("\n")

	if s.Samples > 0 {
		b.WriteString("## Margin\n\n")
		b.WriteString("| Mean | Std | Median | P5 | P95 |\n|---|---|---|---|---|\n")
		fmt.Fprintf(&b, "| %.3f | %.3f | %.3f | %.3f | %.3f |\n\n",
			s.Margin.Mean, s.Margin.StdDev, s.Margin.Median, s.Margin.P5, s.Margin.P95)
	}

	for _, status := range verdict.AllStatuses {
		rows := s.ClassBounds[status]
		if len(rows) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### Mean bounds per class: %s\n\n", status)
		b.WriteString("| Class | Count | Mean lower | Mean upper |\n|---|---|---|---|\n")
		for _, cb := range rows {
			fmt.Fprintf(&b, "| %d | %d | %.3f | %.3f |\n", cb.Class, cb.Count, cb.MeanLower, cb.MeanUpper)
		}
		b.WriteString("\n")
	}

	writeSamples(&b, run, verdict.StatusVulnerable)

	if len(run.Failures) > 0 {
		b.WriteString("## Failures\n\n")
		b.WriteString("| Sample | Code | Error |\n|---|---|---|\n")
		for i, f := range run.Failures {
			if i == maxListed {
				fmt.Fprintf(&b, "\n_%d more not shown._\n", len(run.Failures)-maxListed)
				break
			}
			fmt.Fprintf(&b, "| %s | %s | %s |\n", f.SampleID, f.Code, escapeCell(fmt.Sprint(f.Err)))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeSamples(b *strings.Builder, run *batch.Run, status verdict.Status) {
	listed := 0
	for _, r := range run.Results {
		if r.Verdict.Status != status {
			continue
		}
		if listed == 0 {
			fmt.Fprintf(b, "## %s samples\n\n", strings.ToUpper(string(status)[:1])+string(status)[1:])
			b.WriteString("| Sample | Label | Lower | Competitor | Upper | Margin |\n|---|---|---|---|---|---|\n")
		}
		if listed == maxListed {
			b.WriteString("\n_More not shown._\n")
			break
		}
		v := r.Verdict
		fmt.Fprintf(b, "| %s | %d | %g | %d | %g | %g |\n", r.SampleID, r.Label, v.Lower, v.Competitor, v.Upper, v.Margin())
		listed++
	}
	if listed > 0 {
		b.WriteString("\n")
	}
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

// HTML renders the Markdown report as a standalone HTML page.
func HTML(run *batch.Run) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.Tables)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.CompletePage,
		Title: fmt.Sprintf("Certification run %s", run.ID),
	})
	return markdown.ToHTML([]byte(Markdown(run)), p, renderer)
}

// Write saves the report to path as HTML for .html/.htm and Markdown
// otherwise.
func Write(path string, run *batch.Run) error {
	var data []byte
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		data = HTML(run)
	default:
		data = []byte(Markdown(run))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.ExportError(path, err)
	}
	return nil
}
