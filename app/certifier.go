package app

import (
	"math"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"

	"gonum.org/v1/gonum/floats"
)

// Certify turns a bound table into a verdict for trueLabel.
//
// The input is certified robust when the true label's worst-case support
// strictly exceeds every competitor's best-case support. Otherwise it is
// vulnerable if the clean aggregate still predicts trueLabel, and incorrect if
// it does not.
func Certify(bounds *verdict.BoundTable, trueLabel int) (verdict.Verdict, error) {
	classes := bounds.Classes()
	if classes < 2 {
		return verdict.Verdict{}, core.ErrTooFewClasses
	}
	if trueLabel < 0 || trueLabel >= classes {
		return verdict.Verdict{}, core.NewLabelError(trueLabel, classes)
	}

	competitor, strongest := -1, math.Inf(-1)
	for c, upper := range bounds.Upper {
		if c != trueLabel && upper > strongest {
			competitor, strongest = c, upper
		}
	}

	v := verdict.Verdict{
		TrueLabel:  trueLabel,
		Lower:      bounds.Lower[trueLabel],
		Upper:      strongest,
		Competitor: competitor,
		CleanLabel: CleanPrediction(bounds),
		Bounds:     bounds,
	}
	switch {
	case v.Lower > v.Upper:
		v.Status = verdict.StatusCertifiedRobust
	case v.CleanLabel == trueLabel:
		v.Status = verdict.StatusVulnerable
	default:
		v.Status = verdict.StatusIncorrect
	}
	return v, nil
}

// Predict returns the class with the highest worst-case support, ties going
// to the lowest class index. Whenever Certify reports certified_robust for a
// label, Predict returns that label.
func Predict(bounds *verdict.BoundTable) int {
	return floats.MaxIdx(bounds.Lower)
}

// CleanPrediction is the undefended prediction: the argmax of the clean
// aggregate, ties going to the lowest class index.
func CleanPrediction(bounds *verdict.BoundTable) int {
	return floats.MaxIdx(bounds.Clean)
}

// UndefendedPrediction is the classifier's own prediction with no defense: the
// argmax of the per-class mean score over all cells, ties going to the lowest
// class index. For the masking model this differs from CleanPrediction, which
// takes the majority of discretized votes.
func UndefendedPrediction(evidence *grid.Evidence) int {
	h, w, c := evidence.Dims()
	sum := make([]float64, c)
	for r := 0; r < h; r++ {
		for col := 0; col < w; col++ {
			floats.Add(sum, evidence.Cell(r, col))
		}
	}
	return floats.MaxIdx(sum)
}
