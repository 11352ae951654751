package batch

import (
	"math"

	"patchcert/domain/verdict"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat/distuv"
)

// Interval is a two-sided confidence interval on a proportion.
type Interval struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Spread summarizes a sample of real values.
type Spread struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Median float64 `json:"median"`
	P5     float64 `json:"p5"`
	P95    float64 `json:"p95"`
}

// ClassBound is the mean true-label lower bound and competitor upper bound for
// samples of one class sharing one status.
type ClassBound struct {
	Class     int     `json:"class"`
	Count     int     `json:"count"`
	MeanLower float64 `json:"mean_lower"`
	MeanUpper float64 `json:"mean_upper"`
}

// Summary aggregates a run's per-sample outcomes.
//
// CleanAccuracy scores the argmax of the unattacked aggregate the defense
// reasons about (the vote majority under masking, the score sum under
// clipping). UndefendedAccuracy scores the classifier itself: the argmax of
// the mean cell scores.
type Summary struct {
	Samples            int                             `json:"samples"`
	Failed             int                             `json:"failed"`
	Counts             map[verdict.Status]int          `json:"counts"`
	CertifiedAccuracy  float64                         `json:"certified_accuracy"`
	CertifiedInterval  Interval                        `json:"certified_interval"`
	RobustAccuracy     float64                         `json:"robust_accuracy"`
	CleanAccuracy      float64                         `json:"clean_accuracy"`
	UndefendedAccuracy float64                         `json:"undefended_accuracy"`
	Margin             Spread                          `json:"margin"`
	ClassBounds        map[verdict.Status][]ClassBound `json:"class_bounds"`
}

// Confidence level of CertifiedInterval.
const confidenceLevel = 0.95

// Summarize aggregates results over `classes` classes. Failed samples only
// count towards Failed.
func Summarize(results []SampleResult, failed int, classes int) *Summary {
	s := &Summary{
		Samples:     len(results),
		Failed:      failed,
		Counts:      make(map[verdict.Status]int, len(verdict.AllStatuses)),
		ClassBounds: make(map[verdict.Status][]ClassBound, len(verdict.AllStatuses)),
	}
	for _, status := range verdict.AllStatuses {
		s.Counts[status] = 0
	}
	if len(results) == 0 {
		return s
	}

	type acc struct {
		n            int
		lower, upper float64
	}
	perClass := make(map[verdict.Status][]acc, len(verdict.AllStatuses))
	for _, status := range verdict.AllStatuses {
		perClass[status] = make([]acc, classes)
	}

	var robust, clean, undefended int
	margins := make([]float64, 0, len(results))
	for _, r := range results {
		v := r.Verdict
		s.Counts[v.Status]++
		if r.Predicted == r.Label {
			robust++
		}
		if v.CleanLabel == r.Label {
			clean++
		}
		if r.Undefended == r.Label {
			undefended++
		}
		margins = append(margins, v.Margin())

		if r.Label >= 0 && r.Label < classes {
			a := &perClass[v.Status][r.Label]
			a.n++
			a.lower += v.Lower
			a.upper += v.Upper
		}
	}

	n := float64(len(results))
	s.CertifiedAccuracy = float64(s.Counts[verdict.StatusCertifiedRobust]) / n
	s.RobustAccuracy = float64(robust) / n
	s.CleanAccuracy = float64(clean) / n
	s.UndefendedAccuracy = float64(undefended) / n
	s.CertifiedInterval = WilsonInterval(s.Counts[verdict.StatusCertifiedRobust], len(results), confidenceLevel)
	s.Margin = spreadOf(margins)

	for _, status := range verdict.AllStatuses {
		var rows []ClassBound
		for class, a := range perClass[status] {
			if a.n == 0 {
				continue
			}
			rows = append(rows, ClassBound{
				Class:     class,
				Count:     a.n,
				MeanLower: a.lower / float64(a.n),
				MeanUpper: a.upper / float64(a.n),
			})
		}
		s.ClassBounds[status] = rows
	}
	return s
}

// WilsonInterval returns the Wilson score interval for `successes` out of
// `n` trials at the given two-sided confidence level.
func WilsonInterval(successes, n int, level float64) Interval {
	if n == 0 {
		return Interval{Low: 0, High: 1}
	}
	z := distuv.UnitNormal.Quantile(1 - (1-level)/2)
	p := float64(successes) / float64(n)
	nf := float64(n)
	denom := 1 + z*z/nf
	center := (p + z*z/(2*nf)) / denom
	half := z * math.Sqrt(p*(1-p)/nf+z*z/(4*nf*nf)) / denom
	return Interval{Low: math.Max(0, center-half), High: math.Min(1, center+half)}
}

func spreadOf(values []float64) Spread {
	data := stats.Float64Data(values)
	mean, _ := stats.Mean(data)
	median, _ := stats.Median(data)
	p5, _ := stats.PercentileNearestRank(data, 5)
	p95, _ := stats.PercentileNearestRank(data, 95)
	var stdDev float64
	if len(values) > 1 {
		stdDev, _ = stats.StandardDeviationSample(data)
	}
	return Spread{Mean: mean, StdDev: stdDev, Median: median, P5: p5, P95: p95}
}
