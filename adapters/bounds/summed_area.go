package bounds

import (
	"fmt"
	"math"

	"patchcert/domain/core"
	"patchcert/domain/grid"

	"gonum.org/v1/gonum/floats"
)

// Strategy selects how per-placement window sums are evaluated.
type Strategy int

const (
	// StrategySummedArea answers every window sum in O(1) from a per-class
	// summed-area table, O(H·W·C) per grid overall.
	StrategySummedArea Strategy = iota
	// StrategyNaive re-sums every window directly. Kept for cross-checking.
	StrategyNaive
)

// ParseStrategy maps a configured name to a Strategy; empty selects the
// summed-area default.
func ParseStrategy(name string) (Strategy, error) {
	switch name {
	case "", "summed_area":
		return StrategySummedArea, nil
	case "naive":
		return StrategyNaive, nil
	default:
		return 0, fmt.Errorf("%w: unknown bound strategy %q", core.ErrConfig, name)
	}
}

func (s Strategy) String() string {
	switch s {
	case StrategySummedArea:
		return "summed_area"
	case StrategyNaive:
		return "naive"
	default:
		return "unknown"
	}
}

// windowSummer answers "sum of the value over the window at p".
type windowSummer interface {
	total() float64
	window(p grid.Placement) float64
}

func (s Strategy) summer(h, w int, shape grid.WindowShape, value func(r, c int) float64) windowSummer {
	if s == StrategyNaive {
		return &naiveSummer{h: h, w: w, shape: shape, value: value}
	}
	return newSummedArea(h, w, shape, value)
}

// summedArea is an (h+1)×(w+1) integral image: sums[r][c] holds the sum of
// all cells above and left of (r, c), exclusive.
type summedArea struct {
	h, w   int
	stride int
	shape  grid.WindowShape
	sums   []float64
}

func newSummedArea(h, w int, shape grid.WindowShape, value func(r, c int) float64) *summedArea {
	stride := w + 1
	sums := make([]float64, (h+1)*stride)
	row := make([]float64, w)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			row[c] = value(r, c)
		}
		dst := sums[(r+1)*stride+1 : (r+2)*stride]
		floats.CumSum(dst, row)
		floats.Add(dst, sums[r*stride+1:(r+1)*stride])
	}
	return &summedArea{h: h, w: w, stride: stride, shape: shape, sums: sums}
}

func (s *summedArea) at(r, c int) float64 { return s.sums[r*s.stride+c] }

func (s *summedArea) total() float64 { return s.at(s.h, s.w) }

func (s *summedArea) window(p grid.Placement) float64 {
	r1, c1 := p.Row, p.Col
	r2, c2 := r1+s.shape.Height, c1+s.shape.Width
	return s.at(r2, c2) - s.at(r1, c2) - s.at(r2, c1) + s.at(r1, c1)
}

type naiveSummer struct {
	h, w  int
	shape grid.WindowShape
	value func(r, c int) float64
}

func (n *naiveSummer) total() float64 {
	var sum float64
	for r := 0; r < n.h; r++ {
		for c := 0; c < n.w; c++ {
			sum += n.value(r, c)
		}
	}
	return sum
}

func (n *naiveSummer) window(p grid.Placement) float64 {
	var sum float64
	for r := p.Row; r < p.Row+n.shape.Height; r++ {
		for c := p.Col; c < p.Col+n.shape.Width; c++ {
			sum += n.value(r, c)
		}
	}
	return sum
}

// windowExtremes returns the smallest and largest window sum over placements.
func windowExtremes(s windowSummer, placements []grid.Placement) (lo, hi float64) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, p := range placements {
		v := s.window(p)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
