package bounds

import (
	"fmt"
	"math"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
)

// ClippingProvider bounds per-class score sums when every score lies in
// [0, V] and the attacker may rewrite all scores inside one window to any
// value in that range. With total(c) the clean sum and win(c,p) the sum inside
// placement p:
//
//	Lower[c] = total(c) - max_p win(c,p)
//	Upper[c] = max_p [total(c) - win(c,p)] + V·a
type ClippingProvider struct {
	clip float64
	opts options
}

// NewClippingProvider creates a clipping provider for scores in [0, clip].
func NewClippingProvider(clip float64, opts ...Option) (*ClippingProvider, error) {
	if !(clip > 0) || math.IsInf(clip, 0) {
		return nil, fmt.Errorf("%w: got %g", core.ErrClipBound, clip)
	}
	return &ClippingProvider{clip: clip, opts: buildOptions(opts)}, nil
}

func (p *ClippingProvider) Model() verdict.AdversaryModel { return verdict.ModelClipping }

// ClipBound returns V.
func (p *ClippingProvider) ClipBound() float64 { return p.clip }

// ComputeBounds validates that evidence respects [0, V] and bounds each
// class's aggregate score.
func (p *ClippingProvider) ComputeBounds(evidence *grid.Evidence, shape grid.WindowShape) (*verdict.BoundTable, error) {
	h, w, c := evidence.Dims()
	if err := shape.Validate(h, w); err != nil {
		return nil, err
	}
	if err := p.validateRange(evidence); err != nil {
		return nil, err
	}
	placements, err := p.opts.cache.Placements(h, w, shape)
	if err != nil {
		return nil, err
	}

	budget := p.clip * float64(shape.Area())
	table := verdict.NewBoundTable(verdict.ModelClipping, shape, c)
	for class := 0; class < c; class++ {
		score := func(r, col int) float64 { return evidence.At(r, col, class) }
		s := p.opts.strategy.summer(h, w, shape, score)
		total := s.total()
		minWin, maxWin := windowExtremes(s, placements)

		table.Clean[class] = total
		table.Lower[class] = total - maxWin
		table.Upper[class] = total - minWin + budget
	}
	return table, nil
}

func (p *ClippingProvider) validateRange(evidence *grid.Evidence) error {
	h, w, _ := evidence.Dims()
	for r := 0; r < h; r++ {
		for col := 0; col < w; col++ {
			for class, v := range evidence.Cell(r, col) {
				if math.IsNaN(v) {
					return fmt.Errorf("%w: cell (%d,%d) class %d", core.ErrScoreNaN, r, col, class)
				}
				if v < 0 || v > p.clip {
					return core.NewScoreRangeError(r, col, class, v, p.clip)
				}
			}
		}
	}
	return nil
}
