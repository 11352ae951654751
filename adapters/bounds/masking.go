package bounds

import (
	"fmt"
	"math"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/vote"
)

// MaskingProvider bounds per-class vote tallies when the attacker controls the
// votes of every cell inside one window. For a class c, with out_p[c] the
// votes for c outside placement p and a the window area:
//
//	Lower[c] = min_p out_p[c]
//	Upper[c] = max_p out_p[c] + a
//
// Lower holds whichever window the patch occupies, since masking that window
// leaves exactly out_p. Upper additionally lets every patched cell vote for c.
type MaskingProvider struct {
	threshold float64
	opts      options
}

// NewMaskingProvider creates a masking provider. Cells whose best score is
// below threshold abstain; zero disables abstention.
func NewMaskingProvider(threshold float64, opts ...Option) (*MaskingProvider, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: got %g", core.ErrThreshold, threshold)
	}
	return &MaskingProvider{threshold: threshold, opts: buildOptions(opts)}, nil
}

func (m *MaskingProvider) Model() verdict.AdversaryModel { return verdict.ModelMasking }

// Threshold returns the abstention threshold.
func (m *MaskingProvider) Threshold() float64 { return m.threshold }

// ComputeBounds discretizes evidence into votes and bounds their tallies.
func (m *MaskingProvider) ComputeBounds(evidence *grid.Evidence, shape grid.WindowShape) (*verdict.BoundTable, error) {
	if err := shape.Validate(evidence.Height(), evidence.Width()); err != nil {
		return nil, err
	}
	votes, err := vote.Aggregate(evidence, m.threshold)
	if err != nil {
		return nil, err
	}
	return m.VoteBounds(votes, shape)
}

// VoteBounds bounds the tallies of an already-discretized vote grid.
func (m *MaskingProvider) VoteBounds(votes *grid.VoteGrid, shape grid.WindowShape) (*verdict.BoundTable, error) {
	h, w, c := votes.Dims()
	if c < 2 {
		return nil, fmt.Errorf("%w: got %d", core.ErrTooFewClasses, c)
	}
	placements, err := m.opts.cache.Placements(h, w, shape)
	if err != nil {
		return nil, err
	}

	area := float64(shape.Area())
	table := verdict.NewBoundTable(verdict.ModelMasking, shape, c)
	if m.opts.strategy == StrategyNaive {
		naiveVoteBounds(table, votes, shape, placements)
		return table, nil
	}
	for class := 0; class < c; class++ {
		indicator := func(r, col int) float64 {
			if v, ok := votes.At(r, col).Class(); ok && v == class {
				return 1
			}
			return 0
		}
		s := m.opts.strategy.summer(h, w, shape, indicator)
		total := s.total()
		minIn, maxIn := windowExtremes(s, placements)

		table.Clean[class] = total
		table.Lower[class] = total - maxIn
		table.Upper[class] = total - minIn + area
	}
	return table, nil
}

// naiveVoteBounds recounts the outside tally of every placement directly.
func naiveVoteBounds(table *verdict.BoundTable, votes *grid.VoteGrid, shape grid.WindowShape, placements []grid.Placement) {
	area := float64(shape.Area())
	for class, n := range votes.Tally() {
		table.Clean[class] = float64(n)
		table.Lower[class] = math.Inf(1)
		table.Upper[class] = math.Inf(-1)
	}
	for _, p := range placements {
		for class, n := range votes.TallyOutside(p, shape) {
			out := float64(n)
			table.Lower[class] = math.Min(table.Lower[class], out)
			table.Upper[class] = math.Max(table.Upper[class], out+area)
		}
	}
}
