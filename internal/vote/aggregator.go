package vote

import (
	"fmt"
	"math"

	"patchcert/domain/core"
	"patchcert/domain/grid"

	"gonum.org/v1/gonum/floats"
)

// Aggregate discretizes evidence into one vote per cell: the class with the
// highest score, ties going to the lowest class index. Cells whose highest
// score falls below a non-zero threshold abstain; scores may be logits, so
// negative thresholds are allowed. A threshold of zero never abstains,
// whatever the sign of the scores.
func Aggregate(evidence *grid.Evidence, threshold float64) (*grid.VoteGrid, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: got %g", core.ErrThreshold, threshold)
	}
	h, w, c := evidence.Dims()
	votes := grid.NewVoteGrid(h, w, c)

	for r := 0; r < h; r++ {
		for col := 0; col < w; col++ {
			scores := evidence.Cell(r, col)
			if floats.HasNaN(scores) {
				return nil, fmt.Errorf("%w: cell (%d,%d)", core.ErrScoreNaN, r, col)
			}
			best := floats.MaxIdx(scores)
			if threshold != 0 && scores[best] < threshold {
				continue
			}
			votes.Set(r, col, grid.VoteFor(best))
		}
	}
	return votes, nil
}
