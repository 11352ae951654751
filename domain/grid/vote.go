package grid

import "fmt"

// Vote is a cell's discrete opinion: either a class label or an abstention.
// The zero value is an abstention, so an unset cell never counts for class 0.
type Vote struct {
	class int
	cast  bool
}

// VoteFor returns a vote for class c.
func VoteFor(c int) Vote { return Vote{class: c, cast: true} }

// Abstain returns an abstaining vote.
func Abstain() Vote { return Vote{} }

// Class returns the voted class and true, or (0, false) for an abstention.
func (v Vote) Class() (int, bool) { return v.class, v.cast }

// IsAbstain reports whether the cell abstained.
func (v Vote) IsAbstain() bool { return !v.cast }

func (v Vote) String() string {
	if !v.cast {
		return "abstain"
	}
	return fmt.Sprintf("%d", v.class)
}

// VoteGrid is the per-cell vote discretization of an Evidence grid.
type VoteGrid struct {
	h, w, c int
	votes   []Vote
}

// NewVoteGrid allocates an h×w grid over c classes with every cell abstaining.
func NewVoteGrid(h, w, c int) *VoteGrid {
	return &VoteGrid{h: h, w: w, c: c, votes: make([]Vote, h*w)}
}

func (g *VoteGrid) Dims() (h, w, c int) { return g.h, g.w, g.c }

func (g *VoteGrid) At(row, col int) Vote { return g.votes[row*g.w+col] }

func (g *VoteGrid) Set(row, col int, v Vote) { g.votes[row*g.w+col] = v }

// Tally counts votes per class over the whole grid. Abstentions are skipped.
func (g *VoteGrid) Tally() []int {
	counts := make([]int, g.c)
	for _, v := range g.votes {
		if c, ok := v.Class(); ok {
			counts[c]++
		}
	}
	return counts
}

// TallyOutside counts votes per class over cells not covered by the window of
// the given shape at p.
func (g *VoteGrid) TallyOutside(p Placement, shape WindowShape) []int {
	counts := make([]int, g.c)
	for r := 0; r < g.h; r++ {
		for col := 0; col < g.w; col++ {
			if p.Contains(r, col, shape) {
				continue
			}
			if c, ok := g.At(r, col).Class(); ok {
				counts[c]++
			}
		}
	}
	return counts
}
