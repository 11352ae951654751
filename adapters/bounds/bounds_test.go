package bounds

import (
	"math"
	"math/rand"
	"testing"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/internal/window"
	"patchcert/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func cloneVotes(g *grid.VoteGrid) *grid.VoteGrid {
	h, w, c := g.Dims()
	out := grid.NewVoteGrid(h, w, c)
	for r := 0; r < h; r++ {
		for col := 0; col < w; col++ {
			out.Set(r, col, g.At(r, col))
		}
	}
	return out
}

func voteGridFrom(t *testing.T, classes int, rows [][]int) *grid.VoteGrid {
	t.Helper()
	g := grid.NewVoteGrid(len(rows), len(rows[0]), classes)
	for r, row := range rows {
		for c, v := range row {
			if v >= 0 {
				g.Set(r, c, grid.VoteFor(v))
			}
		}
	}
	return g
}

// randomVotes fills an h×w grid with class votes, abstaining with probability
// roughly 1/(classes+1).
func randomVotes(rng *rand.Rand, h, w, classes int) *grid.VoteGrid {
	g := grid.NewVoteGrid(h, w, classes)
	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			if v := rng.Intn(classes + 1); v < classes {
				g.Set(r, c, grid.VoteFor(v))
			}
		}
	}
	return g
}

// randomEvidence draws scores as multiples of 1/4 in [0, clip] so that sums
// are exact in floating point.
func randomEvidence(t *testing.T, rng *rand.Rand, h, w, classes int, clip float64) *grid.Evidence {
	t.Helper()
	steps := int(clip * 4)
	data := make([]float64, h*w*classes)
	for i := range data {
		data[i] = float64(rng.Intn(steps+1)) / 4
	}
	e, err := grid.NewEvidence(h, w, classes, data)
	require.NoError(t, err)
	return e
}

func allShapes(h, w int) []grid.WindowShape {
	var out []grid.WindowShape
	for wh := 1; wh <= h; wh++ {
		for ww := 1; ww <= w; ww++ {
			out = append(out, grid.WindowShape{Height: wh, Width: ww})
		}
	}
	return out
}

func TestMasking_ThreeByThreeScenario(t *testing.T) {
	votes := voteGridFrom(t, 2, [][]int{
		{0, 0, 1},
		{0, 1, 1},
		{1, 1, 1},
	})
	provider, err := NewMaskingProvider(0)
	require.NoError(t, err)

	table, err := provider.VoteBounds(votes, grid.Square(1))
	require.NoError(t, err)

	// Masking any one of the three '0' cells leaves two zeros.
	minZeros := 9
	placements, err := window.Enumerate(3, 3, grid.Square(1))
	require.NoError(t, err)
	for _, p := range placements {
		if n := votes.TallyOutside(p, grid.Square(1))[0]; n < minZeros {
			minZeros = n
		}
	}
	assert.Equal(t, 2, minZeros)
	assert.Equal(t, float64(minZeros), table.Lower[0])

	assert.Equal(t, []float64{3, 6}, table.Clean)
	assert.Equal(t, 5.0, table.Lower[1])
	assert.Equal(t, 4.0, table.Upper[0])
	assert.Equal(t, 7.0, table.Upper[1])
	assert.Equal(t, verdict.ModelMasking, table.Model)
	assert.Equal(t, grid.Square(1), table.Window)
}

// enumerateAssignments calls fn with every assignment of `slots` values, each
// drawn from [0, base).
func enumerateAssignments(slots, base int, fn func(assign []int)) {
	assign := make([]int, slots)
	for {
		fn(assign)
		i := 0
		for ; i < slots; i++ {
			assign[i]++
			if assign[i] < base {
				break
			}
			assign[i] = 0
		}
		if i == slots {
			return
		}
	}
}

func TestMasking_SoundAgainstEveryWindowCorruption(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	provider, err := NewMaskingProvider(0)
	require.NoError(t, err)

	for trial := 0; trial < 6; trial++ {
		h, w, classes := 3, 3, 2+trial%2
		votes := randomVotes(rng, h, w, classes)

		for _, shape := range allShapes(h, w) {
			if shape.Area() > 6 && classes > 2 {
				continue // 4^9 assignments is more than this test needs
			}
			table, err := provider.VoteBounds(votes, shape)
			require.NoError(t, err)

			placements, err := window.Enumerate(h, w, shape)
			require.NoError(t, err)
			for _, p := range placements {
				// value `classes` encodes an abstention
				enumerateAssignments(shape.Area(), classes+1, func(assign []int) {
					corrupted := cloneVotes(votes)
					i := 0
					for r := p.Row; r < p.Row+shape.Height; r++ {
						for c := p.Col; c < p.Col+shape.Width; c++ {
							if assign[i] == classes {
								corrupted.Set(r, c, grid.Abstain())
							} else {
								corrupted.Set(r, c, grid.VoteFor(assign[i]))
							}
							i++
						}
					}

					masked := corrupted.TallyOutside(p, shape)
					full := corrupted.Tally()
					for class := 0; class < classes; class++ {
						for _, realized := range []int{masked[class], full[class]} {
							if float64(realized) < table.Lower[class] || float64(realized) > table.Upper[class] {
								t.Fatalf("class %d tally %d escapes [%v,%v] (window %v at %v)",
									class, realized, table.Lower[class], table.Upper[class], shape, p)
							}
						}
					}
				})
			}
		}
	}
}

func TestClipping_SoundAgainstExtremeWindowValues(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	const clip = 2.0
	provider, err := NewClippingProvider(clip)
	require.NoError(t, err)

	for trial := 0; trial < 4; trial++ {
		h, w, classes := 2, 3, 2
		evidence := randomEvidence(t, rng, h, w, classes, clip)
		cells := evidence.Cells()

		for _, shape := range allShapes(h, w) {
			table, err := provider.ComputeBounds(evidence, shape)
			require.NoError(t, err)

			placements, err := window.Enumerate(h, w, shape)
			require.NoError(t, err)
			for _, p := range placements {
				// Aggregates are linear in each score, so the extremes are
				// reached at vertices of [0, V]^(area·C); also check midpoints.
				enumerateAssignments(shape.Area()*classes, 3, func(assign []int) {
					sums := make([]float64, classes)
					i := 0
					for r := 0; r < h; r++ {
						for c := 0; c < w; c++ {
							for class := 0; class < classes; class++ {
								v := cells[r][c][class]
								if p.Contains(r, c, shape) {
									v = float64(assign[i]) * clip / 2
									i++
								}
								sums[class] += v
							}
						}
					}
					for class := range sums {
						if sums[class] < table.Lower[class]-eps || sums[class] > table.Upper[class]+eps {
							t.Fatalf("class %d sum %v escapes [%v,%v] (window %v at %v)",
								class, sums[class], table.Lower[class], table.Upper[class], shape, p)
						}
					}
				})
			}
		}
	}
}

func TestClipping_BoundsAreAttained(t *testing.T) {
	evidence, err := grid.FromCells([][][]float64{
		{{1, 0}, {0.5, 0.5}},
		{{0, 1}, {1, 0}},
	})
	require.NoError(t, err)
	provider, err := NewClippingProvider(1)
	require.NoError(t, err)

	table, err := provider.ComputeBounds(evidence, grid.Square(1))
	require.NoError(t, err)

	assert.Equal(t, []float64{2.5, 1.5}, table.Clean)
	assert.InDelta(t, 1.5, table.Lower[0], eps) // zero the (0,0) cell
	assert.InDelta(t, 0.5, table.Lower[1], eps) // zero the (1,0) cell
	assert.InDelta(t, 3.5, table.Upper[0], eps) // raise a 0-score cell to 1
	assert.InDelta(t, 2.5, table.Upper[1], eps)
}

func TestParseStrategy(t *testing.T) {
	for name, want := range map[string]Strategy{"": StrategySummedArea, "summed_area": StrategySummedArea, "naive": StrategyNaive} {
		got, err := ParseStrategy(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, got, name)
	}
	_, err := ParseStrategy("fft")
	assert.True(t, core.IsConfigError(err))
}

func TestStrategies_Agree(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for trial := 0; trial < 20; trial++ {
		h, w, classes := 2+rng.Intn(5), 2+rng.Intn(5), 2+rng.Intn(3)
		evidence := randomEvidence(t, rng, h, w, classes, 3)
		shape := grid.WindowShape{Height: 1 + rng.Intn(h), Width: 1 + rng.Intn(w)}

		for _, model := range []verdict.AdversaryModel{verdict.ModelMasking, verdict.ModelClipping} {
			params := Params{Model: model, Threshold: 0.5, ClipBound: 3}
			fast, err := NewProvider(params)
			require.NoError(t, err)
			slow, err := NewProvider(params, WithStrategy(StrategyNaive), WithCache(window.NewCache()))
			require.NoError(t, err)

			a, err := fast.ComputeBounds(evidence, shape)
			require.NoError(t, err)
			b, err := slow.ComputeBounds(evidence, shape)
			require.NoError(t, err)

			assert.InDeltaSlice(t, b.Lower, a.Lower, eps, "%s lower", model)
			assert.InDeltaSlice(t, b.Upper, a.Upper, eps, "%s upper", model)
			assert.InDeltaSlice(t, b.Clean, a.Clean, eps, "%s clean", model)
		}
	}
}

func TestBounds_OrderedAroundClean(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	masking, err := NewMaskingProvider(1)
	require.NoError(t, err)
	clipping, err := NewClippingProvider(2)
	require.NoError(t, err)

	for trial := 0; trial < 10; trial++ {
		evidence := randomEvidence(t, rng, 5, 4, 3, 2)
		for _, provider := range []ports.BoundProvider{masking, clipping} {
			table, err := provider.ComputeBounds(evidence, grid.WindowShape{Height: 2, Width: 3})
			require.NoError(t, err)
			for c := 0; c < table.Classes(); c++ {
				assert.LessOrEqual(t, table.Lower[c], table.Clean[c]+eps)
				assert.LessOrEqual(t, table.Clean[c], table.Upper[c]+eps)
			}
		}
	}
}

func TestProviders_Errors(t *testing.T) {
	_, err := NewClippingProvider(0)
	assert.True(t, core.IsConfigError(err))
	_, err = NewClippingProvider(-1)
	assert.True(t, core.IsConfigError(err))
	_, err = NewMaskingProvider(math.NaN())
	assert.True(t, core.IsConfigError(err))
	logits, err := NewMaskingProvider(-0.5)
	require.NoError(t, err)
	assert.Equal(t, -0.5, logits.Threshold())
	_, err = NewProvider(Params{Model: "median"})
	assert.ErrorIs(t, err, core.ErrAdversaryModel)

	evidence, err := grid.FromCells([][][]float64{{{0.2, 0.8}, {1.5, 0}}})
	require.NoError(t, err)

	clipping, err := NewClippingProvider(1)
	require.NoError(t, err)
	_, err = clipping.ComputeBounds(evidence, grid.Square(1))
	assert.True(t, core.IsNumericError(err), "score 1.5 exceeds V=1")

	masking, err := NewMaskingProvider(0)
	require.NoError(t, err)
	_, err = masking.ComputeBounds(evidence, grid.WindowShape{Height: 2, Width: 1})
	assert.True(t, core.IsConfigError(err))

	negative, err := grid.FromCells([][][]float64{{{-0.1, 0.5}}})
	require.NoError(t, err)
	_, err = clipping.ComputeBounds(negative, grid.Square(1))
	assert.ErrorIs(t, err, core.ErrScoreOutOfRange)
}

func TestMasking_AllAbstainGivesZeroTallies(t *testing.T) {
	evidence, err := grid.FromCells([][][]float64{
		{{0.1, 0.2}, {0.3, 0.1}},
		{{0.2, 0.2}, {0.0, 0.4}},
	})
	require.NoError(t, err)
	provider, err := NewMaskingProvider(0.9)
	require.NoError(t, err)

	table, err := provider.ComputeBounds(evidence, grid.Square(1))
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0}, table.Lower)
	assert.Equal(t, []float64{0, 0}, table.Clean)
	assert.Equal(t, []float64{1, 1}, table.Upper)
}
