package testkit

import (
	"fmt"
	"math/rand/v2"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/ports"

	"gonum.org/v1/gonum/stat/distuv"
)

// GridGeneratorConfig configures synthetic evidence grids
type GridGeneratorConfig struct {
	Samples    int     `json:"samples"`
	Height     int     `json:"height"`
	Width      int     `json:"width"`
	Classes    int     `json:"classes"`
	Confidence float64 `json:"confidence"` // probability a cell favors the sample's label
	PatchRate  float64 `json:"patch_rate"` // fraction of samples carrying a simulated patch
	PatchSize  int     `json:"patch_size"` // side of the simulated patch, in cells
	Seed       uint64  `json:"seed"`
}

// DefaultGridConfig mirrors a BagNet-17 feature map on 224px inputs.
func DefaultGridConfig() GridGeneratorConfig {
	return GridGeneratorConfig{
		Samples:    100,
		Height:     26,
		Width:      26,
		Classes:    10,
		Confidence: 0.7,
		PatchRate:  0.2,
		PatchSize:  6,
		Seed:       42,
	}
}

// Validate checks the config
func (c GridGeneratorConfig) Validate() error {
	if c.Samples < 0 || c.Height < 1 || c.Width < 1 {
		return fmt.Errorf("%w: %d samples of %dx%d", core.ErrConfig, c.Samples, c.Height, c.Width)
	}
	if c.Classes < 2 {
		return core.ErrTooFewClasses
	}
	if c.Confidence < 0 || c.Confidence > 1 || c.PatchRate < 0 || c.PatchRate > 1 {
		return fmt.Errorf("%w: confidence and patch rate must lie in [0,1]", core.ErrConfig)
	}
	if c.PatchRate > 0 && (c.PatchSize < 1 || c.PatchSize > c.Height || c.PatchSize > c.Width) {
		return fmt.Errorf("%w: patch size %d does not fit a %dx%d grid", core.ErrConfig, c.PatchSize, c.Height, c.Width)
	}
	return nil
}

// GridGenerator produces labelled evidence grids with scores in [0,1]. The
// same seed always yields the same samples.
type GridGenerator struct {
	config GridGeneratorConfig
	rng    *rand.Rand
	peak   distuv.Beta
}

// NewGridGenerator creates a new grid generator
func NewGridGenerator(config GridGeneratorConfig) (*GridGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	src := rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)
	return &GridGenerator{
		config: config,
		rng:    rand.New(src),
		// Peak scores are 0.5 + 0.5*Beta(8,2), mean 0.9.
		peak: distuv.Beta{Alpha: 8, Beta: 2, Src: rand.NewPCG(config.Seed+1, config.Seed)},
	}, nil
}

// Generate returns Samples samples with IDs "synthetic-0000", ...
func (g *GridGenerator) Generate() []*ports.Sample {
	samples := make([]*ports.Sample, g.config.Samples)
	for i := range samples {
		samples[i] = g.sample(i)
	}
	return samples
}

func (g *GridGenerator) sample(index int) *ports.Sample {
	cfg := g.config
	label := g.rng.IntN(cfg.Classes)
	data := make([]float64, cfg.Height*cfg.Width*cfg.Classes)

	for cell := 0; cell < cfg.Height*cfg.Width; cell++ {
		favored := label
		if g.rng.Float64() >= cfg.Confidence {
			favored = g.otherClass(label)
		}
		g.fillCell(data[cell*cfg.Classes:(cell+1)*cfg.Classes], favored, 0.5+0.5*g.peak.Rand())
	}

	if cfg.PatchRate > 0 && g.rng.Float64() < cfg.PatchRate {
		target := g.otherClass(label)
		row := g.rng.IntN(cfg.Height - cfg.PatchSize + 1)
		col := g.rng.IntN(cfg.Width - cfg.PatchSize + 1)
		for r := row; r < row+cfg.PatchSize; r++ {
			for c := col; c < col+cfg.PatchSize; c++ {
				cell := r*cfg.Width + c
				g.fillCell(data[cell*cfg.Classes:(cell+1)*cfg.Classes], target, 1)
			}
		}
	}

	evidence, err := grid.NewEvidence(cfg.Height, cfg.Width, cfg.Classes, data)
	if err != nil {
		// dimensions were validated up front
		panic(err)
	}
	return &ports.Sample{
		ID:       core.SampleID(fmt.Sprintf("synthetic-%04d", index)),
		Label:    label,
		Evidence: evidence,
	}
}

// fillCell gives favored the score peak (at least 0.5) and spreads at most
// the remaining mass over the other classes.
func (g *GridGenerator) fillCell(scores []float64, favored int, peak float64) {
	rest := 1 - peak
	for c := range scores {
		if c == favored {
			scores[c] = peak
			continue
		}
		scores[c] = rest * g.rng.Float64() / float64(len(scores)-1)
	}
}

func (g *GridGenerator) otherClass(label int) int {
	return (label + 1 + g.rng.IntN(g.config.Classes-1)) % g.config.Classes
}
