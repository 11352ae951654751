package app

import (
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
	"patchcert/ports"
)

// DefenseService certifies and defends single evidence grids against one
// fixed adversary model and window shape. It holds no per-call state and is
// safe for concurrent use.
type DefenseService struct {
	provider ports.BoundProvider
	window   grid.WindowShape
}

// NewDefenseService creates a new defense service
func NewDefenseService(provider ports.BoundProvider, window grid.WindowShape) *DefenseService {
	return &DefenseService{provider: provider, window: window}
}

// Model returns the adversary model the service reasons under.
func (s *DefenseService) Model() verdict.AdversaryModel { return s.provider.Model() }

// Window returns the window shape the service reasons about.
func (s *DefenseService) Window() grid.WindowShape { return s.window }

// Outcome bundles everything one call produces for a labelled input.
type Outcome struct {
	Verdict    verdict.Verdict
	Predicted  int
	Undefended int
}

// Bounds computes the bound table for evidence.
func (s *DefenseService) Bounds(evidence *grid.Evidence) (*verdict.BoundTable, error) {
	return s.provider.ComputeBounds(evidence, s.window)
}

// Certify computes bounds once and derives both the verdict for trueLabel and
// the robust prediction.
func (s *DefenseService) Certify(evidence *grid.Evidence, trueLabel int) (*Outcome, error) {
	bounds, err := s.Bounds(evidence)
	if err != nil {
		return nil, err
	}
	v, err := Certify(bounds, trueLabel)
	if err != nil {
		return nil, err
	}
	return &Outcome{
		Verdict:    v,
		Predicted:  Predict(bounds),
		Undefended: UndefendedPrediction(evidence),
	}, nil
}

// Predict returns the robust prediction for unlabelled evidence.
func (s *DefenseService) Predict(evidence *grid.Evidence) (int, *verdict.BoundTable, error) {
	bounds, err := s.Bounds(evidence)
	if err != nil {
		return 0, nil, err
	}
	return Predict(bounds), bounds, nil
}
