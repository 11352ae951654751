package bounds

import (
	"fmt"

	"patchcert/domain/core"
	"patchcert/domain/verdict"
	"patchcert/ports"
)

// Params carries the per-model knobs needed to build a provider.
type Params struct {
	Model     verdict.AdversaryModel
	Threshold float64 // masking only
	ClipBound float64 // clipping only
	Strategy  Strategy
}

// NewProvider builds the provider for params.Model. Options given here win
// over params.Strategy.
func NewProvider(params Params, opts ...Option) (ports.BoundProvider, error) {
	opts = append([]Option{WithStrategy(params.Strategy)}, opts...)
	switch params.Model {
	case verdict.ModelMasking:
		return NewMaskingProvider(params.Threshold, opts...)
	case verdict.ModelClipping:
		return NewClippingProvider(params.ClipBound, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrAdversaryModel, params.Model)
	}
}
