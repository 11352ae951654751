package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Configuration errors: raised before any bound computation, never clamped.
	ErrConfig         = errors.New("invalid configuration")
	ErrGridDimensions = fmt.Errorf("%w: grid dimensions", ErrConfig)
	ErrTooFewClasses  = fmt.Errorf("%w: at least two classes required", ErrConfig)
	ErrWindowShape    = fmt.Errorf("%w: window shape", ErrConfig)
	ErrClipBound      = fmt.Errorf("%w: clip bound must be positive", ErrConfig)
	ErrThreshold      = fmt.Errorf("%w: threshold must be finite", ErrConfig)
	ErrLabel          = fmt.Errorf("%w: label out of range", ErrConfig)
	ErrAdversaryModel = fmt.Errorf("%w: unknown adversary model", ErrConfig)

	// Numeric errors: evidence violating the adversary model's assumptions.
	ErrNumeric         = errors.New("numeric error")
	ErrScoreOutOfRange = fmt.Errorf("%w: score outside clip range", ErrNumeric)
	ErrScoreNaN        = fmt.Errorf("%w: score is NaN", ErrNumeric)
)

// Error constructors with context
func NewGridDimensionsError(h, w, c int) error {
	return fmt.Errorf("%w: got %dx%dx%d", ErrGridDimensions, h, w, c)
}

func NewWindowShapeError(wh, ww, h, w int) error {
	return fmt.Errorf("%w: %dx%d does not fit in %dx%d grid", ErrWindowShape, wh, ww, h, w)
}

func NewLabelError(label, classes int) error {
	return fmt.Errorf("%w: %d not in [0,%d)", ErrLabel, label, classes)
}

func NewScoreRangeError(row, col, class int, score, bound float64) error {
	return fmt.Errorf("%w: cell (%d,%d) class %d = %g not in [0,%g]", ErrScoreOutOfRange, row, col, class, score, bound)
}

// Error checking helpers
func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsNumericError(err error) bool {
	return errors.Is(err, ErrNumeric)
}
