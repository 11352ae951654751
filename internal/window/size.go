package window

import (
	"fmt"

	"patchcert/domain/core"
)

// CellsForPatch converts a square patch of patchSize pixels into the side
// length, in grid cells, of the block of cells whose receptive fields it can
// touch: ceil((patch + rf - 1) / stride).
func CellsForPatch(patchSize, receptiveField, stride int) (int, error) {
	if patchSize < 1 || receptiveField < 1 || stride < 1 {
		return 0, fmt.Errorf("%w: patch %d, receptive field %d, stride %d must be positive",
			core.ErrWindowShape, patchSize, receptiveField, stride)
	}
	span := patchSize + receptiveField - 1
	return (span + stride - 1) / stride, nil
}
