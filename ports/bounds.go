package ports

import (
	"patchcert/domain/grid"
	"patchcert/domain/verdict"
)

// BoundProvider computes per-class worst/best-case aggregate support of an
// evidence grid under one single-window adversary model. Implementations are
// pure and safe for concurrent use.
type BoundProvider interface {
	Model() verdict.AdversaryModel
	ComputeBounds(evidence *grid.Evidence, window grid.WindowShape) (*verdict.BoundTable, error)
}
