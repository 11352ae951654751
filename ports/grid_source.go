package ports

import (
	"context"

	"patchcert/domain/core"
	"patchcert/domain/grid"
)

// Sample is one labelled evidence grid produced by an external classifier.
// Err is set, and Evidence nil, when the source could read the record but
// not turn it into a grid.
type Sample struct {
	ID       core.SampleID
	Label    int
	Evidence *grid.Evidence
	Err      error
}

// GridSource yields samples in a stable order. Next returns io.EOF when the
// source is exhausted. A malformed record is returned as a Sample carrying
// Err; Next itself only fails when the source can no longer be read.
type GridSource interface {
	Next(ctx context.Context) (*Sample, error)
	Close() error
}
