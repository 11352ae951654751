package gridfile

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"patchcert/domain/core"
	"patchcert/domain/grid"
	"patchcert/internal/errors"
	"patchcert/ports"
)

// maxLineBytes bounds a single JSON record; a 28x28x1000 grid of floats fits.
const maxLineBytes = 64 << 20

// record is one line of a grid file.
type record struct {
	ID    string        `json:"id"`
	Label *int          `json:"label"`
	Grid  [][][]float64 `json:"grid"`
}

// Reader streams samples from a JSON-lines file, one evidence grid per line:
//
//	{"id": "img-001", "label": 3, "grid": [[[0.1, 0.9, ...], ...], ...]}
//
// Files ending in .gz are decompressed transparently. Blank lines are skipped.
// A missing id defaults to "line-N"; a missing label becomes -1, which only
// prediction accepts. Lines that do not decode into a grid are returned as
// samples carrying Err.
type Reader struct {
	path    string
	file    *os.File
	gz      *gzip.Reader
	scanner *bufio.Scanner
	line    int
}

var _ ports.GridSource = (*Reader)(nil)

// Open opens path for reading.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open grid file: %w", err)
	}
	r := &Reader{path: path, file: f}

	var src io.Reader = f
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", path, err)
		}
		r.gz = gz
		src = gz
	}
	r.scanner = bufio.NewScanner(src)
	r.scanner.Buffer(make([]byte, 0, 1<<20), maxLineBytes)
	return r, nil
}

// Next returns the next sample or io.EOF.
func (r *Reader) Next(ctx context.Context) (*ports.Sample, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return nil, fmt.Errorf("%s:%d: %w", r.path, r.line+1, err)
			}
			return nil, io.EOF
		}
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		return r.decode([]byte(text))
	}
}

// decode never fails: records that cannot be parsed or validated come back
// with Err set so one bad line does not end the stream.
func (r *Reader) decode(data []byte) (*ports.Sample, error) {
	sample := &ports.Sample{
		ID:    core.SampleID(fmt.Sprintf("line-%d", r.line)),
		Label: -1,
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		sample.Err = &errors.AppError{
			Code:    errors.CodeInvalidInput,
			Message: fmt.Sprintf("%s:%d: invalid record", r.path, r.line),
			Cause:   err,
		}
		return sample, nil
	}
	if rec.ID != "" {
		sample.ID = core.SampleID(rec.ID)
	}
	if rec.Label != nil {
		sample.Label = *rec.Label
	}

	evidence, err := grid.FromCells(rec.Grid)
	if err != nil {
		sample.Err = fmt.Errorf("%s:%d: %w", r.path, r.line, err)
		return sample, nil
	}
	sample.Evidence = evidence
	return sample, nil
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

