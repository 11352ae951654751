package grid

import (
	"fmt"

	"patchcert/domain/core"
)

// Evidence is an immutable H×W×C array of class scores, one score vector per
// spatial cell of a receptive-field-limited classifier. Scores are stored
// row-major: cell (row, col) occupies data[(row*W+col)*C : (row*W+col+1)*C].
type Evidence struct {
	h, w, c int
	data    []float64
}

// NewEvidence validates the dimensions and copies data into a new grid.
func NewEvidence(h, w, c int, data []float64) (*Evidence, error) {
	if h < 1 || w < 1 {
		return nil, core.NewGridDimensionsError(h, w, c)
	}
	if c < 2 {
		return nil, fmt.Errorf("%w: got %d", core.ErrTooFewClasses, c)
	}
	if len(data) != h*w*c {
		return nil, fmt.Errorf("%w: expected %d scores for %dx%dx%d, got %d",
			core.ErrGridDimensions, h*w*c, h, w, c, len(data))
	}
	owned := make([]float64, len(data))
	copy(owned, data)
	return &Evidence{h: h, w: w, c: c, data: owned}, nil
}

// FromCells builds a grid from nested [row][col][class] scores. Every cell must
// carry the same number of classes.
func FromCells(cells [][][]float64) (*Evidence, error) {
	h := len(cells)
	if h == 0 {
		return nil, core.NewGridDimensionsError(0, 0, 0)
	}
	w := len(cells[0])
	if w == 0 {
		return nil, core.NewGridDimensionsError(h, 0, 0)
	}
	c := len(cells[0][0])

	data := make([]float64, 0, h*w*c)
	for r, row := range cells {
		if len(row) != w {
			return nil, fmt.Errorf("%w: row %d has %d cells, expected %d", core.ErrGridDimensions, r, len(row), w)
		}
		for col, scores := range row {
			if len(scores) != c {
				return nil, fmt.Errorf("%w: cell (%d,%d) has %d classes, expected %d",
					core.ErrGridDimensions, r, col, len(scores), c)
			}
			data = append(data, scores...)
		}
	}
	return NewEvidence(h, w, c, data)
}

// Dims returns height, width and class count.
func (e *Evidence) Dims() (h, w, c int) { return e.h, e.w, e.c }

func (e *Evidence) Height() int  { return e.h }
func (e *Evidence) Width() int   { return e.w }
func (e *Evidence) Classes() int { return e.c }

// At returns the score of class at cell (row, col).
func (e *Evidence) At(row, col, class int) float64 {
	return e.data[(row*e.w+col)*e.c+class]
}

// Cell returns the score vector of cell (row, col). The slice aliases the
// grid's storage and must not be modified.
func (e *Evidence) Cell(row, col int) []float64 {
	off := (row*e.w + col) * e.c
	return e.data[off : off+e.c : off+e.c]
}

// Cells returns a deep copy in [row][col][class] form.
func (e *Evidence) Cells() [][][]float64 {
	out := make([][][]float64, e.h)
	for r := 0; r < e.h; r++ {
		out[r] = make([][]float64, e.w)
		for col := 0; col < e.w; col++ {
			out[r][col] = append([]float64(nil), e.Cell(r, col)...)
		}
	}
	return out
}

// WindowShape is the size, in grid cells, of the block a single patch can
// influence.
type WindowShape struct {
	Height int `json:"height" yaml:"height"`
	Width  int `json:"width" yaml:"width"`
}

// Square returns a size×size window.
func Square(size int) WindowShape { return WindowShape{Height: size, Width: size} }

// Area is the number of cells covered by the window.
func (s WindowShape) Area() int { return s.Height * s.Width }

// Validate checks that the window is positive and fits in an h×w grid.
func (s WindowShape) Validate(h, w int) error {
	if h < 1 || w < 1 {
		return core.NewGridDimensionsError(h, w, 0)
	}
	if s.Height < 1 || s.Width < 1 || s.Height > h || s.Width > w {
		return core.NewWindowShapeError(s.Height, s.Width, h, w)
	}
	return nil
}

func (s WindowShape) String() string { return fmt.Sprintf("%dx%d", s.Height, s.Width) }

// Placement is the top-left offset of one window position.
type Placement struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Contains reports whether cell (row, col) lies inside the window of the given
// shape placed at p.
func (p Placement) Contains(row, col int, shape WindowShape) bool {
	return row >= p.Row && row < p.Row+shape.Height && col >= p.Col && col < p.Col+shape.Width
}
