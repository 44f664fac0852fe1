// Package sparse provides the two sparse matrix backends used to hold the
// relocation design matrix. Both store entries keyed by (row, col) and
// accumulate products in row-major key order, so they give bit-identical
// results for the same contents.
package sparse

import (
	"fmt"
)

// DefaultThreshold is the rows×cols size above which New picks the COO
// backend.
const DefaultThreshold = 10_000_000

// Matrix is a fixed-size sparse matrix.
type Matrix interface {
	// Dims returns the number of rows and columns.
	Dims() (r, c int)
	// At returns the entry at (i, j), or 0 when absent.
	At(i, j int) (float64, error)
	// Set overwrites the entry at (i, j). Setting zero removes it.
	Set(i, j int, v float64) error
	// MulVec returns A·x.
	MulVec(x []float64) ([]float64, error)
	// MulTransVec returns Aᵗ·x.
	MulTransVec(x []float64) ([]float64, error)
	// NNZ returns the number of stored entries.
	NNZ() int
}

// IndexError reports an out-of-range row or column.
type IndexError struct {
	Row, Col   int
	Rows, Cols int
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("sparse: index (%d, %d) out of range for %dx%d matrix", e.Row, e.Col, e.Rows, e.Cols)
}

// DimensionError reports a vector whose length does not fit the matrix.
type DimensionError struct {
	Op        string
	Got, Want int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("sparse: %s: vector length %d, want %d", e.Op, e.Got, e.Want)
}

// New returns a hashed matrix, or a COO matrix when rows×cols exceeds
// threshold. A threshold ≤ 0 selects DefaultThreshold.
func New(rows, cols int, threshold int64) Matrix {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if UseCOO(rows, cols, threshold) {
		return NewCOO(rows, cols)
	}
	return NewDOK(rows, cols)
}

// UseCOO is the backend selection predicate used by New.
func UseCOO(rows, cols int, threshold int64) bool {
	return int64(rows)*int64(cols) > threshold
}

type index struct {
	row, col int
}

func (a index) less(b index) bool {
	if a.row != b.row {
		return a.row < b.row
	}
	return a.col < b.col
}

func checkIndex(i, j, rows, cols int) error {
	if i < 0 || i >= rows || j < 0 || j >= cols {
		return &IndexError{Row: i, Col: j, Rows: rows, Cols: cols}
	}
	return nil
}
