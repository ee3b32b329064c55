// Package linalg holds the small matrix helpers shared by the reservoir,
// reducer and regression packages on top of gonum.
//
// gonum cannot allocate matrices with a zero dimension, so every helper here
// represents a degenerate shape as the zero value of mat.Dense (IsEmpty).
package linalg

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"rcflight/internal/model"
)

// Zeros returns an r×c zero matrix, or an empty matrix when either dimension
// is zero.
func Zeros(r, c int) *mat.Dense {
	if r <= 0 || c <= 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(r, c, nil)
}

func IsEmpty(m *mat.Dense) bool {
	return m == nil || m.IsEmpty()
}

// Dims is mat.Dense.Dims that tolerates nil.
func Dims(m *mat.Dense) (int, int) {
	if m == nil {
		return 0, 0
	}
	return m.Dims()
}

// RowMatrix wraps a copy of row as a 1×len(row) matrix.
func RowMatrix(row []float64) *mat.Dense {
	if len(row) == 0 {
		return &mat.Dense{}
	}
	return mat.NewDense(1, len(row), append([]float64(nil), row...))
}

// Row returns a copy of row i.
func Row(m *mat.Dense, i int) []float64 {
	return mat.Row(nil, i, m)
}

// HStack concatenates left and right column-wise.
func HStack(left, right *mat.Dense) *mat.Dense {
	if IsEmpty(right) {
		return left
	}
	if IsEmpty(left) {
		return right
	}
	lr, lc := left.Dims()
	rr, rc := right.Dims()
	if lr != rr {
		panic(fmt.Sprintf("linalg: hstack row count mismatch: left=%d right=%d", lr, rr))
	}
	out := mat.NewDense(lr, lc+rc, nil)
	out.Slice(0, lr, 0, lc).(*mat.Dense).Copy(left)
	out.Slice(0, lr, lc, lc+rc).(*mat.Dense).Copy(right)
	return out
}

// VStack concatenates the non-empty blocks row-wise.
func VStack(blocks []*mat.Dense) *mat.Dense {
	rows, cols := 0, -1
	for _, b := range blocks {
		if IsEmpty(b) {
			continue
		}
		r, c := b.Dims()
		if cols >= 0 && c != cols {
			panic(fmt.Sprintf("linalg: vstack column mismatch: got=%d want=%d", c, cols))
		}
		cols = c
		rows += r
	}
	if rows == 0 {
		return &mat.Dense{}
	}
	out := mat.NewDense(rows, cols, nil)
	offset := 0
	for _, b := range blocks {
		if IsEmpty(b) {
			continue
		}
		r, _ := b.Dims()
		out.Slice(offset, offset+r, 0, cols).(*mat.Dense).Copy(b)
		offset += r
	}
	return out
}

// ColumnMeans returns the mean of each column.
func ColumnMeans(m *mat.Dense) []float64 {
	_, c := Dims(m)
	means := make([]float64, c)
	for j := 0; j < c; j++ {
		means[j] = stat.Mean(mat.Col(nil, j, m), nil)
	}
	return means
}

// Centered returns a copy of m with means subtracted column-wise.
func Centered(m *mat.Dense, means []float64) *mat.Dense {
	var out mat.Dense
	out.CloneFrom(m)
	r, c := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		for j := 0; j < c; j++ {
			row[j] -= means[j]
		}
	}
	return &out
}

// ToRecord converts m into its wire form.
func ToRecord(m *mat.Dense) model.Matrix {
	r, c := Dims(m)
	if r == 0 || c == 0 {
		return model.Matrix{Rows: r, Cols: c}
	}
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return model.Matrix{Rows: r, Cols: c, Data: data}
}

// FromRecord rebuilds a dense matrix from its wire form.
func FromRecord(rec model.Matrix) (*mat.Dense, error) {
	if rec.Rows == 0 || rec.Cols == 0 {
		return &mat.Dense{}, nil
	}
	if rec.Rows < 0 || rec.Cols < 0 || len(rec.Data) != rec.Rows*rec.Cols {
		return nil, fmt.Errorf("matrix record shape %dx%d does not match %d values", rec.Rows, rec.Cols, len(rec.Data))
	}
	return mat.NewDense(rec.Rows, rec.Cols, append([]float64(nil), rec.Data...)), nil
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Linspace returns steps evenly spaced values from start to end inclusive.
func Linspace(start, end float64, steps int) ([]float64, error) {
	if steps < 2 {
		return nil, fmt.Errorf("linspace requires at least 2 steps, got %d", steps)
	}
	step := (end - start) / float64(steps-1)
	out := make([]float64, steps)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out, nil
}
