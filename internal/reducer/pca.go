// Package reducer holds the dimensionality reduction applied to lag-buffered
// reservoir features before regression.
package reducer

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"

	"rcflight/internal/linalg"
)

// PCA projects centred rows onto the leading right singular vectors of the
// training matrix. The zero value passes data through unchanged.
type PCA struct {
	mean       []float64
	components *mat.Dense // features×k
}

// FitPCA learns the column mean and the leading min(maxComponents, features)
// principal directions of x. Empty input yields a pass-through reducer.
func FitPCA(x *mat.Dense, maxComponents int) (*PCA, error) {
	rows, features := linalg.Dims(x)
	if rows == 0 || features == 0 || maxComponents <= 0 {
		return &PCA{}, nil
	}

	mean := linalg.ColumnMeans(x)
	centered := linalg.Centered(x, mean)

	var svd mat.SVD
	if ok := svd.Factorize(centered, mat.SVDFullV); !ok {
		return nil, errors.New("pca: svd factorization failed")
	}
	var v mat.Dense
	svd.VTo(&v)

	keep := min(maxComponents, features)
	components := mat.DenseCopyOf(v.Slice(0, features, 0, keep))
	return &PCA{mean: mean, components: components}, nil
}

// Components returns k, the reduced width.
func (p *PCA) Components() int {
	_, k := linalg.Dims(p.components)
	return k
}

// Features returns the input width the reducer was fit on.
func (p *PCA) Features() int {
	return len(p.mean)
}

func (p *PCA) passthrough() bool {
	return p == nil || p.Components() == 0
}

// Transform centres x with the fitted mean and projects it onto the
// components. It panics on a feature-count mismatch.
func (p *PCA) Transform(x *mat.Dense) *mat.Dense {
	if p.passthrough() || linalg.IsEmpty(x) {
		return x
	}
	_, c := x.Dims()
	if c != len(p.mean) {
		panic(fmt.Sprintf("reducer: feature mismatch: got=%d want=%d", c, len(p.mean)))
	}
	var out mat.Dense
	out.Mul(linalg.Centered(x, p.mean), p.components)
	return &out
}

// TransformRow is Transform for a single feature row.
func (p *PCA) TransformRow(row []float64) []float64 {
	if p.passthrough() || len(row) == 0 {
		return row
	}
	return linalg.Row(p.Transform(linalg.RowMatrix(row)), 0)
}

// ComponentMatrix returns a copy of the features×k component matrix.
func (p *PCA) ComponentMatrix() *mat.Dense {
	if linalg.IsEmpty(p.components) {
		return &mat.Dense{}
	}
	return mat.DenseCopyOf(p.components)
}

// Mean returns a copy of the fitted column mean.
func (p *PCA) Mean() []float64 {
	return append([]float64(nil), p.mean...)
}
